package minion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/CZERTAINLY/Mutiny/internal/model"
)

// Executor runs one test against one mutant.
type Executor interface {
	Execute(ctx context.Context, cmd model.Command) model.ExecutionStatus
}

// NewExecutor picks the executor named by the engine id.
func NewExecutor(shared model.SharedConfig, output io.Writer) (Executor, error) {
	switch shared.EngineID {
	case model.EngineExec:
		return NewExec(shared.Settings, output)
	case model.EngineNoop:
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unsupported engine %q", shared.EngineID)
	}
}

type Noop struct{}

func (Noop) Execute(context.Context, model.Command) model.ExecutionStatus {
	return model.StatusTestPassed
}

// Exec runs a shell command per test, the test and the mutant are passed
// in MUTINY_* environment variables.
type Exec struct {
	command        string
	memoryExitCode int
	output         io.Writer
}

func NewExec(settings map[string]string, output io.Writer) (*Exec, error) {
	command := settings["command"]
	if command == "" {
		return nil, errors.New("exec engine: settings.command is empty")
	}
	e := &Exec{command: command, output: output}
	if e.output == nil {
		e.output = os.Stderr
	}
	if s, ok := settings["memory_exit_code"]; ok {
		code, err := strconv.Atoi(s)
		if err != nil || code <= 0 {
			return nil, fmt.Errorf("exec engine: settings.memory_exit_code %q is not a positive number", s)
		}
		e.memoryExitCode = code
	}
	return e, nil
}

func (e *Exec) Execute(ctx context.Context, cmd model.Command) model.ExecutionStatus {
	c := exec.CommandContext(ctx, "sh", "-c", e.command)
	c.Env = append(os.Environ(), Environ(cmd)...)
	c.Stdout = e.output
	c.Stderr = e.output

	err := c.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return model.StatusTestPassed
	case errors.As(err, &exitErr):
		code := exitErr.ExitCode()
		switch {
		case code < 0:
			slog.WarnContext(ctx, "test terminated by a signal", "test", cmd.Test.String(), "state", exitErr.String())
			return model.StatusUnexpectedError
		case e.memoryExitCode != 0 && code == e.memoryExitCode:
			return model.StatusMemoryError
		default:
			return model.StatusTestFailed
		}
	default:
		slog.ErrorContext(ctx, "test did not start", "test", cmd.Test.String(), "error", err)
		return model.StatusUnexpectedError
	}
}

// Environ describes a command for the test process.
func Environ(cmd model.Command) []string {
	return []string{
		"MUTINY_MUTATION=" + cmd.Mutation.String(),
		"MUTINY_CLASS=" + cmd.Mutation.Class,
		"MUTINY_METHOD=" + cmd.Mutation.Method,
		"MUTINY_MUTATOR=" + cmd.Mutation.Mutator,
		"MUTINY_INDEX=" + strconv.Itoa(cmd.Mutation.Index),
		"MUTINY_TEST_CLASS=" + cmd.Test.Class,
		"MUTINY_TEST_NAME=" + cmd.Test.Name,
	}
}
