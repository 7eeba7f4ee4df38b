// Package minion is the worker side: say hello, then pull commands, run
// them and report the outcome until told to die.
package minion

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/CZERTAINLY/Mutiny/internal/model"
)

type Client interface {
	Hello(ctx context.Context) (model.SharedConfig, error)
	Pull(ctx context.Context) (model.Command, error)
	Report(ctx context.Context, cmd model.Command, status model.ExecutionStatus) error
}

// Run drives the minion until the controller sends DIE. Test output goes
// to output.
func Run(ctx context.Context, client Client, output io.Writer) error {
	shared, err := client.Hello(ctx)
	if err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	executor, err := NewExecutor(shared, output)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "minion ready", "engine", shared.EngineID)
	return Loop(ctx, client, executor)
}

// Loop pulls and executes commands with an already configured executor.
func Loop(ctx context.Context, client Client, executor Executor) error {
	for {
		cmd, err := client.Pull(ctx)
		if err != nil {
			return fmt.Errorf("pull: %w", err)
		}

		var status model.ExecutionStatus
		switch cmd.Action {
		case model.ActionAnalyse:
			slog.DebugContext(ctx, "analysing", "mutation", cmd.Mutation.String(), "test", cmd.Test.String())
			status = executor.Execute(ctx, cmd)
		case model.ActionDie:
			status = model.StatusTestPassed
		default:
			return fmt.Errorf("command %s: %w", cmd.Action, model.ErrProtocol)
		}

		if err := client.Report(ctx, cmd, status); err != nil {
			return fmt.Errorf("report: %w", err)
		}
		if cmd.Action == model.ActionDie {
			slog.DebugContext(ctx, "minion done")
			return nil
		}
	}
}
