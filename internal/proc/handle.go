// Package proc starts minion processes and controls them from the outside:
// liveness checks and forced kills of the whole process group.
package proc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

type StderrFunc func(ctx context.Context, line string)

type Command struct {
	Path   string
	Args   []string
	Env    []string
	Dir    string
	Stdout io.Writer
}

type Result struct {
	Pid     int
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Err     error
}

// Handle is a started process. It is safe for concurrent use.
type Handle struct {
	cmd     *exec.Cmd
	pid     int
	started time.Time
	exited  chan struct{}

	mx     sync.Mutex
	result Result
	waits  []chan Result
}

// Start runs the command in its own process group and returns without
// waiting for it. stderr lines are passed to stderrFunc when not nil.
// Canceling ctx kills the process group.
func Start(ctx context.Context, proto Command, stderrFunc StderrFunc) (*Handle, error) {
	h := &Handle{exited: make(chan struct{})}

	cmd := exec.CommandContext(ctx, proto.Path, proto.Args...)
	h.cmd = cmd
	cmd.Env = slices.Clone(proto.Env)
	cmd.Dir = proto.Dir
	cmd.Stdout = proto.Stdout
	cmd.Cancel = h.Kill
	cmd.WaitDelay = time.Second
	setpgid(cmd)

	var stderr io.ReadCloser
	if stderrFunc != nil {
		var err error
		stderr, err = cmd.StderrPipe()
		if err != nil {
			return nil, err
		}
	}

	h.started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	h.pid = cmd.Process.Pid
	h.result = Result{Pid: h.pid, Started: h.started}
	slog.DebugContext(ctx, "process started", "path", proto.Path, "pid", h.pid)

	if stderr != nil {
		go processStderr(ctx, stderr, stderrFunc)
	}
	go h.wait()
	return h, nil
}

func processStderr(ctx context.Context, stderr io.Reader, stderrFunc StderrFunc) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		stderrFunc(ctx, scanner.Text())
	}
	err := scanner.Err()
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
		slog.ErrorContext(ctx, "processing stderr", "error", err)
	}
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	stopped := time.Now().UTC()

	h.mx.Lock()
	defer h.mx.Unlock()
	h.result.Stopped = stopped
	h.result.State = h.cmd.ProcessState
	h.result.Err = err
	close(h.exited)
	for _, ch := range h.waits {
		ch <- h.result
		close(ch)
	}
	h.waits = nil
}

func (h *Handle) Pid() int {
	return h.pid
}

// Wait returns a channel receiving the exit result. The channel is closed
// after the result is delivered.
func (h *Handle) Wait() <-chan Result {
	ch := make(chan Result, 1)
	h.mx.Lock()
	defer h.mx.Unlock()
	select {
	case <-h.exited:
		ch <- h.result
		close(ch)
	default:
		h.waits = append(h.waits, ch)
	}
	return ch
}

// IsAlive reports whether the process is still running. A process that
// exited but was not reaped yet counts as dead.
func (h *Handle) IsAlive() bool {
	select {
	case <-h.exited:
		return false
	default:
	}
	p, err := process.NewProcess(int32(h.pid))
	if err != nil {
		return false
	}
	status, err := p.Status()
	if err != nil {
		// no status on this platform, existence is all we know
		return true
	}
	return !slices.Contains(status, process.Zombie)
}

// Kill sends SIGKILL to the process group. Killing an exited process is
// not an error.
func (h *Handle) Kill() error {
	select {
	case <-h.exited:
		return nil
	default:
	}
	err := killGroup(h.cmd.Process.Pid)
	if err == nil {
		return nil
	}
	err = h.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Process is what a supervisor needs from a started minion.
type Process interface {
	Pid() int
	IsAlive() bool
	Kill() error
}

var _ Process = (*Handle)(nil)
