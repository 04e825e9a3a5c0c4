package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/me/exportq/pkg/model"
)

// waitDelay bounds how long Wait keeps reading stderr after the process
// exits, in case a child inherited the pipe.
const waitDelay = 2 * time.Second

// CommandSpec describes a local process.
type CommandSpec struct {
	Name string
	Argv []string
	Dir  string
	Env  map[string]string
}

// CommandTask runs a local process. The process outlives the Start call and
// is only bounded by Cancel.
type CommandTask struct {
	spec   CommandSpec
	logger *slog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	state    model.TaskState
	exitCode int
	stderr   bytes.Buffer
	doneCh   chan struct{}
}

// NewCommand returns an unstarted CommandTask.
func NewCommand(spec CommandSpec, logger *slog.Logger) *CommandTask {
	if spec.Name == "" && len(spec.Argv) > 0 {
		spec.Name = spec.Argv[0]
	}
	return &CommandTask{
		spec:   spec,
		logger: logger.With("component", "command-task", "task", spec.Name),
		state:  model.TaskStateUnsubmitted,
		doneCh: make(chan struct{}),
	}
}

// Start launches the process without waiting for it.
func (c *CommandTask) Start(ctx context.Context) error {
	if len(c.spec.Argv) == 0 {
		return fmt.Errorf("task %s: command is empty", c.spec.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd != nil {
		return ErrAlreadyStarted
	}

	cmd := exec.Command(c.spec.Argv[0], c.spec.Argv[1:]...)
	cmd.Dir = c.spec.Dir
	if len(c.spec.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	cmd.Stderr = &lockedWriter{mu: &c.mu, buf: &c.stderr}
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("task %s: start command: %w", c.spec.Name, err)
	}
	c.cmd = cmd
	c.state = model.TaskStateRunning
	c.logger.Debug("process started", "pid", cmd.Process.Pid)

	go c.wait()
	return nil
}

func (c *CommandTask) wait() {
	err := c.cmd.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(c.doneCh)

	var exitErr *exec.ExitError
	switch {
	case c.state == model.TaskStateCancelled:
	case err == nil:
		c.state = model.TaskStateCompleted
	case errors.As(err, &exitErr):
		c.exitCode = exitErr.ExitCode()
		c.state = model.TaskStateFailed
	default:
		c.exitCode = -1
		c.state = model.TaskStateFailed
	}
	c.logger.Debug("process exited", "state", c.state, "exit_code", c.exitCode)
}

// Cancel kills the process and waits for it to exit or ctx to end.
func (c *CommandTask) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.cmd == nil {
		c.state = model.TaskStateCancelled
		c.mu.Unlock()
		return nil
	}
	if c.state.IsFinished() {
		c.mu.Unlock()
		return nil
	}
	c.state = model.TaskStateCancelled
	proc := c.cmd.Process
	c.mu.Unlock()

	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("task %s: kill: %w", c.spec.Name, err)
	}
	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports the process state. Failed processes carry their exit code
// and the last line of stderr in the description.
func (c *CommandTask) Status(ctx context.Context) (model.TaskStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	desc := c.spec.Name
	if c.state == model.TaskStateFailed {
		desc = fmt.Sprintf("%s (exit %d)", c.spec.Name, c.exitCode)
		if tail := lastLine(c.stderr.String()); tail != "" {
			desc += ": " + tail
		}
	}
	return model.TaskStatus{State: c.state, Description: desc}, nil
}

// Describe returns the task name.
func (c *CommandTask) Describe() string {
	return c.spec.Name
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

// lockedWriter appends to buf under mu. The process writes stderr from its
// own goroutine.
type lockedWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
