package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Config tunes a child process.
type Config struct {
	// Buffer is the capacity of the stdout line queue.
	Buffer int
	// StopTimeout is how long Stop waits after SIGTERM before the process is
	// killed.
	StopTimeout time.Duration
	Logger      *slog.Logger
}

// Process is a running child whose stdout is read as lines and whose stdin
// accepts commands.
type Process struct {
	*Lines

	name   string
	cmd    *exec.Cmd
	logger *slog.Logger

	mu    sync.Mutex
	stdin io.WriteCloser

	stopTimeout time.Duration
	stopOnce    sync.Once
	waitErr     error
}

// Start spawns name with args. Cancelling ctx kills the process.
func Start(ctx context.Context, cfg Config, name string, args ...string) (*Process, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 3 * time.Second
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = stopTimeout

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%s stdin: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%s stdout: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	logger = logger.With("process", name, "pid", cmd.Process.Pid)
	logger.Info("process started", "args", args)

	return &Process{
		Lines:  NewReader(stdout, cfg.Buffer),
		name:   name,
		cmd:    cmd,
		logger: logger,
		stdin:  stdin,

		stopTimeout: stopTimeout,
	}, nil
}

// Send writes line followed by a newline to the process's stdin.
func (p *Process) Send(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stdin == nil {
		return fmt.Errorf("%s: stdin closed", p.name)
	}
	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		return fmt.Errorf("%s: send %q: %w", p.name, line, err)
	}
	p.logger.Debug("sent command", "command", line)
	return nil
}

// Stop terminates the process and waits for it and its reader goroutine to
// exit. An exit caused by the stop signal is not an error. Safe to call more
// than once; later calls return the first result.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		if p.stdin != nil {
			_ = p.stdin.Close()
			p.stdin = nil
		}
		p.mu.Unlock()

		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			p.logger.Debug("signal process", "error", err)
		}
		kill := time.AfterFunc(p.stopTimeout, func() {
			p.logger.Warn("process ignored SIGTERM, killing")
			_ = p.cmd.Process.Kill()
		})
		defer kill.Stop()

		// Unblock the reader if the queue is full, then collect the child.
		p.Lines.halt()
		p.waitErr = ignoreTerminated(p.cmd.Wait())
		<-p.Lines.done

		p.logger.Info("process stopped", "error", p.waitErr)
	})
	return p.waitErr
}

func ignoreTerminated(err error) error {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return err
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() && ws.Signal() == syscall.SIGTERM {
		return nil
	}
	return err
}
