package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/rs/zerolog"
)

// ExitStatus describes how a process ended
type ExitStatus struct {
	Code int
	Err  error
}

// Success reports a clean zero exit
func (e ExitStatus) Success() bool {
	return e.Code == 0 && e.Err == nil
}

// Process is one supervised OS-level process or container
type Process interface {
	// Start launches the process and returns once it is running
	Start(ctx context.Context) error
	// Wait blocks until the process exits. Safe to call from several goroutines.
	Wait() ExitStatus
	// Stop asks the process to terminate, forcing it after grace
	Stop(ctx context.Context, grace time.Duration) error
}

// ExecSpec is the command line of an ExecProcess. Building it is left to the caller.
type ExecSpec struct {
	Path string
	Args []string
	Env  map[string]string
	Dir  string
}

// ExecProcess runs a local command
type ExecProcess struct {
	spec   ExecSpec
	logger zerolog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	done   chan struct{}
	status ExitStatus
}

// NewExecProcess creates a process that has not been started yet
func NewExecProcess(spec ExecSpec) *ExecProcess {
	return &ExecProcess{
		spec:   spec,
		logger: log.WithComponent("process").With().Str("path", spec.Path).Logger(),
		done:   make(chan struct{}),
	}
}

func (p *ExecProcess) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return errors.New("process already started")
	}

	// not CommandContext: the process outlives the start request
	cmd := exec.Command(p.spec.Path, p.spec.Args...)
	cmd.Dir = p.spec.Dir
	cmd.Env = os.Environ()
	for k, v := range p.spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = p.logger
	cmd.Stderr = p.logger
	// orphaned children must not keep Wait blocked on the output pipes
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.spec.Path, err)
	}
	p.cmd = cmd

	p.logger.Info().Int("pid", cmd.Process.Pid).Msg("Process started")

	go func() {
		err := cmd.Wait()
		st := ExitStatus{}
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			st.Code = exitErr.ExitCode()
		case err != nil:
			st.Code = -1
			st.Err = err
		}

		p.mu.Lock()
		p.status = st
		p.mu.Unlock()
		close(p.done)
	}()

	return nil
}

func (p *ExecProcess) Wait() ExitStatus {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Stop sends SIGTERM, then SIGKILL if the process is still alive after grace
// or when ctx is cancelled.
func (p *ExecProcess) Stop(ctx context.Context, grace time.Duration) error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()

	if cmd == nil {
		return errors.New("process not started")
	}

	select {
	case <-p.done:
		return nil
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to signal process: %w", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	p.logger.Warn().Dur("grace", grace).Msg("Process did not exit, killing")
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process: %w", err)
	}
	<-p.done
	return nil
}
