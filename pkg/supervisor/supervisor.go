package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/rs/zerolog"
)

// Poller is the background health loop run next to the process
type Poller interface {
	Run(ctx context.Context)
	Stop()
}

// Hooks are the node-specific parts of the supervision lifecycle
type Hooks struct {
	// PreStop runs before the process is terminated. Failure is logged only.
	PreStop func(ctx context.Context) error
	// OnExit runs exactly once when the process exits, for whatever reason
	OnExit func(ExitStatus)
}

// Config holds supervisor timing
type Config struct {
	DrainTimeout time.Duration
	StopGrace    time.Duration
}

// Supervisor owns one process and its poller
type Supervisor struct {
	name   string
	proc   Process
	poller Poller
	hooks  Hooks
	cfg    Config
	logger zerolog.Logger

	mu         sync.Mutex
	started    bool
	stopDone   chan struct{}
	stopErr    error
	cancelPoll context.CancelFunc
	pollDone   chan struct{}
	pollOnce   sync.Once

	exited chan struct{}
	exit   ExitStatus
}

// New creates a supervisor; poller may be nil
func New(name string, proc Process, poller Poller, hooks Hooks, cfg Config) *Supervisor {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 2 * time.Minute
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 30 * time.Second
	}
	return &Supervisor{
		name:   name,
		proc:   proc,
		poller: poller,
		hooks:  hooks,
		cfg:    cfg,
		logger: log.WithNodeID(log.WithComponent("supervisor"), name),
		exited: make(chan struct{}),
	}
}

// Start launches the process, then the poller, then watches for exit
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("supervisor already started")
	}

	if err := s.proc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.name, err)
	}
	s.started = true

	pollCtx, cancel := context.WithCancel(context.Background())
	s.cancelPoll = cancel
	s.pollDone = make(chan struct{})
	if s.poller != nil {
		go func() {
			defer close(s.pollDone)
			s.poller.Run(pollCtx)
		}()
	} else {
		close(s.pollDone)
	}

	go s.watch()

	s.logger.Info().Msg("Supervision started")
	return nil
}

func (s *Supervisor) watch() {
	st := s.proc.Wait()
	s.exit = st
	close(s.exited)

	s.stopPoller()

	ev := s.logger.Info()
	if !st.Success() {
		ev = s.logger.Warn().Err(st.Err)
	}
	ev.Int("code", st.Code).Msg("Process exited")

	if s.hooks.OnExit != nil {
		s.hooks.OnExit(st)
	}
}

func (s *Supervisor) stopPoller() {
	s.pollOnce.Do(func() {
		if s.poller != nil {
			s.poller.Stop()
		}
		s.cancelPoll()
		<-s.pollDone
	})
}

// Stop stops the poller, drains the node (best effort), terminates the process
// and waits for it to exit. The sequence is not interrupted by ctx
// cancellation once begun. Concurrent callers wait for the first one.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("supervisor not started")
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		<-done
		return s.stopErr
	}
	s.stopDone = make(chan struct{})
	s.mu.Unlock()

	defer close(s.stopDone)

	ctx = context.WithoutCancel(ctx)
	s.stopPoller()

	select {
	case <-s.exited:
		s.logger.Info().Msg("Process already exited, nothing to stop")
		return nil
	default:
	}

	if s.hooks.PreStop != nil {
		drainCtx, cancel := context.WithTimeout(ctx, s.cfg.DrainTimeout)
		if err := s.hooks.PreStop(drainCtx); err != nil {
			s.logger.Warn().Err(err).Msg("Drain before stop failed, stopping anyway")
		} else {
			s.logger.Info().Msg("Node drained")
		}
		cancel()
	}

	if err := s.proc.Stop(ctx, s.cfg.StopGrace); err != nil {
		s.logger.Error().Err(err).Msg("Failed to stop process")
		s.stopErr = err
		return err
	}

	<-s.exited
	return s.stopErr
}

// Exited is closed once the process has exited
func (s *Supervisor) Exited() <-chan struct{} {
	return s.exited
}

// ExitStatus is valid once Exited is closed
func (s *Supervisor) ExitStatus() ExitStatus {
	<-s.exited
	return s.exit
}
