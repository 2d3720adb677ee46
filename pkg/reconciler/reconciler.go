package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/rs/zerolog"
)

// Target replays the status of known tasks through the resource manager
type Target interface {
	Reconcile(ctx context.Context) error
}

// Reconciler periodically asks the resource manager to resend the status of
// every task the scheduler believes is alive, so updates lost while
// disconnected are replayed.
type Reconciler struct {
	target   Target
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciler creates a new reconciler
func NewReconciler(target Target, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{
		target:   target,
		interval: interval,
		logger:   log.WithComponent("reconciler"),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.run(ctx, r.done)
}

// Stop stops the loop and waits for it to exit
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Reconciler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.ReconcileNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ReconcileNow performs one reconciliation cycle
func (r *Reconciler) ReconcileNow(ctx context.Context) {
	if err := r.target.Reconcile(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Reconciliation failed")
	}
}
