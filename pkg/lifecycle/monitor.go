package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/cuemby/ringmaster/pkg/metrics"
	"github.com/cuemby/ringmaster/pkg/probe"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/rs/zerolog"
)

// Defaults used when Config leaves a field zero
const (
	DefaultPeriod      = time.Second
	DefaultCeiling     = 10
	DefaultCallTimeout = 5 * time.Second
)

// Config holds monitor settings
type Config struct {
	NodeID      string
	Period      time.Duration
	Ceiling     int
	CallTimeout time.Duration
}

// Monitor polls a node's operation mode on a fixed period and emits one
// NodeStatus per observed mode change. Transient probe failures are counted;
// reaching the ceiling marks the node Unknown and emits a killing status.
type Monitor struct {
	nodeID  string
	probe   probe.Probe
	out     chan<- types.NodeStatus
	period  time.Duration
	ceiling int
	timeout time.Duration
	logger  zerolog.Logger

	// emitMu is held from a state change until its status is delivered, so
	// transitions leave in order. mu guards mode, retries and stopped and is
	// never held across a send.
	emitMu  sync.Mutex
	mu      sync.Mutex
	mode    types.Mode
	retries int
	stopped bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a monitor starting in mode Starting. Statuses are sent
// on out, which must have exactly one consumer.
func NewMonitor(p probe.Probe, out chan<- types.NodeStatus, cfg Config) *Monitor {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultCeiling
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}

	return &Monitor{
		nodeID:  cfg.NodeID,
		probe:   p,
		out:     out,
		period:  cfg.Period,
		ceiling: cfg.Ceiling,
		timeout: cfg.CallTimeout,
		logger:  log.WithNodeID(log.WithComponent("monitor"), cfg.NodeID),
		mode:    types.ModeStarting,
		stopCh:  make(chan struct{}),
	}
}

// Run polls until ctx is done or Stop is called
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	m.tickAndLog(ctx)

	for {
		select {
		case <-ticker.C:
			m.tickAndLog(ctx)
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) tickAndLog(ctx context.Context) {
	if err := m.Tick(ctx); err != nil {
		m.logger.Error().Err(err).Msg("Mode poll failed")
	}
}

// Tick performs one poll. It returns an error only for non-transient probe
// failures; those leave mode and retry counter untouched.
func (m *Monitor) Tick(ctx context.Context) error {
	if m.isStopped() {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	mode, err := m.probe.OperationMode(callCtx)
	cancel()

	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	st, err := m.observeLocked(mode, err)
	m.mu.Unlock()

	if st != nil {
		m.emit(*st)
	}
	return err
}

// observeLocked applies one poll result and returns the status to emit, if any
func (m *Monitor) observeLocked(mode types.Mode, err error) (*types.NodeStatus, error) {
	if m.stopped {
		return nil, nil
	}

	if err != nil {
		metrics.ProbeFailures.WithLabelValues(probe.KindLabel(err)).Inc()
		if !probe.IsTransient(err) {
			return nil, fmt.Errorf("node %s: %w", m.nodeID, err)
		}
		return m.onTransientLocked(err), nil
	}

	m.retries = 0
	if mode == m.mode {
		return nil, nil
	}

	m.logger.Info().
		Str("from", string(m.mode)).
		Str("mode", string(mode)).
		Msg("Node mode changed")
	m.mode = mode
	metrics.ModeTransitions.WithLabelValues(string(mode)).Inc()
	return m.statusLocked(types.TaskStateRunning, fmt.Sprintf("Node running in mode %s", mode)), nil
}

func (m *Monitor) onTransientLocked(err error) *types.NodeStatus {
	m.retries++
	m.logger.Warn().
		Err(err).
		Int("retries", m.retries).
		Int("ceiling", m.ceiling).
		Msg("Transient probe failure")

	if m.retries < m.ceiling {
		return nil
	}

	m.logger.Error().
		Int("retries", m.retries).
		Msg("Probe failure ceiling reached, marking node unknown")
	m.mode = types.ModeUnknown
	m.retries = 0
	metrics.Escalations.Inc()
	metrics.ModeTransitions.WithLabelValues(string(types.ModeUnknown)).Inc()
	return m.statusLocked(types.TaskStateKilling, fmt.Sprintf("Node unreachable after %d probe failures: %v", m.ceiling, err))
}

func (m *Monitor) statusLocked(state types.TaskState, msg string) *types.NodeStatus {
	return &types.NodeStatus{
		NodeID:    m.nodeID,
		Mode:      m.mode,
		State:     state,
		Timestamp: time.Now(),
		Message:   msg,
	}
}

// emit must be called with emitMu held. It gives up if Stop is called while
// the consumer is not receiving.
func (m *Monitor) emit(st types.NodeStatus) {
	select {
	case m.out <- st:
	case <-m.stopCh:
		m.logger.Debug().Str("mode", string(st.Mode)).Msg("Dropping status emitted during stop")
	}
}

// Stop cancels future polls. No status is emitted once Stop returns and the
// mode is frozen at its current value.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })

	// Wait out an in-flight emit; it returns as soon as stopCh is closed
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *Monitor) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// Mode returns the last observed mode
func (m *Monitor) Mode() types.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Retries returns the current transient failure count
func (m *Monitor) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// NodeID returns the monitored node's identity
func (m *Monitor) NodeID() string {
	return m.nodeID
}
