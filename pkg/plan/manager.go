package plan

import (
	"sync"

	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/rs/zerolog"
)

// Manager owns the active plan and advances it from task status updates
type Manager struct {
	plan     *Plan
	strategy Strategy
	logger   zerolog.Logger

	mu          sync.RWMutex
	interrupted bool
}

// NewManager creates a manager; a nil strategy means SerialStrategy
func NewManager(p *Plan, strategy Strategy) *Manager {
	if strategy == nil {
		strategy = SerialStrategy{}
	}
	return &Manager{
		plan:     p,
		strategy: strategy,
		logger:   log.WithComponent("plan"),
	}
}

// Plan returns the managed plan
func (m *Manager) Plan() *Plan {
	return m.plan
}

// CurrentBlock returns the first non-Complete block of the first incomplete
// phase, or nil when the plan is finished or interrupted.
func (m *Manager) CurrentBlock() *Block {
	if m.IsInterrupted() {
		return nil
	}
	phase := m.plan.CurrentPhase()
	if phase == nil {
		return nil
	}
	for _, b := range phase.Blocks {
		if !b.IsComplete() {
			return b
		}
	}
	return nil
}

// Schedulable returns the pending blocks the strategy allows to start now.
// Blocks of later phases are never returned while an earlier phase is incomplete.
func (m *Manager) Schedulable() []*Block {
	if m.IsInterrupted() {
		return nil
	}
	return m.strategy.Schedulable(m.plan.CurrentPhase())
}

// OnStatus completes or resets the block bound to status.TaskID. Statuses for
// tasks no block is bound to are ignored.
func (m *Manager) OnStatus(status types.TaskStatus) {
	block := m.blockForTask(status.TaskID)
	if block == nil || !block.IsInProgress() {
		return
	}

	logger := log.WithTaskID(log.WithBlock(m.logger, block.Name()), status.TaskID)

	switch {
	case status.State.IsTerminal():
		if err := block.Reset(); err != nil {
			logger.Error().Err(err).Msg("Failed to reset block")
			return
		}
		logger.Warn().Str("state", string(status.State)).Str("message", status.Message).Msg("Block task failed, block back to pending")

	case status.State == types.TaskStateRunning:
		mode, ok := types.ModeFromStatus(status)
		if !ok || mode != types.ModeNormal {
			return
		}
		if err := block.Complete(); err != nil {
			logger.Error().Err(err).Msg("Failed to complete block")
			return
		}
		logger.Info().Str("node_id", block.NodeName()).Msg("Block complete")
		if m.plan.IsComplete() {
			m.logger.Info().Str("plan", m.plan.Name).Msg("Plan complete")
		}
	}
}

func (m *Manager) blockForTask(taskID string) *Block {
	if taskID == "" {
		return nil
	}
	for _, b := range m.plan.Blocks() {
		if b.TaskID() == taskID {
			return b
		}
	}
	return nil
}

// IsComplete reports whether every block of the plan is Complete
func (m *Manager) IsComplete() bool {
	return m.plan.IsComplete()
}

// AnyInProgress reports whether any block of the plan is InProgress
func (m *Manager) AnyInProgress() bool {
	for _, b := range m.plan.Blocks() {
		if b.IsInProgress() {
			return true
		}
	}
	return false
}

// Interrupt pauses the plan: no block is offered resources until Proceed.
// Blocks already in progress keep running.
func (m *Manager) Interrupt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.interrupted {
		m.logger.Info().Msg("Plan interrupted")
	}
	m.interrupted = true
}

// Proceed resumes an interrupted plan
func (m *Manager) Proceed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interrupted {
		m.logger.Info().Msg("Plan resumed")
	}
	m.interrupted = false
}

// IsInterrupted reports whether the plan is paused
func (m *Manager) IsInterrupted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.interrupted
}

// BlockCounts returns the number of blocks per status
func (m *Manager) BlockCounts() map[string]int {
	counts := map[string]int{
		string(StatusPending):    0,
		string(StatusInProgress): 0,
		string(StatusComplete):   0,
	}
	for _, b := range m.plan.Blocks() {
		counts[string(b.Status())]++
	}
	return counts
}

// BlockStatus is the API view of a block
type BlockStatus struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Node   string `json:"node"`
	Status Status `json:"status"`
	TaskID string `json:"task_id,omitempty"`
}

// PhaseStatus is the API view of a phase
type PhaseStatus struct {
	Name     string        `json:"name"`
	Complete bool          `json:"complete"`
	Blocks   []BlockStatus `json:"blocks"`
}

// PlanStatus is the API view of the plan
type PlanStatus struct {
	Name         string        `json:"name"`
	Strategy     string        `json:"strategy"`
	Complete     bool          `json:"complete"`
	Interrupted  bool          `json:"interrupted"`
	CurrentBlock string        `json:"current_block,omitempty"`
	Phases       []PhaseStatus `json:"phases"`
}

// Status returns a snapshot of the plan
func (m *Manager) Status() PlanStatus {
	st := PlanStatus{
		Name:        m.plan.Name,
		Strategy:    m.strategy.Name(),
		Complete:    m.plan.IsComplete(),
		Interrupted: m.IsInterrupted(),
	}
	if b := m.CurrentBlock(); b != nil {
		st.CurrentBlock = b.Name()
	}

	for _, ph := range m.plan.Phases {
		ps := PhaseStatus{Name: ph.Name, Complete: ph.IsComplete()}
		for _, b := range ph.Blocks {
			ps.Blocks = append(ps.Blocks, BlockStatus{
				ID:     b.ID(),
				Name:   b.Name(),
				Node:   b.NodeName(),
				Status: b.Status(),
				TaskID: b.TaskID(),
			})
		}
		st.Phases = append(st.Phases, ps)
	}
	return st
}
