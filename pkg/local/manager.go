package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/ringmaster/pkg/config"
	"github.com/cuemby/ringmaster/pkg/executor"
	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/cuemby/ringmaster/pkg/offer"
	"github.com/cuemby/ringmaster/pkg/scheduler"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/cuemby/ringmaster/pkg/volume"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const statusSource = "SOURCE_MASTER"

// ErrAborted is returned by every driver call after Abort
var ErrAborted = errors.New("driver aborted")

// Framework is the scheduler side of the callbacks the manager drives
type Framework interface {
	Registered(ctx context.Context, frameworkID string, master scheduler.MasterInfo) error
	ResourceOffers(ctx context.Context, offers []types.Offer) scheduler.BatchResult
	StatusUpdate(ctx context.Context, status types.TaskStatus)
}

// Config holds manager settings
type Config struct {
	Agents        []config.AgentConfig
	OfferInterval time.Duration
	// FrameworkID is reused when set, otherwise a new one is issued
	FrameworkID string
}

type launched struct {
	task    *types.TaskInfo
	state   types.TaskState
	status  types.TaskStatus
	stopped bool
}

// Manager is an in-process resource manager. It offers the configured agents'
// free resources on a fixed interval, applies accepted operations, and runs
// executors inside this process. Status updates reach the framework in the
// order they were produced.
type Manager struct {
	framework Framework
	volumes   volume.Driver
	procs     executor.ProcessFactory
	probes    executor.ProbeFactory
	cfg       Config
	logger    zerolog.Logger

	mu          sync.Mutex
	frameworkID string
	agents      []*agent
	byID        map[string]*agent
	offers      map[string]*agent
	executors   map[string]*executor.Executor
	tasks       map[string]*launched
	aborted     bool

	statusMu sync.Mutex
	pending  []types.TaskStatus
	notify   chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ scheduler.Driver = (*Manager)(nil)

// NewManager creates a manager over cfg.Agents
func NewManager(framework Framework, volumes volume.Driver, procs executor.ProcessFactory, probes executor.ProbeFactory, cfg Config) *Manager {
	if cfg.OfferInterval <= 0 {
		cfg.OfferInterval = 5 * time.Second
	}
	m := &Manager{
		framework: framework,
		volumes:   volumes,
		procs:     procs,
		probes:    probes,
		cfg:       cfg,
		logger:    log.WithComponent("local"),
		byID:      make(map[string]*agent),
		offers:    make(map[string]*agent),
		executors: make(map[string]*executor.Executor),
		tasks:     make(map[string]*launched),
		notify:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
	for _, a := range cfg.Agents {
		ag := newAgent(a)
		m.agents = append(m.agents, ag)
		m.byID[a.ID] = ag
	}

	m.wg.Add(1)
	go m.deliver(context.Background())
	return m
}

// SetFramework binds the callback target; it must be called before Start
func (m *Manager) SetFramework(f Framework) {
	m.framework = f
}

// Start registers the framework and begins offering resources. A failed
// registration is returned and nothing is started.
func (m *Manager) Start(ctx context.Context) error {
	id := m.cfg.FrameworkID
	if id == "" {
		id = uuid.New().String()
	}
	m.mu.Lock()
	m.frameworkID = id
	m.mu.Unlock()

	host, _ := os.Hostname()
	if err := m.framework.Registered(ctx, id, scheduler.MasterInfo{ID: "local", Hostname: host}); err != nil {
		m.Stop()
		return err
	}

	m.wg.Add(1)
	go m.offerLoop(ctx)

	m.logger.Info().
		Str("framework_id", id).
		Int("agents", len(m.agents)).
		Dur("interval", m.cfg.OfferInterval).
		Msg("Local resource manager started")
	return nil
}

// Stop shuts down every executor, delivers their last statuses and halts offers
func (m *Manager) Stop() {
	m.mu.Lock()
	execs := make([]*executor.Executor, 0, len(m.executors))
	for _, e := range m.executors {
		execs = append(execs, e)
	}
	m.mu.Unlock()

	ctx := context.Background()
	for _, e := range execs {
		e.Shutdown(ctx)
	}

	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
	m.logger.Info().Msg("Local resource manager stopped")
}

func (m *Manager) offerLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.OfferInterval)
	defer ticker.Stop()

	m.Offer(ctx)
	for {
		select {
		case <-ticker.C:
			m.Offer(ctx)
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}

// Offer sends one batch with an offer for every agent not already holding one
func (m *Manager) Offer(ctx context.Context) scheduler.BatchResult {
	m.mu.Lock()
	if m.aborted {
		m.mu.Unlock()
		return scheduler.BatchResult{}
	}
	var batch []types.Offer
	for _, a := range m.agents {
		if a.outstanding != "" {
			continue
		}
		res := a.resources()
		if len(res) == 0 {
			continue
		}
		id := uuid.New().String()
		a.outstanding = id
		m.offers[id] = a
		batch = append(batch, types.Offer{
			ID:        id,
			AgentID:   a.cfg.ID,
			Hostname:  a.cfg.Hostname,
			Resources: res,
		})
	}
	m.mu.Unlock()

	if len(batch) == 0 {
		return scheduler.BatchResult{}
	}
	return m.framework.ResourceOffers(ctx, batch)
}

// consumeLocked retires an outstanding offer, returning its agent
func (m *Manager) consumeLocked(offerID string) (*agent, bool) {
	a, ok := m.offers[offerID]
	if !ok {
		return nil, false
	}
	delete(m.offers, offerID)
	a.outstanding = ""
	return a, true
}

// AcceptOffers applies ops to the offered resources. Every offer is consumed
// whether or not the operations succeed.
func (m *Manager) AcceptOffers(ctx context.Context, offerIDs []string, ops []offer.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.aborted {
		return ErrAborted
	}

	offered := make(map[string]*agent, len(offerIDs))
	for _, id := range offerIDs {
		a, ok := m.consumeLocked(id)
		if !ok {
			return fmt.Errorf("offer %s is not outstanding", id)
		}
		offered[a.cfg.ID] = a
	}

	for _, op := range ops {
		a, ok := offered[op.AgentID]
		if !ok {
			return fmt.Errorf("%s targets agent %s outside the accepted offers", op.Type, op.AgentID)
		}
		if err := m.applyLocked(ctx, a, op); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) applyLocked(ctx context.Context, a *agent, op offer.Operation) error {
	switch op.Type {
	case offer.OpReserve:
		m.logger.Debug().Str("agent_id", a.cfg.ID).Int("resources", len(op.Resources)).Msg("Reserved resources")
		return nil

	case offer.OpCreate:
		if op.Volume == nil {
			return errors.New("create without a volume")
		}
		v := *op.Volume
		if err := m.volumes.Create(&v); err != nil {
			return fmt.Errorf("failed to create volume %s: %w", v.PersistenceID, err)
		}
		a.addVolume(&v)
		m.logger.Info().Str("agent_id", a.cfg.ID).Str("volume", v.PersistenceID).Str("path", v.HostPath).Msg("Created volume")
		return nil

	case offer.OpLaunch:
		if op.Task == nil {
			return errors.New("launch without a task")
		}
		return m.launchLocked(ctx, a, op.Task)

	default:
		return fmt.Errorf("unknown operation %q", op.Type)
	}
}

// launchLocked hands a copy of task, with volume host paths filled in, to the
// task's executor, starting the executor if it is not running yet
func (m *Manager) launchLocked(ctx context.Context, a *agent, task *types.TaskInfo) error {
	t := *task
	t.Resources = make([]types.Resource, len(task.Resources))
	for i, r := range task.Resources {
		if r.Volume != nil {
			known, ok := a.volumes[r.Volume.PersistenceID]
			if !ok {
				return fmt.Errorf("volume %s does not exist on agent %s", r.Volume.PersistenceID, a.cfg.ID)
			}
			v := *known
			r.Volume = &v
		}
		t.Resources[i] = r
	}

	a.take(t.Resources)
	m.tasks[t.ID] = &launched{task: &t, state: types.TaskStateStaging}

	exec, ok := m.executors[t.ExecutorID]
	if !ok {
		exec = executor.New(&executorDriver{m: m, executorID: t.ExecutorID, agentID: a.cfg.ID}, m.procs, m.probes)
		m.executors[t.ExecutorID] = exec
		exec.Registered(m.frameworkID, a.cfg.ID)
	}

	m.logger.Info().
		Str("task_id", t.ID).
		Str("agent_id", a.cfg.ID).
		Str("executor_id", t.ExecutorID).
		Msg("Launching task")

	go exec.LaunchTask(context.WithoutCancel(ctx), &t)
	return nil
}

// DeclineOffer returns an offer's resources to the pool
func (m *Manager) DeclineOffer(ctx context.Context, offerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.aborted {
		return ErrAborted
	}
	if _, ok := m.consumeLocked(offerID); !ok {
		return fmt.Errorf("offer %s is not outstanding", offerID)
	}
	return nil
}

// KillTask asks the task's executor to kill it. Unknown tasks are reported lost.
func (m *Manager) KillTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	if m.aborted {
		m.mu.Unlock()
		return ErrAborted
	}
	l, ok := m.tasks[taskID]
	var exec *executor.Executor
	if ok {
		exec = m.executors[l.task.ExecutorID]
	}
	m.mu.Unlock()

	if exec == nil {
		m.enqueue(types.TaskStatus{
			TaskID:    taskID,
			State:     types.TaskStateLost,
			Message:   "task unknown to the resource manager",
			Source:    statusSource,
			Reason:    "REASON_RECONCILIATION",
			Timestamp: time.Now(),
		})
		return nil
	}
	exec.KillTask(ctx, taskID)
	return nil
}

// ReconcileTasks replays the latest status of each task. Tasks the manager
// does not know are reported lost.
func (m *Manager) ReconcileTasks(ctx context.Context, statuses []types.TaskStatus) error {
	m.mu.Lock()
	if m.aborted {
		m.mu.Unlock()
		return ErrAborted
	}
	replay := make([]types.TaskStatus, 0, len(statuses))
	for _, st := range statuses {
		l, ok := m.tasks[st.TaskID]
		if !ok {
			replay = append(replay, types.TaskStatus{
				TaskID:    st.TaskID,
				AgentID:   st.AgentID,
				State:     types.TaskStateLost,
				Message:   "task unknown to the resource manager",
				Source:    statusSource,
				Reason:    "REASON_RECONCILIATION",
				Timestamp: time.Now(),
			})
			continue
		}
		if l.status.TaskID == "" {
			continue
		}
		s := l.status
		s.Reason = "REASON_RECONCILIATION"
		replay = append(replay, s)
	}
	m.mu.Unlock()

	for _, st := range replay {
		m.enqueue(st)
	}
	return nil
}

// Abort stops the manager; every later driver call fails
func (m *Manager) Abort() error {
	m.mu.Lock()
	if m.aborted {
		m.mu.Unlock()
		return nil
	}
	m.aborted = true
	m.mu.Unlock()

	m.logger.Warn().Msg("Driver aborted")
	go m.Stop()
	return nil
}

// enqueue never blocks; deliver drains the queue in order
func (m *Manager) enqueue(st types.TaskStatus) {
	m.statusMu.Lock()
	m.pending = append(m.pending, st)
	m.statusMu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Manager) deliver(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-m.notify:
		case <-m.stopCh:
			m.flush(ctx)
			return
		}
		m.flush(ctx)
	}
}

func (m *Manager) flush(ctx context.Context) {
	for {
		m.statusMu.Lock()
		batch := m.pending
		m.pending = nil
		m.statusMu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, st := range batch {
			m.framework.StatusUpdate(ctx, st)
		}
	}
}

// onStatus records a status from an executor and frees a terminal task's resources
func (m *Manager) onStatus(agentID string, st types.TaskStatus) {
	m.mu.Lock()
	if l, ok := m.tasks[st.TaskID]; ok {
		l.state = st.State
		l.status = st
		if st.State.IsTerminal() && !l.stopped {
			l.stopped = true
			if a, ok := m.byID[agentID]; ok {
				a.release(l.task.Resources)
			}
		}
	}
	m.mu.Unlock()

	m.enqueue(st)
}

func (m *Manager) executorStopped(executorID, agentID string) {
	m.mu.Lock()
	delete(m.executors, executorID)
	m.mu.Unlock()

	m.logger.Info().Str("executor_id", executorID).Str("agent_id", agentID).Msg("Executor stopped")
}

// Tasks returns the latest known state of every launched task
func (m *Manager) Tasks() map[string]types.TaskState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]types.TaskState, len(m.tasks))
	for id, l := range m.tasks {
		out[id] = l.state
	}
	return out
}

// executorDriver connects one in-process executor back to the manager
type executorDriver struct {
	m          *Manager
	executorID string
	agentID    string
}

func (d *executorDriver) SendStatusUpdate(st types.TaskStatus) error {
	if st.AgentID == "" {
		st.AgentID = d.agentID
	}
	d.m.onStatus(d.agentID, st)
	return nil
}

func (d *executorDriver) SendFrameworkMessage(data []byte) error {
	d.m.logger.Info().Str("executor_id", d.executorID).Int("bytes", len(data)).Msg("Framework message from executor")
	return nil
}

func (d *executorDriver) Stop() error {
	d.m.executorStopped(d.executorID, d.agentID)
	return nil
}
