package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/ringmaster/pkg/admin"
	"github.com/cuemby/ringmaster/pkg/lifecycle"
	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/cuemby/ringmaster/pkg/probe"
	"github.com/cuemby/ringmaster/pkg/supervisor"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/rs/zerolog"
)

const statusSource = "SOURCE_EXECUTOR"

// Driver is the executor's channel back to the resource manager
type Driver interface {
	SendStatusUpdate(status types.TaskStatus) error
	SendFrameworkMessage(data []byte) error
	Stop() error
}

// ProbeFactory opens the admin channel of a node
type ProbeFactory func(url string) probe.Probe

// DefaultProbeFactory talks Jolokia to the node
func DefaultProbeFactory(url string) probe.Probe {
	return probe.NewJolokiaProbe(url, 10*time.Second)
}

type daemon struct {
	task    *types.TaskInfo
	sup     *supervisor.Supervisor
	monitor *lifecycle.Monitor

	mu            sync.Mutex
	killRequested bool

	stopForward context.CancelFunc
	started     chan struct{}
	forwardDone chan struct{}
	exitHandled chan struct{}
}

func (d *daemon) requestKill() {
	d.mu.Lock()
	d.killRequested = true
	d.mu.Unlock()
}

func (d *daemon) killed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.killRequested
}

// Executor runs on an agent and hosts one node: its daemon task plus any
// administrative tasks against it. Status updates leave through a single
// sender goroutine, so they reach the driver in the order they were produced.
type Executor struct {
	driver Driver
	procs  ProcessFactory
	probes ProbeFactory
	logger zerolog.Logger

	queue      chan types.TaskStatus
	senderDone chan struct{}

	mu          sync.Mutex
	closed      bool
	frameworkID string
	agentID     string
	daemon      *daemon
	admin       map[string]context.CancelFunc
	adminWG     sync.WaitGroup

	termOnce sync.Once
	done     chan struct{}
}

// New creates an executor and starts its status sender
func New(driver Driver, procs ProcessFactory, probes ProbeFactory) *Executor {
	if probes == nil {
		probes = DefaultProbeFactory
	}
	e := &Executor{
		driver:     driver,
		procs:      procs,
		probes:     probes,
		logger:     log.WithComponent("executor"),
		queue:      make(chan types.TaskStatus, 128),
		senderDone: make(chan struct{}),
		admin:      make(map[string]context.CancelFunc),
		done:       make(chan struct{}),
	}
	go e.sendLoop()
	return e
}

func (e *Executor) sendLoop() {
	defer close(e.senderDone)
	for st := range e.queue {
		if err := e.driver.SendStatusUpdate(st); err != nil {
			e.logger.Error().Err(err).Str("task_id", st.TaskID).Str("state", string(st.State)).Msg("Failed to send status update")
		}
	}
}

// send queues a status; statuses sent after termination are dropped
func (e *Executor) send(task *types.TaskInfo, state types.TaskState, msg string, data []byte) {
	st := types.TaskStatus{
		TaskID:     task.ID,
		AgentID:    task.AgentID,
		ExecutorID: task.ExecutorID,
		State:      state,
		Message:    msg,
		Source:     statusSource,
		Timestamp:  time.Now(),
		Data:       data,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		e.logger.Warn().Str("task_id", task.ID).Str("state", string(state)).Msg("Executor terminated, dropping status")
		return
	}
	e.queue <- st
}

func (e *Executor) sendNode(task *types.TaskInfo, ns types.NodeStatus) {
	data, err := types.EncodeNodeStatus(ns)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to encode node status")
	}
	e.send(task, ns.State, ns.Message, data)
}

// Done is closed once the executor has terminated
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

// Registered is called once the executor is connected to its agent
func (e *Executor) Registered(frameworkID, agentID string) {
	e.mu.Lock()
	e.frameworkID = frameworkID
	e.agentID = agentID
	e.mu.Unlock()
	e.logger.Info().Str("framework_id", frameworkID).Str("agent_id", agentID).Msg("Executor registered")
}

// LaunchTask starts a daemon or administrative task
func (e *Executor) LaunchTask(ctx context.Context, task *types.TaskInfo) {
	logger := log.WithTaskID(e.logger, task.ID).With().Str("type", string(task.Type)).Logger()
	logger.Info().Msg("Launching task")

	if task.Type == types.TaskTypeDaemon {
		if err := e.launchDaemon(ctx, task); err != nil {
			logger.Error().Err(err).Msg("Failed to launch daemon")
			e.send(task, types.TaskStateFailed, err.Error(), nil)
		}
		return
	}

	var cfg types.AdminConfig
	if err := json.Unmarshal(task.Config, &cfg); err != nil {
		e.send(task, types.TaskStateError, fmt.Sprintf("invalid admin config: %v", err), nil)
		return
	}
	e.launchAdmin(task, cfg)
}

func (e *Executor) launchDaemon(ctx context.Context, task *types.TaskInfo) error {
	var cfg types.DaemonConfig
	if err := json.Unmarshal(task.Config, &cfg); err != nil {
		return fmt.Errorf("invalid daemon config: %w", err)
	}

	e.mu.Lock()
	running := e.daemon != nil
	e.mu.Unlock()
	if running {
		return fmt.Errorf("node already running in this executor")
	}

	p := e.probes(cfg.ProbeURL)
	nodeCh := make(chan types.NodeStatus)
	monitor := lifecycle.NewMonitor(p, nodeCh, lifecycle.Config{
		NodeID:  task.NodeName,
		Period:  cfg.PollPeriod,
		Ceiling: cfg.RetryCeiling,
	})

	proc, err := e.procs.NewProcess(task, cfg)
	if err != nil {
		return err
	}

	d := &daemon{
		task:        task,
		monitor:     monitor,
		started:     make(chan struct{}),
		forwardDone: make(chan struct{}),
		exitHandled: make(chan struct{}),
	}
	adm := admin.New(p)
	d.sup = supervisor.New(task.NodeName, proc, monitor, supervisor.Hooks{
		PreStop: adm.Drain,
		OnExit:  func(st supervisor.ExitStatus) { e.daemonExited(d, st) },
	}, supervisor.Config{
		DrainTimeout: cfg.DrainTimeout,
		StopGrace:    cfg.StopGrace,
	})

	fwdCtx, cancel := context.WithCancel(context.Background())
	d.stopForward = cancel
	go e.forward(fwdCtx, d, nodeCh)

	// Mode is read before the poller starts so the running status carries the
	// mode transitions forwarded after it are relative to
	initial := monitor.Mode()

	e.send(task, types.TaskStateStarting, "starting node", nil)
	if err := d.sup.Start(ctx); err != nil {
		cancel()
		<-d.forwardDone
		return err
	}

	e.mu.Lock()
	e.daemon = d
	e.mu.Unlock()

	e.sendNode(task, types.NodeStatus{
		NodeID:    task.NodeName,
		Mode:      initial,
		State:     types.TaskStateRunning,
		Timestamp: time.Now(),
		Message:   "node process started",
	})
	close(d.started)
	return nil
}

// forward relays mode transitions from the monitor once the initial running
// status is out. A killing status means the node stopped answering its probe;
// it is reported and the node stopped.
func (e *Executor) forward(ctx context.Context, d *daemon, nodeCh <-chan types.NodeStatus) {
	defer close(d.forwardDone)
	select {
	case <-d.started:
	case <-ctx.Done():
		return
	}
	for {
		select {
		case ns := <-nodeCh:
			e.sendNode(d.task, ns)
			if ns.State == types.TaskStateKilling {
				e.logger.Warn().Str("task_id", d.task.ID).Msg("Node unresponsive, stopping it")
				d.requestKill()
				go func() {
					if err := d.sup.Stop(context.Background()); err != nil {
						e.logger.Error().Err(err).Msg("Failed to stop unresponsive node")
					}
				}()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *Executor) daemonExited(d *daemon, st supervisor.ExitStatus) {
	defer close(d.exitHandled)

	// The poller is stopped before this hook runs; flush what it produced
	d.stopForward()
	<-d.forwardDone

	state := types.TaskStateFailed
	switch {
	case d.killed():
		state = types.TaskStateKilled
	case st.Success():
		state = types.TaskStateFinished
	}

	msg := fmt.Sprintf("node process exited with code %d", st.Code)
	if st.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, st.Err)
	}
	e.sendNode(d.task, types.NodeStatus{
		NodeID:    d.task.NodeName,
		Mode:      d.monitor.Mode(),
		State:     state,
		Timestamp: time.Now(),
		Message:   msg,
	})

	// The executor lives only as long as its node
	e.finish()
}

func (e *Executor) launchAdmin(task *types.TaskInfo, cfg types.AdminConfig) {
	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return
	}
	e.admin[task.ID] = cancel
	e.adminWG.Add(1)
	e.mu.Unlock()

	e.send(task, types.TaskStateRunning, fmt.Sprintf("%s started", task.Type), nil)

	go func() {
		defer e.adminWG.Done()
		defer func() {
			e.mu.Lock()
			delete(e.admin, task.ID)
			e.mu.Unlock()
			cancel()
		}()

		err := RunAdmin(ctx, admin.New(e.probes(cfg.ProbeURL)), task.Type, cfg)
		state, msg := adminOutcome(task.Type, err)
		e.send(task, state, msg, nil)
	}()
}

// KillTask stops the daemon or cancels an administrative task
func (e *Executor) KillTask(ctx context.Context, taskID string) {
	e.mu.Lock()
	d := e.daemon
	cancel, isAdmin := e.admin[taskID]
	e.mu.Unlock()

	switch {
	case isAdmin:
		e.logger.Info().Str("task_id", taskID).Msg("Cancelling administrative task")
		cancel()
	case d != nil && d.task.ID == taskID:
		e.logger.Info().Str("task_id", taskID).Msg("Killing node")
		d.requestKill()
		go func() {
			if err := d.sup.Stop(ctx); err != nil {
				e.logger.Error().Err(err).Msg("Failed to stop node")
			}
		}()
	default:
		e.logger.Warn().Str("task_id", taskID).Msg("Kill for unknown task")
	}
}

// FrameworkMessage is logged only
func (e *Executor) FrameworkMessage(data []byte) {
	e.logger.Info().Int("bytes", len(data)).Msg("Framework message")
}

// Error is logged only
func (e *Executor) Error(message string) {
	e.logger.Error().Str("message", message).Msg("Executor driver error")
}

// Shutdown drains and stops the node, cancels administrative tasks, flushes
// pending statuses and stops the driver.
func (e *Executor) Shutdown(ctx context.Context) {
	e.mu.Lock()
	d := e.daemon
	e.mu.Unlock()

	if d != nil {
		d.requestKill()
		if err := d.sup.Stop(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Failed to stop node")
		} else {
			<-d.exitHandled
		}
	}
	e.finish()
}

// finish cancels administrative tasks, waits for their final statuses, then
// terminates. Safe to call more than once.
func (e *Executor) finish() {
	e.mu.Lock()
	for _, cancel := range e.admin {
		cancel()
	}
	e.mu.Unlock()
	e.adminWG.Wait()

	e.termOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.queue)
		e.mu.Unlock()

		<-e.senderDone
		if err := e.driver.Stop(); err != nil {
			e.logger.Error().Err(err).Msg("Failed to stop executor driver")
		}
		e.logger.Info().Msg("Executor terminated")
		close(e.done)
	})
}
