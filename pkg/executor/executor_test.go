package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/cuemby/ringmaster/pkg/probe"
	"github.com/cuemby/ringmaster/pkg/supervisor"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	mu       sync.Mutex
	statuses []types.TaskStatus
	stopped  bool
}

func (d *fakeDriver) SendStatusUpdate(st types.TaskStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses = append(d.statuses, st)
	return nil
}

func (d *fakeDriver) SendFrameworkMessage(data []byte) error { return nil }

func (d *fakeDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

func (d *fakeDriver) Statuses() []types.TaskStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]types.TaskStatus(nil), d.statuses...)
}

func (d *fakeDriver) States(taskID string) []types.TaskState {
	var out []types.TaskState
	for _, st := range d.Statuses() {
		if st.TaskID == taskID {
			out = append(out, st.State)
		}
	}
	return out
}

type fakeProcess struct {
	done   chan struct{}
	once   sync.Once
	status supervisor.ExitStatus
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) exit(st supervisor.ExitStatus) {
	p.once.Do(func() {
		p.status = st
		close(p.done)
	})
}

func (p *fakeProcess) Start(ctx context.Context) error { return nil }

func (p *fakeProcess) Wait() supervisor.ExitStatus {
	<-p.done
	return p.status
}

func (p *fakeProcess) Stop(ctx context.Context, grace time.Duration) error {
	p.exit(supervisor.ExitStatus{Code: 143})
	return nil
}

type processFactory struct {
	proc *fakeProcess
}

func (f processFactory) NewProcess(task *types.TaskInfo, cfg types.DaemonConfig) (supervisor.Process, error) {
	return f.proc, nil
}

// scriptedProbe answers with a fixed mode (or error) and records drains.
// Calls it does not implement panic through the nil embedded interface.
type scriptedProbe struct {
	probe.Probe

	mu        sync.Mutex
	mode      types.Mode
	modeErr   error
	drained   bool
	keyspaces []string
	cleaned   []string
	blockOn   chan struct{}
}

func (p *scriptedProbe) setMode(m types.Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = m
}

func (p *scriptedProbe) OperationMode(ctx context.Context) (types.Mode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode, p.modeErr
}

func (p *scriptedProbe) Drain(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drained = true
	return nil
}

func (p *scriptedProbe) Keyspaces(ctx context.Context) ([]string, error) {
	return p.keyspaces, nil
}

func (p *scriptedProbe) ForceKeyspaceCleanup(ctx context.Context, ks string, families ...string) error {
	p.mu.Lock()
	p.cleaned = append(p.cleaned, ks)
	p.mu.Unlock()
	return nil
}

func (p *scriptedProbe) RepairAsync(ctx context.Context, ks string, opts map[string]string) (int, error) {
	if p.blockOn != nil {
		select {
		case <-p.blockOn:
		case <-ctx.Done():
			return 0, &probe.Error{Op: "repair", Kind: probe.ErrInterrupted, Err: ctx.Err()}
		}
	}
	return 0, nil
}

func (p *scriptedProbe) TakeSnapshot(ctx context.Context, tag string, keyspaces ...string) error {
	return &probe.Error{Op: "snapshot", Kind: probe.ErrTransport, Err: errors.New("connection refused")}
}

func daemonTask(t *testing.T) *types.TaskInfo {
	cfg, err := json.Marshal(types.DaemonConfig{
		ProbeURL:     "http://node-0:7199/jolokia",
		Command:      "/bin/true",
		PollPeriod:   10 * time.Millisecond,
		RetryCeiling: 2,
		DrainTimeout: time.Second,
		StopGrace:    time.Second,
	})
	require.NoError(t, err)
	return &types.TaskInfo{
		ID:         "node-0__1",
		Name:       "node-0",
		NodeName:   "node-0",
		Type:       types.TaskTypeDaemon,
		AgentID:    "agent-1",
		ExecutorID: "ringmaster-executor-node-0",
		Config:     cfg,
	}
}

func adminTask(t *testing.T, typ types.TaskType, cfg types.AdminConfig) *types.TaskInfo {
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return &types.TaskInfo{
		ID:         "node-0-" + string(typ) + "__1",
		Name:       "node-0-" + string(typ),
		NodeName:   "node-0",
		Type:       typ,
		AgentID:    "agent-1",
		ExecutorID: "ringmaster-executor-node-0",
		Config:     raw,
	}
}

func newExecutor(p *scriptedProbe, proc *fakeProcess) (*Executor, *fakeDriver) {
	d := &fakeDriver{}
	e := New(d, processFactory{proc: proc}, func(string) probe.Probe { return p })
	return e, d
}

func waitDone(t *testing.T, e *Executor) {
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not terminate")
	}
}

func modeOf(t *testing.T, st types.TaskStatus) types.Mode {
	ns, err := types.DecodeNodeStatus(st.Data)
	require.NoError(t, err)
	return ns.Mode
}

func TestDaemonReportsModeTransitions(t *testing.T) {
	p := &scriptedProbe{mode: types.ModeJoining}
	proc := newFakeProcess()
	e, d := newExecutor(p, proc)
	task := daemonTask(t)

	e.LaunchTask(context.Background(), task)

	require.Eventually(t, func() bool {
		return len(d.States(task.ID)) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	p.setMode(types.ModeNormal)
	require.Eventually(t, func() bool {
		for _, st := range d.Statuses() {
			if st.Data != nil && modeOf(t, st) == types.ModeNormal {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	statuses := d.Statuses()
	assert.Equal(t, types.TaskStateStarting, statuses[0].State)
	assert.Equal(t, types.TaskStateRunning, statuses[1].State)
	assert.Equal(t, types.ModeStarting, modeOf(t, statuses[1]))
	assert.Equal(t, types.ModeJoining, modeOf(t, statuses[2]))

	proc.exit(supervisor.ExitStatus{Code: 0})
	waitDone(t, e)

	states := d.States(task.ID)
	assert.Equal(t, types.TaskStateFinished, states[len(states)-1])
	assert.True(t, d.stopped)
}

// slowWriter stalls on one log line so the poller can run ahead of LaunchTask
type slowWriter struct {
	match []byte
	delay time.Duration
}

func (w slowWriter) Write(b []byte) (int, error) {
	if bytes.Contains(b, w.match) {
		time.Sleep(w.delay)
	}
	return len(b), nil
}

func TestLaunchDoesNotBlockWhenFirstPollSeesNewMode(t *testing.T) {
	prev := log.Logger
	log.Init(log.Config{JSONOutput: true, Output: slowWriter{match: []byte("Supervision started"), delay: 50 * time.Millisecond}})
	defer func() { log.Logger = prev }()

	p := &scriptedProbe{mode: types.ModeJoining}
	proc := newFakeProcess()
	e, d := newExecutor(p, proc)
	task := daemonTask(t)

	launched := make(chan struct{})
	go func() {
		e.LaunchTask(context.Background(), task)
		close(launched)
	}()

	select {
	case <-launched:
	case <-time.After(3 * time.Second):
		t.Fatalf("LaunchTask did not return, statuses=%v", d.States(task.ID))
	}

	require.Eventually(t, func() bool {
		return len(d.States(task.ID)) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	statuses := d.Statuses()
	assert.Equal(t, types.TaskStateStarting, statuses[0].State)
	assert.Equal(t, types.ModeStarting, modeOf(t, statuses[1]))
	assert.Equal(t, types.ModeJoining, modeOf(t, statuses[2]))

	proc.exit(supervisor.ExitStatus{Code: 0})
	waitDone(t, e)
}

func TestDaemonFailureIsTerminal(t *testing.T) {
	p := &scriptedProbe{mode: types.ModeNormal}
	proc := newFakeProcess()
	e, d := newExecutor(p, proc)
	task := daemonTask(t)

	e.LaunchTask(context.Background(), task)
	require.Eventually(t, func() bool {
		return len(d.States(task.ID)) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	proc.exit(supervisor.ExitStatus{Code: 1})
	waitDone(t, e)

	states := d.States(task.ID)
	assert.Equal(t, types.TaskStateFailed, states[len(states)-1])
}

func TestKillDrainsAndReportsKilled(t *testing.T) {
	p := &scriptedProbe{mode: types.ModeNormal}
	proc := newFakeProcess()
	e, d := newExecutor(p, proc)
	task := daemonTask(t)

	e.LaunchTask(context.Background(), task)
	require.Eventually(t, func() bool {
		return len(d.States(task.ID)) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	e.KillTask(context.Background(), task.ID)
	waitDone(t, e)

	states := d.States(task.ID)
	assert.Equal(t, types.TaskStateKilled, states[len(states)-1])
	p.mu.Lock()
	assert.True(t, p.drained)
	p.mu.Unlock()
}

func TestUnresponsiveNodeIsKilled(t *testing.T) {
	p := &scriptedProbe{
		mode:    types.ModeNormal,
		modeErr: &probe.Error{Op: "mode", Kind: probe.ErrTransport, Err: errors.New("connection refused")},
	}
	proc := newFakeProcess()
	e, d := newExecutor(p, proc)
	task := daemonTask(t)

	e.LaunchTask(context.Background(), task)
	waitDone(t, e)

	var sawKilling bool
	for _, st := range d.Statuses() {
		if st.State == types.TaskStateKilling {
			sawKilling = true
			assert.Equal(t, types.ModeUnknown, modeOf(t, st))
		}
	}
	assert.True(t, sawKilling)

	states := d.States(task.ID)
	assert.Equal(t, types.TaskStateKilled, states[len(states)-1])
}

func TestShutdownStopsNode(t *testing.T) {
	p := &scriptedProbe{mode: types.ModeNormal}
	proc := newFakeProcess()
	e, d := newExecutor(p, proc)
	task := daemonTask(t)

	e.LaunchTask(context.Background(), task)
	e.Shutdown(context.Background())
	waitDone(t, e)

	states := d.States(task.ID)
	require.NotEmpty(t, states)
	assert.Equal(t, types.TaskStateKilled, states[len(states)-1])
	assert.True(t, d.stopped)
}

func TestStatusesAfterTerminationAreDropped(t *testing.T) {
	p := &scriptedProbe{mode: types.ModeNormal}
	e, d := newExecutor(p, newFakeProcess())

	e.Shutdown(context.Background())
	waitDone(t, e)

	e.LaunchTask(context.Background(), adminTask(t, types.TaskTypeCleanup, types.AdminConfig{}))
	assert.Empty(t, d.Statuses())
}

func TestAdminTasks(t *testing.T) {
	t.Run("cleanup of all keyspaces", func(t *testing.T) {
		p := &scriptedProbe{keyspaces: []string{"system", "app", "metrics"}}
		e, d := newExecutor(p, newFakeProcess())
		task := adminTask(t, types.TaskTypeCleanup, types.AdminConfig{})

		e.LaunchTask(context.Background(), task)
		require.Eventually(t, func() bool {
			states := d.States(task.ID)
			return len(states) > 0 && states[len(states)-1].IsTerminal()
		}, 2*time.Second, 5*time.Millisecond)

		assert.Equal(t, []types.TaskState{types.TaskStateRunning, types.TaskStateFinished}, d.States(task.ID))
		assert.Equal(t, []string{"app", "metrics"}, p.cleaned)
	})

	t.Run("snapshot failure carries the failure kind", func(t *testing.T) {
		p := &scriptedProbe{}
		e, d := newExecutor(p, newFakeProcess())
		task := adminTask(t, types.TaskTypeSnapshot, types.AdminConfig{SnapshotName: "nightly"})

		e.LaunchTask(context.Background(), task)
		require.Eventually(t, func() bool {
			states := d.States(task.ID)
			return len(states) == 2
		}, 2*time.Second, 5*time.Millisecond)

		last := d.Statuses()[1]
		assert.Equal(t, types.TaskStateFailed, last.State)
		assert.Contains(t, last.Message, "transport")
	})

	t.Run("killed repair reports killed", func(t *testing.T) {
		p := &scriptedProbe{blockOn: make(chan struct{})}
		e, d := newExecutor(p, newFakeProcess())
		task := adminTask(t, types.TaskTypeRepair, types.AdminConfig{Keyspaces: []string{"app"}})

		e.LaunchTask(context.Background(), task)
		require.Eventually(t, func() bool {
			return len(d.States(task.ID)) == 1
		}, 2*time.Second, 5*time.Millisecond)

		e.KillTask(context.Background(), task.ID)
		require.Eventually(t, func() bool {
			return len(d.States(task.ID)) == 2
		}, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, types.TaskStateKilled, d.States(task.ID)[1])
	})

	t.Run("invalid config", func(t *testing.T) {
		e, d := newExecutor(&scriptedProbe{}, newFakeProcess())
		task := adminTask(t, types.TaskTypeRepair, types.AdminConfig{})
		task.Config = []byte("{")

		e.LaunchTask(context.Background(), task)
		require.Eventually(t, func() bool {
			return len(d.States(task.ID)) == 1
		}, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, types.TaskStateError, d.States(task.ID)[0])
	})
}

func TestVolumeHostPath(t *testing.T) {
	task := &types.TaskInfo{Resources: []types.Resource{
		{Name: types.ResourceCPUs, Scalar: 1},
		{Name: types.ResourceDisk, Scalar: 1024, Volume: &types.PersistentVolume{HostPath: "/var/lib/ringmaster/volumes/a/b"}},
	}}
	assert.Equal(t, "/var/lib/ringmaster/volumes/a/b", VolumeHostPath(task))
	assert.Empty(t, VolumeHostPath(&types.TaskInfo{}))
}
