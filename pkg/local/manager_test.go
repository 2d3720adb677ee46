package local

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ringmaster/pkg/config"
	"github.com/cuemby/ringmaster/pkg/offer"
	"github.com/cuemby/ringmaster/pkg/plan"
	"github.com/cuemby/ringmaster/pkg/probe"
	"github.com/cuemby/ringmaster/pkg/scheduler"
	"github.com/cuemby/ringmaster/pkg/supervisor"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/cuemby/ringmaster/pkg/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFramework struct {
	mu       sync.Mutex
	offers   [][]types.Offer
	statuses []types.TaskStatus
	regErr   error
}

func (f *fakeFramework) Registered(ctx context.Context, id string, master scheduler.MasterInfo) error {
	return f.regErr
}

func (f *fakeFramework) ResourceOffers(ctx context.Context, offers []types.Offer) scheduler.BatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = append(f.offers, offers)
	return scheduler.BatchResult{}
}

func (f *fakeFramework) StatusUpdate(ctx context.Context, st types.TaskStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, st)
}

func (f *fakeFramework) Statuses() []types.TaskStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.TaskStatus(nil), f.statuses...)
}

type nodeProbe struct {
	probe.Probe
}

func (nodeProbe) OperationMode(ctx context.Context) (types.Mode, error) { return types.ModeNormal, nil }
func (nodeProbe) Drain(ctx context.Context) error                       { return nil }

type blockingProcess struct {
	done chan struct{}
	once sync.Once
}

func (p *blockingProcess) Start(ctx context.Context) error { return nil }

func (p *blockingProcess) Wait() supervisor.ExitStatus {
	<-p.done
	return supervisor.ExitStatus{Code: 143}
}

func (p *blockingProcess) Stop(ctx context.Context, grace time.Duration) error {
	p.once.Do(func() { close(p.done) })
	return nil
}

type processFactory struct{}

func (processFactory) NewProcess(task *types.TaskInfo, cfg types.DaemonConfig) (supervisor.Process, error) {
	return &blockingProcess{done: make(chan struct{})}, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeFramework, string) {
	dir := t.TempDir()
	vols, err := volume.NewLocalDriver(dir)
	require.NoError(t, err)

	fw := &fakeFramework{}
	m := NewManager(fw, vols, processFactory{}, func(string) probe.Probe { return nodeProbe{} }, Config{
		Agents: []config.AgentConfig{
			{ID: "agent-1", Hostname: "host-1", CPUs: 4, MemoryMB: 8192, DiskMB: 10240, PortsLo: 9000, PortsHi: 9009},
			{ID: "agent-2", Hostname: "host-2", CPUs: 2, MemoryMB: 4096, DiskMB: 5120, PortsLo: 9000, PortsHi: 9009},
		},
		OfferInterval: time.Hour,
		FrameworkID:   "fw-1",
	})
	return m, fw, dir
}

func scalar(res []types.Resource, name string) float64 {
	var total float64
	for _, r := range res {
		if r.Name == name && r.Volume == nil {
			total += r.Scalar
		}
	}
	return total
}

func TestOfferHoldsResourcesUntilAnswered(t *testing.T) {
	m, fw, _ := newTestManager(t)
	ctx := context.Background()

	m.Offer(ctx)
	require.Len(t, fw.offers, 1)
	batch := fw.offers[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "agent-1", batch[0].AgentID)
	assert.Equal(t, 4.0, scalar(batch[0].Resources, types.ResourceCPUs))

	// outstanding offers are not re-offered
	m.Offer(ctx)
	assert.Len(t, fw.offers, 1)

	require.NoError(t, m.DeclineOffer(ctx, batch[1].ID))
	m.Offer(ctx)
	require.Len(t, fw.offers, 2)
	require.Len(t, fw.offers[1], 1)
	assert.Equal(t, "agent-2", fw.offers[1][0].AgentID)

	assert.Error(t, m.DeclineOffer(ctx, batch[1].ID))
}

func TestAcceptCreatesVolumeAndLaunches(t *testing.T) {
	m, fw, dir := newTestManager(t)
	ctx := context.Background()

	m.Offer(ctx)
	o := fw.offers[0][0]

	vol := &types.PersistentVolume{PersistenceID: "vol-1", AgentID: "agent-1", ContainerPath: "data", SizeMB: 1024}
	p := &offer.Placement{Offers: []types.Offer{o}, AgentID: "agent-1", Hostname: "host-1", Ports: []uint64{9000, 9001}, Volume: vol, NewVolume: true}
	req := types.TaskRequirement{CPUs: 1, MemoryMB: 2048, Ports: []uint64{9000, 0}, Volume: &types.VolumeRequirement{ContainerPath: "data", SizeMB: 1024}}
	task, err := offer.DaemonBuilder{
		Cluster: config.ClusterConfig{Name: "test"},
		Node: config.NodeConfig{
			ProbeURL:   "http://%s:%d/jolokia",
			PollPeriod: 10 * time.Millisecond,
			Command:    "/bin/true",
		},
	}.Build(blockFor(t, req), p)
	require.NoError(t, err)

	res := p.Resources(req, "*")
	ops := []offer.Operation{
		{Type: offer.OpReserve, AgentID: "agent-1", Resources: res},
		{Type: offer.OpCreate, AgentID: "agent-1", Volume: vol},
		{Type: offer.OpLaunch, AgentID: "agent-1", Task: task},
	}
	require.NoError(t, m.AcceptOffers(ctx, []string{o.ID}, ops))

	_, err = os.Stat(filepath.Join(dir, "agent-1", "vol-1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, st := range fw.Statuses() {
			if st.TaskID == task.ID && st.State == types.TaskStateRunning {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	statuses := fw.Statuses()
	assert.Equal(t, types.TaskStateStarting, statuses[0].State)
	assert.Equal(t, "agent-1", statuses[0].AgentID)

	// the held volume and consumed resources are not offered again
	m.Offer(ctx)
	next := fw.offers[len(fw.offers)-1]
	require.NotEmpty(t, next)
	assert.Equal(t, "agent-1", next[0].AgentID)
	assert.Equal(t, 3.0, scalar(next[0].Resources, types.ResourceCPUs))
	for _, r := range next[0].Resources {
		assert.Nil(t, r.Volume)
	}

	require.NoError(t, m.KillTask(ctx, task.ID))
	require.Eventually(t, func() bool {
		return m.Tasks()[task.ID] == types.TaskStateKilled
	}, 2*time.Second, 5*time.Millisecond)

	// after the kill the volume is offered again for reuse
	for _, o := range next {
		require.NoError(t, m.DeclineOffer(ctx, o.ID))
	}
	m.Offer(ctx)
	last := fw.offers[len(fw.offers)-1]
	var offered bool
	for _, r := range last[0].Resources {
		if r.Volume != nil && r.Volume.PersistenceID == "vol-1" {
			offered = true
		}
	}
	assert.True(t, offered)
	assert.Equal(t, 4.0, scalar(last[0].Resources, types.ResourceCPUs))

	m.Stop()
}

func TestAcceptRejectsUnknownOffer(t *testing.T) {
	m, _, _ := newTestManager(t)
	err := m.AcceptOffers(context.Background(), []string{"nope"}, []offer.Operation{{Type: offer.OpReserve, AgentID: "agent-1"}})
	assert.Error(t, err)
}

func TestUnknownTasksAreLost(t *testing.T) {
	m, fw, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.NoError(t, m.KillTask(ctx, "ghost__1"))
	require.NoError(t, m.ReconcileTasks(ctx, []types.TaskStatus{{TaskID: "ghost__2", State: types.TaskStateRunning}}))

	require.Eventually(t, func() bool {
		return len(fw.Statuses()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	statuses := fw.Statuses()
	assert.Equal(t, "ghost__1", statuses[0].TaskID)
	assert.Equal(t, "ghost__2", statuses[1].TaskID)
	for _, st := range statuses {
		assert.Equal(t, types.TaskStateLost, st.State)
	}
}

func TestStartFailsWhenRegistrationFails(t *testing.T) {
	m, fw, _ := newTestManager(t)
	fw.regErr = assert.AnError

	err := m.Start(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, fw.offers)
}

func TestAbort(t *testing.T) {
	m, fw, _ := newTestManager(t)
	ctx := context.Background()

	m.Offer(ctx)
	require.NoError(t, m.Abort())

	assert.ErrorIs(t, m.AcceptOffers(ctx, []string{fw.offers[0][0].ID}, nil), ErrAborted)
	assert.ErrorIs(t, m.KillTask(ctx, "x"), ErrAborted)
	assert.ErrorIs(t, m.ReconcileTasks(ctx, nil), ErrAborted)
}

func TestFreePorts(t *testing.T) {
	a := newAgent(config.AgentConfig{PortsLo: 100, PortsHi: 105})
	a.take([]types.Resource{{Name: types.ResourcePorts, Ranges: []types.Range{{Begin: 102, End: 102}}}})
	assert.Equal(t, []types.Range{{Begin: 100, End: 101}, {Begin: 103, End: 105}}, a.freePorts())

	a.release([]types.Resource{{Name: types.ResourcePorts, Ranges: []types.Range{{Begin: 102, End: 102}}}})
	assert.Equal(t, []types.Range{{Begin: 100, End: 105}}, a.freePorts())
}

func blockFor(t *testing.T, req types.TaskRequirement) *plan.Block {
	t.Helper()
	return plan.NewBlock("node-0", "node-0", req)
}
