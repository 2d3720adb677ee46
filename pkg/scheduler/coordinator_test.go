package scheduler

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/cuemby/ringmaster/pkg/config"
	"github.com/cuemby/ringmaster/pkg/offer"
	"github.com/cuemby/ringmaster/pkg/plan"
	"github.com/cuemby/ringmaster/pkg/repair"
	"github.com/cuemby/ringmaster/pkg/storage"
	"github.com/cuemby/ringmaster/pkg/tasks"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	failAccept int // refuse this many accepts before succeeding
	launched   []*types.TaskInfo
	declined   []string
	killed     []string
	reconciled [][]types.TaskStatus
	aborted    bool
}

func (d *fakeDriver) AcceptOffers(ctx context.Context, offerIDs []string, ops []offer.Operation) error {
	if d.failAccept > 0 {
		d.failAccept--
		return errors.New("offer no longer outstanding")
	}
	for _, op := range ops {
		if op.Type == offer.OpLaunch {
			d.launched = append(d.launched, op.Task)
		}
	}
	return nil
}

func (d *fakeDriver) DeclineOffer(ctx context.Context, offerID string) error {
	d.declined = append(d.declined, offerID)
	return nil
}

func (d *fakeDriver) KillTask(ctx context.Context, taskID string) error {
	d.killed = append(d.killed, taskID)
	return nil
}

func (d *fakeDriver) ReconcileTasks(ctx context.Context, statuses []types.TaskStatus) error {
	d.reconciled = append(d.reconciled, statuses)
	return nil
}

func (d *fakeDriver) Abort() error {
	d.aborted = true
	return nil
}

type failingStore struct {
	storage.Store
}

func (failingStore) SetFrameworkID(string) error { return errors.New("disk full") }

type greedyBackup struct{}

func (greedyBackup) ResourceOffers(ctx context.Context, offers []types.Offer) []string {
	var ids []string
	for _, o := range offers {
		ids = append(ids, o.ID)
	}
	// Claims that were never offered must be ignored
	return append(ids, "phantom")
}

type fixture struct {
	coord    *Coordinator
	driver   *fakeDriver
	plans    *plan.Manager
	registry *tasks.Registry
}

func newFixture(t *testing.T, store storage.Store, backup BackupStage) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Cluster.Nodes = 4
	cfg.Cluster.Seeds = 2
	cfg.Cluster.CPUs = 1
	cfg.Cluster.MemoryMB = 1024
	cfg.Cluster.DiskMB = 100
	cfg.Cluster.VolumeMB = 1000
	cfg.Cluster.Ports = []uint64{9042}

	p, err := plan.InstallFactory{}.Build(cfg.Cluster)
	require.NoError(t, err)
	plans := plan.NewManager(p, nil)

	registry, err := tasks.NewRegistry(store)
	require.NoError(t, err)

	driver := &fakeDriver{}
	accepter := offer.NewAccepter(driver, registry)
	coord := NewCoordinator(Options{
		Driver:   driver,
		Identity: NewIdentityManager(store),
		Plans:    plans,
		Registry: registry,
		Plan:     offer.NewPlanScheduler(accepter, offer.DaemonBuilder{Cluster: cfg.Cluster, Node: cfg.Node}, registry),
		Repair: repair.NewScheduler(accepter, registry, plans, repair.IntervalPolicy{Interval: time.Hour},
			repair.Config{CPUs: 0.1, MemoryMB: 32, MaxConcurrent: 2}),
		Backup: backup,
	})
	return &fixture{coord: coord, driver: driver, plans: plans, registry: registry}
}

func newStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func bigOffer(id, agent string) types.Offer {
	return types.Offer{
		ID:       id,
		AgentID:  agent,
		Hostname: agent,
		Resources: []types.Resource{
			{Name: types.ResourceCPUs, Scalar: 2},
			{Name: types.ResourceMem, Scalar: 2048},
			{Name: types.ResourceDisk, Scalar: 5000},
			{Name: types.ResourcePorts, Ranges: []types.Range{{Begin: 9000, End: 9100}}},
		},
	}
}

func smallOffer(id, agent string) types.Offer {
	return types.Offer{
		ID:      id,
		AgentID: agent,
		Resources: []types.Resource{
			{Name: types.ResourceCPUs, Scalar: 0.5},
			{Name: types.ResourceMem, Scalar: 256},
		},
	}
}

func normal(t *testing.T, taskID string) types.TaskStatus {
	t.Helper()
	data, err := types.EncodeNodeStatus(types.NodeStatus{NodeID: "n", Mode: types.ModeNormal, State: types.TaskStateRunning, Timestamp: time.Now()})
	require.NoError(t, err)
	return types.TaskStatus{TaskID: taskID, State: types.TaskStateRunning, Data: data}
}

func register(t *testing.T, f *fixture) {
	t.Helper()
	require.NoError(t, f.coord.Registered(context.Background(), "fw-1", MasterInfo{Hostname: "master", Port: 5050}))
}

func TestDeclinesEverythingBeforeRegistration(t *testing.T) {
	f := newFixture(t, newStore(t), nil)

	res := f.coord.ResourceOffers(context.Background(), []types.Offer{bigOffer("o1", "a1"), bigOffer("o2", "a2")})
	assert.Empty(t, res.Plan)
	assert.Equal(t, []string{"o1", "o2"}, res.Declined)
	assert.Equal(t, []string{"o1", "o2"}, f.driver.declined)
	assert.Empty(t, f.driver.launched)
}

func TestRegistrationPersistsIdentity(t *testing.T) {
	store := newStore(t)
	f := newFixture(t, store, nil)
	register(t, f)

	id, err := store.FrameworkID()
	require.NoError(t, err)
	assert.Equal(t, "fw-1", id)
	assert.True(t, f.coord.IsRegistered())
	assert.Len(t, f.driver.reconciled, 1)
}

func TestRegistrationFailureIsFatal(t *testing.T) {
	f := newFixture(t, failingStore{newStore(t)}, nil)

	err := f.coord.Registered(context.Background(), "fw-1", MasterInfo{})
	assert.Error(t, err)
	assert.True(t, f.driver.aborted)
	assert.False(t, f.coord.IsRegistered())
}

func TestFirstBatchLaunchesOnlyFirstBlock(t *testing.T) {
	f := newFixture(t, newStore(t), nil)
	register(t, f)

	offers := []types.Offer{smallOffer("o1", "a1"), bigOffer("o2", "a2"), bigOffer("o3", "a3")}
	res := f.coord.ResourceOffers(context.Background(), offers)

	assert.Equal(t, []string{"o2"}, res.Plan)
	assert.Empty(t, res.Repair)
	assert.Equal(t, []string{"o1", "o3"}, res.Declined)

	blocks := f.plans.Plan().Blocks()
	assert.True(t, blocks[0].IsInProgress())
	for _, b := range blocks[1:] {
		assert.True(t, b.IsPending(), b.Name())
	}
	require.Len(t, f.driver.launched, 1)
	assert.Equal(t, "node-0", f.driver.launched[0].NodeName)
}

func TestStatusAdvancesPlan(t *testing.T) {
	f := newFixture(t, newStore(t), nil)
	register(t, f)

	f.coord.ResourceOffers(context.Background(), []types.Offer{bigOffer("o1", "a1")})
	taskID := f.plans.Plan().Blocks()[0].TaskID()
	require.NotEmpty(t, taskID)

	f.coord.StatusUpdate(context.Background(), normal(t, taskID))
	assert.True(t, f.plans.Plan().Blocks()[0].IsComplete())

	rec, err := f.registry.Get("node-0")
	require.NoError(t, err)
	assert.Equal(t, types.ModeNormal, rec.Mode)
	assert.Equal(t, types.TaskStateRunning, rec.State)

	res := f.coord.ResourceOffers(context.Background(), []types.Offer{bigOffer("o2", "a2")})
	assert.Equal(t, []string{"o2"}, res.Plan)
	assert.True(t, f.plans.Plan().Blocks()[1].IsInProgress())
}

func TestRepairWaitsForDeployment(t *testing.T) {
	f := newFixture(t, newStore(t), nil)
	register(t, f)

	f.coord.ResourceOffers(context.Background(), []types.Offer{bigOffer("o1", "a1")})
	f.coord.StatusUpdate(context.Background(), normal(t, f.plans.Plan().Blocks()[0].TaskID()))

	// node-1 gets launched in this batch, so node-0 is not repaired
	res := f.coord.ResourceOffers(context.Background(), []types.Offer{bigOffer("o2", "a2"), smallOffer("o3", "a1")})
	assert.Equal(t, []string{"o2"}, res.Plan)
	assert.Empty(t, res.Repair)
	assert.Equal(t, []string{"o3"}, res.Declined)

	f.plans.Interrupt()
	f.coord.StatusUpdate(context.Background(), normal(t, f.plans.Plan().Blocks()[1].TaskID()))

	res = f.coord.ResourceOffers(context.Background(), []types.Offer{smallOffer("o4", "a1"), smallOffer("o5", "a2"), bigOffer("o6", "a3")})
	assert.Empty(t, res.Plan)
	assert.Equal(t, []string{"o4", "o5"}, res.Repair)
	assert.Equal(t, []string{"o6"}, res.Declined)
}

func TestAcceptedSetsAreDisjoint(t *testing.T) {
	f := newFixture(t, newStore(t), greedyBackup{})
	register(t, f)

	offers := []types.Offer{smallOffer("o1", "a1"), bigOffer("o2", "a2"), bigOffer("o3", "a3")}
	res := f.coord.ResourceOffers(context.Background(), offers)

	assert.Equal(t, []string{"o2"}, res.Plan)
	assert.Equal(t, []string{"o1", "o3"}, res.Backup)
	assert.Empty(t, res.Declined)

	all := append(append(append([]string{}, res.Plan...), res.Repair...), res.Backup...)
	all = append(all, res.Declined...)
	sort.Strings(all)
	assert.Equal(t, []string{"o1", "o2", "o3"}, all)
}

func TestKillingStatusKillsTask(t *testing.T) {
	f := newFixture(t, newStore(t), nil)
	register(t, f)

	data, err := types.EncodeNodeStatus(types.NodeStatus{NodeID: "n", Mode: types.ModeUnknown, State: types.TaskStateKilling, Timestamp: time.Now()})
	require.NoError(t, err)
	f.coord.StatusUpdate(context.Background(), types.TaskStatus{TaskID: "t1", State: types.TaskStateKilling, Data: data})
	assert.Equal(t, []string{"t1"}, f.driver.killed)
}

func TestFailedTaskResetsBlock(t *testing.T) {
	f := newFixture(t, newStore(t), nil)
	register(t, f)

	f.coord.ResourceOffers(context.Background(), []types.Offer{bigOffer("o1", "a1")})
	block := f.plans.Plan().Blocks()[0]
	f.coord.StatusUpdate(context.Background(), types.TaskStatus{TaskID: block.TaskID(), State: types.TaskStateFailed})
	assert.True(t, block.IsPending())

	// The relaunch goes back to the agent holding the node's volume
	res := f.coord.ResourceOffers(context.Background(), []types.Offer{bigOffer("o2", "a2")})
	assert.Empty(t, res.Plan)

	rec, err := f.registry.Get("node-0")
	require.NoError(t, err)
	require.NotNil(t, rec.Volume)
	withVolume := bigOffer("o3", "a1")
	withVolume.Resources = append(withVolume.Resources, types.Resource{Name: types.ResourceDisk, Scalar: rec.Volume.SizeMB, Volume: rec.Volume})
	res = f.coord.ResourceOffers(context.Background(), []types.Offer{withVolume})
	assert.Equal(t, []string{"o3"}, res.Plan)
}

func TestRefusedLaunchDoesNotStallPlan(t *testing.T) {
	f := newFixture(t, newStore(t), nil)
	register(t, f)
	f.driver.failAccept = 1

	res := f.coord.ResourceOffers(context.Background(), []types.Offer{bigOffer("o1", "a1")})
	assert.Empty(t, res.Plan)
	assert.Equal(t, []string{"o1"}, res.Declined)
	assert.True(t, f.plans.Plan().Blocks()[0].IsPending())

	// The volume of the refused launch was never created, so it is not pinned
	_, err := f.registry.Get("node-0")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	vol, _ := f.registry.Prior("node-0")
	assert.Nil(t, vol)

	res = f.coord.ResourceOffers(context.Background(), []types.Offer{bigOffer("o2", "a2")})
	assert.Equal(t, []string{"o2"}, res.Plan)
	assert.True(t, f.plans.Plan().Blocks()[0].IsInProgress())
	require.Len(t, f.driver.launched, 1)
	assert.Equal(t, "a2", f.driver.launched[0].AgentID)
}

func TestObservabilityCallbacksHaveNoEffect(t *testing.T) {
	f := newFixture(t, newStore(t), nil)
	register(t, f)

	f.coord.OfferRescinded("o1")
	f.coord.SlaveLost("a1")
	f.coord.ExecutorLost("e1", "a1", 1)
	f.coord.Disconnected()
	f.coord.Error("boom")
	f.coord.FrameworkMessage("e1", "a1", []byte("hi"))

	assert.True(t, f.coord.IsRegistered())
	assert.False(t, f.plans.AnyInProgress())
	assert.Empty(t, f.driver.killed)
}

func TestMetricsSource(t *testing.T) {
	f := newFixture(t, newStore(t), nil)
	register(t, f)
	f.coord.ResourceOffers(context.Background(), []types.Offer{bigOffer("o1", "a1")})

	assert.Equal(t, 1, f.coord.BlockCounts()["InProgress"])
	assert.Equal(t, 1, f.coord.TaskCounts()["staging"])
}
