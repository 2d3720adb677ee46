package storage

import (
	"testing"
	"time"

	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFrameworkID(t *testing.T) {
	s := newTestStore(t)

	_, err := s.FrameworkID()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetFrameworkID("fw-1"))
	id, err := s.FrameworkID()
	require.NoError(t, err)
	assert.Equal(t, "fw-1", id)

	require.NoError(t, s.SetFrameworkID("fw-2"))
	id, err = s.FrameworkID()
	require.NoError(t, err)
	assert.Equal(t, "fw-2", id)
}

func TestTaskRecords(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetTask("node-0")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := &types.TaskRecord{
		Name:    "node-0",
		TaskID:  "task-a",
		Type:    types.TaskTypeDaemon,
		AgentID: "agent-1",
		State:   types.TaskStateRunning,
		Mode:    types.ModeNormal,
		Volume: &types.PersistentVolume{
			PersistenceID: "vol-0",
			AgentID:       "agent-1",
			ContainerPath: "volume",
			SizeMB:        1024,
		},
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.PutTask(rec))

	got, err := s.GetTask("node-0")
	require.NoError(t, err)
	assert.Equal(t, "task-a", got.TaskID)
	require.NotNil(t, got.Volume)
	assert.Equal(t, "vol-0", got.Volume.PersistenceID)

	// upsert
	rec.TaskID = "task-b"
	require.NoError(t, s.PutTask(rec))
	require.NoError(t, s.PutTask(&types.TaskRecord{Name: "node-1", TaskID: "task-c"}))

	all, err := s.ListTasks()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "task-b", all[0].TaskID)

	require.NoError(t, s.DeleteTask("node-1"))
	all, err = s.ListTasks()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRepairRecords(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRepair("node-0")
	assert.ErrorIs(t, err, ErrNotFound)

	done := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.PutRepair(&types.RepairRecord{Node: "node-0", LastCompleted: done, Result: types.TaskStateFinished}))

	got, err := s.GetRepair("node-0")
	require.NoError(t, err)
	assert.True(t, done.Equal(got.LastCompleted))

	all, err := s.ListRepairs()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDumpAndReplace(t *testing.T) {
	src := newTestStore(t)
	require.NoError(t, src.SetFrameworkID("fw"))
	require.NoError(t, src.PutTask(&types.TaskRecord{Name: "node-0", TaskID: "t0"}))
	require.NoError(t, src.PutRepair(&types.RepairRecord{Node: "node-0"}))

	snap, err := Dump(src)
	require.NoError(t, err)
	assert.Equal(t, "fw", snap.FrameworkID)

	dst := newTestStore(t)
	require.NoError(t, dst.PutTask(&types.TaskRecord{Name: "stale", TaskID: "x"}))
	require.NoError(t, dst.Replace(snap))

	tasks, err := dst.ListTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "node-0", tasks[0].Name)

	id, err := dst.FrameworkID()
	require.NoError(t, err)
	assert.Equal(t, "fw", id)
}

func TestDumpEmptyStore(t *testing.T) {
	snap, err := Dump(newTestStore(t))
	require.NoError(t, err)
	assert.Empty(t, snap.FrameworkID)
	assert.Empty(t, snap.Tasks)
}

func TestLoadKeepsExistingRecords(t *testing.T) {
	dst := newTestStore(t)
	require.NoError(t, dst.PutTask(&types.TaskRecord{Name: "node-9", TaskID: "t9"}))

	require.NoError(t, Load(dst, &Snapshot{
		FrameworkID: "fw",
		Tasks:       []*types.TaskRecord{{Name: "node-0", TaskID: "t0"}},
		Repairs:     []*types.RepairRecord{{Node: "node-0"}},
	}))

	tasks, err := dst.ListTasks()
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	rep, err := dst.GetRepair("node-0")
	require.NoError(t, err)
	assert.Equal(t, "node-0", rep.Node)
}
