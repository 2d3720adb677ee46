package state

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/ringmaster/pkg/storage"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/hashicorp/raft"
)

// Command operations carried in the raft log
const (
	opSetFrameworkID = "set_framework_id"
	opPutTask        = "put_task"
	opDeleteTask     = "delete_task"
	opPutRepair      = "put_repair"
)

// Command is one state change in the raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// FSM applies committed commands to a local BoltStore
type FSM struct {
	mu    sync.RWMutex
	store *storage.BoltStore
}

func NewFSM(store *storage.BoltStore) *FSM {
	return &FSM{store: store}
}

// Apply is called by raft once a log entry is committed
func (f *FSM) Apply(l *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opSetFrameworkID:
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.SetFrameworkID(id)

	case opPutTask:
		var rec types.TaskRecord
		if err := json.Unmarshal(cmd.Data, &rec); err != nil {
			return err
		}
		return f.store.PutTask(&rec)

	case opDeleteTask:
		var name string
		if err := json.Unmarshal(cmd.Data, &name); err != nil {
			return err
		}
		return f.store.DeleteTask(name)

	case opPutRepair:
		var rec types.RepairRecord
		if err := json.Unmarshal(cmd.Data, &rec); err != nil {
			return err
		}
		return f.store.PutRepair(&rec)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot captures the whole store so raft can compact its log
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snap, err := storage.Dump(f.store)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot state: %w", err)
	}
	return &fsmSnapshot{snap: snap}, nil
}

// Restore replaces the local store with a snapshot's content
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap storage.Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.store.Replace(&snap); err != nil {
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}
	return nil
}

type fsmSnapshot struct {
	snap *storage.Snapshot
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.snap); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}
