package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/cuemby/ringmaster/pkg/metrics"
	"github.com/cuemby/ringmaster/pkg/storage"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// Config configures a ReplicatedStore
type Config struct {
	NodeID       string
	BindAddr     string
	DataDir      string
	Bootstrap    bool
	ApplyTimeout time.Duration
}

// ReplicatedStore is a storage.Store shared by a group of schedulers. Writes
// go through the raft log and are applied to every member's local BoltStore;
// reads are served locally. Only the leader accepts writes.
type ReplicatedStore struct {
	raft    *raft.Raft
	local   *storage.BoltStore
	timeout time.Duration
	closers []func() error
	stopCh  chan struct{}
	logger  zerolog.Logger
}

var _ storage.Store = (*ReplicatedStore)(nil)

func raftConfig(nodeID string) *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(nodeID)

	// LAN failover; a standby scheduler takes over within a few seconds
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

// Open starts a raft member persisting under cfg.DataDir
func Open(cfg Config) (*ReplicatedStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	local, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		logStore.Close()
		local.Close()
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	s, err := open(cfg, local, logStore, stableStore, snapshots, transport)
	if err != nil {
		stableStore.Close()
		logStore.Close()
		local.Close()
		return nil, err
	}
	s.closers = append(s.closers, transport.Close, logStore.Close, stableStore.Close)
	return s, nil
}

func open(cfg Config, local *storage.BoltStore, logs raft.LogStore, stable raft.StableStore,
	snaps raft.SnapshotStore, trans raft.Transport) (*ReplicatedStore, error) {

	config := raftConfig(cfg.NodeID)

	existing, err := raft.HasExistingState(logs, stable, snaps)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect raft state: %w", err)
	}

	r, err := raft.NewRaft(config, NewFSM(local), logs, stable, snaps, trans)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	if cfg.Bootstrap && !existing {
		future := r.BootstrapCluster(raft.Configuration{
			Servers: []raft.Server{{ID: config.LocalID, Address: trans.LocalAddr()}},
		})
		if err := future.Error(); err != nil {
			r.Shutdown()
			return nil, fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
	}

	timeout := cfg.ApplyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	s := &ReplicatedStore{
		raft:    r,
		local:   local,
		timeout: timeout,
		stopCh:  make(chan struct{}),
		logger:  log.WithComponent("state"),
	}
	s.closers = []func() error{local.Close}
	go s.watchLeadership()

	s.logger.Info().Str("node_id", cfg.NodeID).Bool("bootstrap", cfg.Bootstrap && !existing).Msg("Raft member started")
	return s, nil
}

func (s *ReplicatedStore) watchLeadership() {
	for {
		select {
		case leader := <-s.raft.LeaderCh():
			if leader {
				metrics.RaftLeader.Set(1)
				s.logger.Info().Msg("Became raft leader")
			} else {
				metrics.RaftLeader.Set(0)
				s.logger.Warn().Msg("Lost raft leadership")
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *ReplicatedStore) apply(op string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", op, err)
	}
	cmd, err := json.Marshal(Command{Op: op, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := s.raft.Apply(cmd, s.timeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply %s: %w", op, err)
	}
	metrics.RaftAppliedIndex.Set(float64(s.raft.AppliedIndex()))

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

func (s *ReplicatedStore) FrameworkID() (string, error) { return s.local.FrameworkID() }

func (s *ReplicatedStore) SetFrameworkID(id string) error { return s.apply(opSetFrameworkID, id) }

func (s *ReplicatedStore) GetTask(name string) (*types.TaskRecord, error) {
	return s.local.GetTask(name)
}

func (s *ReplicatedStore) ListTasks() ([]*types.TaskRecord, error) { return s.local.ListTasks() }

func (s *ReplicatedStore) PutTask(rec *types.TaskRecord) error { return s.apply(opPutTask, rec) }

func (s *ReplicatedStore) DeleteTask(name string) error { return s.apply(opDeleteTask, name) }

func (s *ReplicatedStore) GetRepair(node string) (*types.RepairRecord, error) {
	return s.local.GetRepair(node)
}

func (s *ReplicatedStore) ListRepairs() ([]*types.RepairRecord, error) {
	return s.local.ListRepairs()
}

func (s *ReplicatedStore) PutRepair(rec *types.RepairRecord) error {
	return s.apply(opPutRepair, rec)
}

// IsLeader reports whether this member accepts writes
func (s *ReplicatedStore) IsLeader() bool {
	return s.raft.State() == raft.Leader
}

// Leader returns the address of the current leader
func (s *ReplicatedStore) Leader() string {
	addr, _ := s.raft.LeaderWithID()
	return string(addr)
}

// WaitForLeader blocks until some member is leader or timeout passes
func (s *ReplicatedStore) WaitForLeader(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Leader() != "" {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return errors.New("timed out waiting for raft leader")
}

// AddVoter adds a scheduler to the group. Leader only.
func (s *ReplicatedStore) AddVoter(nodeID, address string) error {
	if !s.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", s.Leader())
	}
	future := s.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}
	s.logger.Info().Str("node_id", nodeID).Str("address", address).Msg("Added voter")
	return nil
}

// RemoveServer removes a scheduler from the group. Leader only.
func (s *ReplicatedStore) RemoveServer(nodeID string) error {
	if !s.IsLeader() {
		return errors.New("not the leader")
	}
	future := s.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	return nil
}

// Stats returns raft statistics
func (s *ReplicatedStore) Stats() map[string]interface{} {
	return map[string]interface{}{
		"state":          s.raft.State().String(),
		"last_log_index": s.raft.LastIndex(),
		"applied_index":  s.raft.AppliedIndex(),
		"leader":         s.Leader(),
	}
}

// Close shuts raft down and closes the local stores
func (s *ReplicatedStore) Close() error {
	close(s.stopCh)

	var errs []error
	if err := s.raft.Shutdown().Error(); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown raft: %w", err))
	}
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
