package main

import (
	"fmt"
	"time"

	"github.com/cuemby/ringmaster/pkg/config"
	"github.com/cuemby/ringmaster/pkg/state"
	"github.com/cuemby/ringmaster/pkg/storage"
)

// openStore opens the configured state backend. A raft member waits for a
// leader before returning.
func openStore(cfg config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendBolt:
		bs, err := storage.NewBoltStore(cfg.Storage.DataDir)
		if err != nil {
			return nil, err
		}
		return bs, nil

	case config.BackendRaft:
		rs, err := state.Open(state.Config{
			NodeID:    cfg.Storage.RaftNodeID,
			BindAddr:  cfg.Storage.RaftBindAddr,
			DataDir:   cfg.Storage.DataDir,
			Bootstrap: cfg.Storage.RaftBootstrap,
		})
		if err != nil {
			return nil, err
		}
		if err := rs.WaitForLeader(30 * time.Second); err != nil {
			rs.Close()
			return nil, err
		}
		return rs, nil

	case config.BackendEtcd:
		es, err := storage.NewEtcdStore(cfg.Storage.EtcdEndpoints, cfg.Cluster.Name, cfg.Storage.EtcdTimeout)
		if err != nil {
			return nil, err
		}
		return es, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
