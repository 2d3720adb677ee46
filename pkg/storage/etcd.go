package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdStore implements Store on an external etcd cluster. Keys live under
// /ringmaster/<cluster>/{framework_id,tasks/<name>,repairs/<node>}.
type EtcdStore struct {
	client  *clientv3.Client
	prefix  string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewEtcdStore connects to etcd
func NewEtcdStore(endpoints []string, cluster string, timeout time.Duration) (*EtcdStore, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return NewEtcdStoreFromClient(cli, cluster, timeout), nil
}

// NewEtcdStoreFromClient wraps an existing client
func NewEtcdStoreFromClient(cli *clientv3.Client, cluster string, timeout time.Duration) *EtcdStore {
	return &EtcdStore{
		client:  cli,
		prefix:  "/ringmaster/" + cluster + "/",
		timeout: timeout,
		logger:  log.WithComponent("etcd-store"),
	}
}

func (e *EtcdStore) frameworkKey() string       { return e.prefix + "framework_id" }
func (e *EtcdStore) taskKey(name string) string { return e.prefix + "tasks/" + name }
func (e *EtcdStore) repairKey(node string) string {
	return e.prefix + "repairs/" + node
}

func (e *EtcdStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), e.timeout)
}

// Close closes the client
func (e *EtcdStore) Close() error {
	return e.client.Close()
}

func (e *EtcdStore) FrameworkID() (string, error) {
	ctx, cancel := e.ctx()
	defer cancel()

	resp, err := e.client.Get(ctx, e.frameworkKey())
	if err != nil {
		return "", err
	}
	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("framework id: %w", ErrNotFound)
	}
	return string(resp.Kvs[0].Value), nil
}

func (e *EtcdStore) SetFrameworkID(id string) error {
	ctx, cancel := e.ctx()
	defer cancel()

	_, err := e.client.Put(ctx, e.frameworkKey(), id)
	return err
}

func (e *EtcdStore) GetTask(name string) (*types.TaskRecord, error) {
	var rec types.TaskRecord
	if err := e.getValue(e.taskKey(name), &rec); err != nil {
		return nil, fmt.Errorf("task %s: %w", name, err)
	}
	return &rec, nil
}

func (e *EtcdStore) ListTasks() ([]*types.TaskRecord, error) {
	var recs []*types.TaskRecord
	err := e.list(e.prefix+"tasks/", func(v []byte) error {
		var rec types.TaskRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		recs = append(recs, &rec)
		return nil
	})
	return recs, err
}

func (e *EtcdStore) PutTask(rec *types.TaskRecord) error {
	return e.putValue(e.taskKey(rec.Name), rec)
}

func (e *EtcdStore) DeleteTask(name string) error {
	ctx, cancel := e.ctx()
	defer cancel()

	_, err := e.client.Delete(ctx, e.taskKey(name))
	return err
}

func (e *EtcdStore) GetRepair(node string) (*types.RepairRecord, error) {
	var rec types.RepairRecord
	if err := e.getValue(e.repairKey(node), &rec); err != nil {
		return nil, fmt.Errorf("repair %s: %w", node, err)
	}
	return &rec, nil
}

func (e *EtcdStore) ListRepairs() ([]*types.RepairRecord, error) {
	var recs []*types.RepairRecord
	err := e.list(e.prefix+"repairs/", func(v []byte) error {
		var rec types.RepairRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		recs = append(recs, &rec)
		return nil
	})
	return recs, err
}

func (e *EtcdStore) PutRepair(rec *types.RepairRecord) error {
	return e.putValue(e.repairKey(rec.Node), rec)
}

func (e *EtcdStore) getValue(key string, v interface{}) error {
	ctx, cancel := e.ctx()
	defer cancel()

	resp, err := e.client.Get(ctx, key)
	if err != nil {
		return err
	}
	if len(resp.Kvs) == 0 {
		return ErrNotFound
	}
	return json.Unmarshal(resp.Kvs[0].Value, v)
}

func (e *EtcdStore) putValue(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	ctx, cancel := e.ctx()
	defer cancel()

	_, err = e.client.Put(ctx, key, string(data))
	return err
}

func (e *EtcdStore) list(prefix string, fn func([]byte) error) error {
	ctx, cancel := e.ctx()
	defer cancel()

	resp, err := e.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return err
	}
	for _, kv := range resp.Kvs {
		if err := fn(kv.Value); err != nil {
			e.logger.Warn().Err(err).Str("key", string(kv.Key)).Msg("Skipping unreadable record")
		}
	}
	return nil
}
