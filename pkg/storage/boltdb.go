package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/ringmaster/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketFramework = []byte("framework")
	bucketTasks     = []byte("tasks")
	bucketRepairs   = []byte("repairs")

	keyFrameworkID = []byte("id")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) ringmaster.db inside dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	return OpenBoltStore(filepath.Join(dataDir, "ringmaster.db"))
}

// OpenBoltStore opens a BoltDB file at an explicit path
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketFramework, bucketTasks, bucketRepairs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Framework operations
func (s *BoltStore) FrameworkID() (string, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFramework).Get(keyFrameworkID)
		if data == nil {
			return fmt.Errorf("framework id: %w", ErrNotFound)
		}
		id = string(data)
		return nil
	})
	return id, err
}

func (s *BoltStore) SetFrameworkID(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFramework).Put(keyFrameworkID, []byte(id))
	})
}

// Task operations
func (s *BoltStore) GetTask(name string) (*types.TaskRecord, error) {
	var rec types.TaskRecord
	if err := s.get(bucketTasks, name, &rec); err != nil {
		return nil, fmt.Errorf("task %s: %w", name, err)
	}
	return &rec, nil
}

func (s *BoltStore) ListTasks() ([]*types.TaskRecord, error) {
	var recs []*types.TaskRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var rec types.TaskRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, &rec)
			return nil
		})
	})
	return recs, err
}

func (s *BoltStore) PutTask(rec *types.TaskRecord) error {
	return s.put(bucketTasks, rec.Name, rec)
}

func (s *BoltStore) DeleteTask(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Delete([]byte(name))
	})
}

// Repair operations
func (s *BoltStore) GetRepair(node string) (*types.RepairRecord, error) {
	var rec types.RepairRecord
	if err := s.get(bucketRepairs, node, &rec); err != nil {
		return nil, fmt.Errorf("repair %s: %w", node, err)
	}
	return &rec, nil
}

func (s *BoltStore) ListRepairs() ([]*types.RepairRecord, error) {
	var recs []*types.RepairRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRepairs).ForEach(func(k, v []byte) error {
			var rec types.RepairRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, &rec)
			return nil
		})
	})
	return recs, err
}

func (s *BoltStore) PutRepair(rec *types.RepairRecord) error {
	return s.put(bucketRepairs, rec.Node, rec)
}

// Replace discards the current content and loads snap in a single transaction
func (s *BoltStore) Replace(snap *Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketFramework, bucketTasks, bucketRepairs} {
			if err := tx.DeleteBucket(bucket); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}

		if snap.FrameworkID != "" {
			if err := tx.Bucket(bucketFramework).Put(keyFrameworkID, []byte(snap.FrameworkID)); err != nil {
				return err
			}
		}
		for _, rec := range snap.Tasks {
			if err := putJSON(tx.Bucket(bucketTasks), rec.Name, rec); err != nil {
				return err
			}
		}
		for _, rec := range snap.Repairs {
			if err := putJSON(tx.Bucket(bucketRepairs), rec.Node, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) get(bucket []byte, key string, v interface{}) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, v)
	})
}

// put is an upsert
func (s *BoltStore) put(bucket []byte, key string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucket), key, v)
	})
}

func putJSON(b *bolt.Bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}
