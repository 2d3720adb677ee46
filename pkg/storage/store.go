package storage

import (
	"errors"
	"fmt"

	"github.com/cuemby/ringmaster/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Store persists the scheduler's durable state: the framework id issued at
// registration, one task record per node identity, and repair history.
type Store interface {
	// Framework identity
	FrameworkID() (string, error)
	SetFrameworkID(id string) error

	// Task records, keyed by node name
	GetTask(name string) (*types.TaskRecord, error)
	ListTasks() ([]*types.TaskRecord, error)
	PutTask(rec *types.TaskRecord) error
	DeleteTask(name string) error

	// Repair history, keyed by node name
	GetRepair(node string) (*types.RepairRecord, error)
	ListRepairs() ([]*types.RepairRecord, error)
	PutRepair(rec *types.RepairRecord) error

	// Utility
	Close() error
}

// Snapshot is a full copy of a store's content
type Snapshot struct {
	FrameworkID string                `json:"framework_id"`
	Tasks       []*types.TaskRecord   `json:"tasks"`
	Repairs     []*types.RepairRecord `json:"repairs"`
}

// Dump copies every record out of s
func Dump(s Store) (*Snapshot, error) {
	id, err := s.FrameworkID()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to read framework id: %w", err)
	}

	tasks, err := s.ListTasks()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	repairs, err := s.ListRepairs()
	if err != nil {
		return nil, fmt.Errorf("failed to list repairs: %w", err)
	}

	return &Snapshot{FrameworkID: id, Tasks: tasks, Repairs: repairs}, nil
}

// Load writes every record of snap into s, on top of what s already holds
func Load(s Store, snap *Snapshot) error {
	if snap.FrameworkID != "" {
		if err := s.SetFrameworkID(snap.FrameworkID); err != nil {
			return fmt.Errorf("failed to write framework id: %w", err)
		}
	}
	for _, rec := range snap.Tasks {
		if err := s.PutTask(rec); err != nil {
			return fmt.Errorf("failed to write task %s: %w", rec.Name, err)
		}
	}
	for _, rec := range snap.Repairs {
		if err := s.PutRepair(rec); err != nil {
			return fmt.Errorf("failed to write repair record %s: %w", rec.Node, err)
		}
	}
	return nil
}
