package tasks

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/cuemby/ringmaster/pkg/offer"
	"github.com/cuemby/ringmaster/pkg/storage"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/rs/zerolog"
)

// Registry tracks one task record per node, plus repair history, and writes
// every change through to the store.
type Registry struct {
	store  storage.Store
	logger zerolog.Logger

	mu      sync.RWMutex
	records map[string]*types.TaskRecord
	repairs map[string]*types.RepairRecord

	// What each node's record looked like before its latest launch, so a
	// launch the driver refuses can be undone. A nil entry means no record.
	undo       map[string]*types.TaskRecord
	undoRepair map[string]*types.RepairRecord
}

// NewRegistry loads existing records from store
func NewRegistry(store storage.Store) (*Registry, error) {
	r := &Registry{
		store:   store,
		logger:  log.WithComponent("tasks"),
		records: make(map[string]*types.TaskRecord),
		repairs: make(map[string]*types.RepairRecord),

		undo:       make(map[string]*types.TaskRecord),
		undoRepair: make(map[string]*types.RepairRecord),
	}

	recs, err := store.ListTasks()
	if err != nil {
		return nil, fmt.Errorf("failed to load task records: %w", err)
	}
	for _, rec := range recs {
		r.records[rec.Name] = rec
	}

	repairs, err := store.ListRepairs()
	if err != nil {
		return nil, fmt.Errorf("failed to load repair records: %w", err)
	}
	for _, rep := range repairs {
		r.repairs[rep.Node] = rep
	}

	r.logger.Info().Int("tasks", len(recs)).Int("repairs", len(repairs)).Msg("Task registry loaded")
	return r, nil
}

// Get returns a copy of the record for node
func (r *Registry) Get(node string) (*types.TaskRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[node]
	if !ok {
		return nil, fmt.Errorf("task record %s: %w", node, storage.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

// List returns copies of all records sorted by node name
func (r *Registry) List() []*types.TaskRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.TaskRecord, 0, len(r.records))
	for _, rec := range r.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Prior returns the persistent volume node placed earlier and its replace flag
func (r *Registry) Prior(node string) (*types.PersistentVolume, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[node]
	if !ok {
		return nil, false
	}
	return rec.Volume, rec.Replace
}

// MarkReplace allows node to be placed on a fresh agent if its volume's agent never returns
func (r *Registry) MarkReplace(node string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[node]
	if !ok {
		return fmt.Errorf("task record %s: %w", node, storage.ErrNotFound)
	}
	rec.Replace = true
	rec.UpdatedAt = time.Now()
	if err := r.store.PutTask(rec); err != nil {
		return fmt.Errorf("failed to persist replace for %s: %w", node, err)
	}
	r.logger.Warn().Str("node_id", node).Msg("Node marked for replacement")
	return nil
}

// Record persists launched tasks. It implements offer.OperationRecorder and
// runs before offers are accepted.
func (r *Registry) Record(op offer.Operation, offerIDs []string) error {
	if op.Type != offer.OpLaunch || op.Task == nil {
		return nil
	}
	task := op.Task

	r.mu.Lock()
	defer r.mu.Unlock()

	if task.Type != types.TaskTypeDaemon {
		return r.recordAdminLocked(task)
	}

	rec, ok := r.records[task.NodeName]
	if !ok {
		rec = &types.TaskRecord{Name: task.NodeName}
	}
	next := *rec
	next.TaskID = task.ID
	next.Type = task.Type
	next.AgentID = task.AgentID
	next.ExecutorID = task.ExecutorID
	next.State = types.TaskStateStaging
	next.Mode = types.ModeStarting
	next.Block = task.NodeName
	next.Replace = false
	next.Info = task
	next.UpdatedAt = time.Now()
	for _, res := range task.Resources {
		if res.Volume != nil {
			next.Volume = res.Volume
		}
	}

	if err := r.store.PutTask(&next); err != nil {
		return fmt.Errorf("failed to persist task %s: %w", task.ID, err)
	}
	if ok {
		r.undo[task.NodeName] = rec
	} else {
		r.undo[task.NodeName] = nil
	}
	r.records[task.NodeName] = &next
	return nil
}

func (r *Registry) recordAdminLocked(task *types.TaskInfo) error {
	if task.Type != types.TaskTypeRepair {
		return nil
	}
	rep, ok := r.repairs[task.NodeName]
	if !ok {
		rep = &types.RepairRecord{Node: task.NodeName}
	}
	next := *rep
	next.TaskID = task.ID
	next.InFlight = true
	next.LastStarted = time.Now()
	next.Result = types.TaskStateStaging

	if err := r.store.PutRepair(&next); err != nil {
		return fmt.Errorf("failed to persist repair %s: %w", task.ID, err)
	}
	if ok {
		r.undoRepair[task.NodeName] = rep
	} else {
		r.undoRepair[task.NodeName] = nil
	}
	r.repairs[task.NodeName] = &next
	return nil
}

// Revert restores the record a launch replaced. It implements
// offer.OperationReverter and runs when the driver refuses the launch.
func (r *Registry) Revert(op offer.Operation) error {
	if op.Type != offer.OpLaunch || op.Task == nil {
		return nil
	}
	task := op.Task

	r.mu.Lock()
	defer r.mu.Unlock()

	if task.Type == types.TaskTypeRepair {
		return r.revertRepairLocked(task)
	}
	if task.Type != types.TaskTypeDaemon {
		return nil
	}

	cur, ok := r.records[task.NodeName]
	if !ok || cur.TaskID != task.ID {
		return nil
	}
	prev, ok := r.undo[task.NodeName]
	if !ok {
		return nil
	}
	delete(r.undo, task.NodeName)

	if prev == nil {
		if err := r.store.DeleteTask(task.NodeName); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to revert task %s: %w", task.ID, err)
		}
		delete(r.records, task.NodeName)
	} else {
		if err := r.store.PutTask(prev); err != nil {
			return fmt.Errorf("failed to revert task %s: %w", task.ID, err)
		}
		r.records[task.NodeName] = prev
	}
	r.logger.Warn().Str("node_id", task.NodeName).Str("task_id", task.ID).Msg("Launch refused, task record reverted")
	return nil
}

func (r *Registry) revertRepairLocked(task *types.TaskInfo) error {
	cur, ok := r.repairs[task.NodeName]
	if !ok || cur.TaskID != task.ID {
		return nil
	}
	prev, ok := r.undoRepair[task.NodeName]
	if !ok {
		return nil
	}
	delete(r.undoRepair, task.NodeName)

	if prev == nil {
		prev = &types.RepairRecord{Node: task.NodeName}
	}
	if err := r.store.PutRepair(prev); err != nil {
		return fmt.Errorf("failed to revert repair %s: %w", task.ID, err)
	}
	r.repairs[task.NodeName] = prev
	return nil
}

// Update applies a status update to the record owning status.TaskID.
// Updates for unknown tasks are ignored.
func (r *Registry) Update(status types.TaskStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, rec := range r.records {
		if rec.TaskID != status.TaskID {
			continue
		}
		next := *rec
		next.State = status.State
		if mode, ok := types.ModeFromStatus(status); ok {
			next.Mode = mode
		}
		next.UpdatedAt = time.Now()
		if err := r.store.PutTask(&next); err != nil {
			return fmt.Errorf("failed to persist status of %s: %w", status.TaskID, err)
		}
		r.records[name] = &next
		return nil
	}

	for node, rep := range r.repairs {
		if rep.TaskID != status.TaskID {
			continue
		}
		next := *rep
		next.Result = status.State
		if status.State.IsTerminal() {
			next.InFlight = false
			if status.State == types.TaskStateFinished {
				next.LastCompleted = time.Now()
			}
		}
		if err := r.store.PutRepair(&next); err != nil {
			return fmt.Errorf("failed to persist repair status of %s: %w", status.TaskID, err)
		}
		r.repairs[node] = &next
		return nil
	}

	r.logger.Debug().Str("task_id", status.TaskID).Str("state", string(status.State)).Msg("Status for unknown task")
	return nil
}

// Repair returns a copy of node's repair record, or nil if it was never repaired
func (r *Registry) Repair(node string) *types.RepairRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rep, ok := r.repairs[node]
	if !ok {
		return nil
	}
	cp := *rep
	return &cp
}

// Statuses returns the last known status of every non-terminal task, for reconciliation
func (r *Registry) Statuses() []types.TaskStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.TaskStatus
	for _, rec := range r.records {
		if rec.TaskID == "" || rec.State.IsTerminal() {
			continue
		}
		out = append(out, types.TaskStatus{TaskID: rec.TaskID, AgentID: rec.AgentID, State: rec.State})
	}
	for _, rep := range r.repairs {
		if rep.InFlight && rep.TaskID != "" {
			out = append(out, types.TaskStatus{TaskID: rep.TaskID, State: rep.Result})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// TaskCounts returns the number of node tasks per state
func (r *Registry) TaskCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, rec := range r.records {
		if rec.State != "" {
			counts[string(rec.State)]++
		}
	}
	return counts
}

// Delete forgets node entirely, including its volume binding
func (r *Registry) Delete(node string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.DeleteTask(node); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete task record %s: %w", node, err)
	}
	delete(r.records, node)
	return nil
}
