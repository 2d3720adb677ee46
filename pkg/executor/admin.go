package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/ringmaster/pkg/admin"
	"github.com/cuemby/ringmaster/pkg/probe"
	"github.com/cuemby/ringmaster/pkg/types"
)

// RunAdmin runs the administrative command of an admin task type
func RunAdmin(ctx context.Context, a *admin.Admin, typ types.TaskType, cfg types.AdminConfig) error {
	switch typ {
	case types.TaskTypeRepair:
		return perKeyspace(ctx, a, cfg.Keyspaces, func(ks string) error {
			return a.Repair(ctx, ks, cfg.Families...)
		})

	case types.TaskTypeCleanup:
		if len(cfg.Keyspaces) == 0 {
			return resultsErr(a.CleanupAll(ctx))
		}
		return perKeyspace(ctx, a, cfg.Keyspaces, func(ks string) error {
			return a.Cleanup(ctx, ks, cfg.Families...)
		})

	case types.TaskTypeCompaction:
		if len(cfg.Keyspaces) == 0 {
			return resultsErr(a.CompactAll(ctx))
		}
		return perKeyspace(ctx, a, cfg.Keyspaces, func(ks string) error {
			return a.Compact(ctx, ks, cfg.Families...)
		})

	case types.TaskTypeUpgradeSSTables:
		return perKeyspace(ctx, a, cfg.Keyspaces, func(ks string) error {
			return a.UpgradeSSTables(ctx, ks, cfg.Families...)
		})

	// Uploading the snapshot elsewhere is the backup collaborator's job
	case types.TaskTypeSnapshot, types.TaskTypeBackup:
		return a.TakeSnapshot(ctx, cfg.SnapshotName, cfg.Keyspaces...)

	case types.TaskTypeDecommission:
		return a.Decommission(ctx)

	default:
		return fmt.Errorf("unsupported task type %q", typ)
	}
}

// perKeyspace stops at the first failure; no keyspaces means every non-system keyspace
func perKeyspace(ctx context.Context, a *admin.Admin, keyspaces []string, fn func(ks string) error) error {
	if len(keyspaces) == 0 {
		var err error
		keyspaces, err = a.NonSystemKeyspaces(ctx)
		if err != nil {
			return err
		}
	}
	for _, ks := range keyspaces {
		if err := fn(ks); err != nil {
			return fmt.Errorf("keyspace %s: %w", ks, err)
		}
	}
	return nil
}

func resultsErr(results []admin.Result, err error) error {
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("keyspace %s: %w", r.Keyspace, r.Err))
		}
	}
	return errors.Join(errs...)
}

// adminOutcome maps a command error onto the task's final state
func adminOutcome(typ types.TaskType, err error) (types.TaskState, string) {
	switch {
	case err == nil:
		return types.TaskStateFinished, fmt.Sprintf("%s complete", typ)
	case errors.Is(err, probe.ErrInterrupted):
		return types.TaskStateKilled, fmt.Sprintf("%s interrupted: %v", typ, err)
	default:
		return types.TaskStateFailed, fmt.Sprintf("%s failed (%s): %v", typ, probe.KindLabel(err), err)
	}
}
