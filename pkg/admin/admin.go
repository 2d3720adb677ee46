// Package admin issues administrative commands to a running node through its
// probe. Commands are synchronous and never retried; failures keep the probe's
// failure kind so callers can tell transport, invalid-argument and
// interruption failures apart with errors.Is.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/cuemby/ringmaster/pkg/metrics"
	"github.com/cuemby/ringmaster/pkg/probe"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/rs/zerolog"
)

// SystemKeyspaces are skipped by CleanupAll and CompactAll
var SystemKeyspaces = []string{"system", "system_schema"}

// IsSystemKeyspace reports whether ks is one of SystemKeyspaces
func IsSystemKeyspace(ks string) bool {
	for _, s := range SystemKeyspaces {
		if s == ks {
			return true
		}
	}
	return false
}

// Result is the outcome of one keyspace in a multi-keyspace command
type Result struct {
	Keyspace string `json:"keyspace"`
	Err      error  `json:"-"`
	Error    string `json:"error,omitempty"`
}

// Admin wraps a node's probe
type Admin struct {
	probe      probe.Probe
	repairPoll time.Duration
	logger     zerolog.Logger
}

// New creates an Admin. Repair completion is polled every second.
func New(p probe.Probe) *Admin {
	return &Admin{
		probe:      p,
		repairPoll: time.Second,
		logger:     log.WithComponent("admin"),
	}
}

// WithRepairPoll overrides the repair status poll period
func (a *Admin) WithRepairPoll(d time.Duration) *Admin {
	a.repairPoll = d
	return a
}

func (a *Admin) observe(op string, err error) error {
	metrics.AdminCommands.WithLabelValues(op, probe.KindLabel(err)).Inc()
	if err != nil {
		a.logger.Warn().Err(err).Str("op", op).Str("kind", probe.KindLabel(err)).Msg("Administrative command failed")
	}
	return err
}

func interrupted(op string, err error) error {
	return &probe.Error{Op: op, Kind: probe.ErrInterrupted, Err: err}
}

// Keyspaces lists every keyspace on the node
func (a *Admin) Keyspaces(ctx context.Context) ([]string, error) {
	ks, err := a.probe.Keyspaces(ctx)
	return ks, a.observe("keyspaces", err)
}

// NonSystemKeyspaces lists keyspaces excluding SystemKeyspaces
func (a *Admin) NonSystemKeyspaces(ctx context.Context) ([]string, error) {
	all, err := a.Keyspaces(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, ks := range all {
		if !IsSystemKeyspace(ks) {
			out = append(out, ks)
		}
	}
	return out, nil
}

// Mode returns the node's operation mode
func (a *Admin) Mode(ctx context.Context) (types.Mode, error) {
	mode, err := a.probe.OperationMode(ctx)
	return mode, a.observe("mode", err)
}

// Status collects a NodeInfo
func (a *Admin) Status(ctx context.Context) (types.NodeInfo, error) {
	info, err := probe.Snapshot(ctx, a.probe)
	return info, a.observe("status", err)
}

// Cleanup removes data the node no longer owns. No families means the whole keyspace.
func (a *Admin) Cleanup(ctx context.Context, keyspace string, families ...string) error {
	return a.observe("cleanup", a.probe.ForceKeyspaceCleanup(ctx, keyspace, families...))
}

// Compact forces a major compaction. No families means the whole keyspace.
func (a *Admin) Compact(ctx context.Context, keyspace string, families ...string) error {
	return a.observe("compact", a.probe.ForceKeyspaceCompaction(ctx, keyspace, families...))
}

// CleanupAll runs Cleanup on every non-system keyspace, one at a time
func (a *Admin) CleanupAll(ctx context.Context) ([]Result, error) {
	return a.eachKeyspace(ctx, "cleanup", func(ks string) error {
		return a.Cleanup(ctx, ks)
	})
}

// CompactAll runs Compact on every non-system keyspace, one at a time
func (a *Admin) CompactAll(ctx context.Context) ([]Result, error) {
	return a.eachKeyspace(ctx, "compact", func(ks string) error {
		return a.Compact(ctx, ks)
	})
}

// eachKeyspace records a result per keyspace and keeps going after failures.
// It stops only when the caller cancels, returning the results so far and an
// interruption error.
func (a *Admin) eachKeyspace(ctx context.Context, op string, fn func(ks string) error) ([]Result, error) {
	keyspaces, err := a.NonSystemKeyspaces(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(keyspaces))
	for _, ks := range keyspaces {
		if err := ctx.Err(); err != nil {
			return results, interrupted(op, err)
		}

		err := fn(ks)
		r := Result{Keyspace: ks, Err: err}
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)

		if errors.Is(err, probe.ErrInterrupted) {
			return results, err
		}
	}
	return results, nil
}

// Repair runs an anti-entropy repair and waits for it to finish
func (a *Admin) Repair(ctx context.Context, keyspace string, families ...string) error {
	return a.observe("repair", a.repair(ctx, keyspace, families))
}

func (a *Admin) repair(ctx context.Context, keyspace string, families []string) error {
	opts := map[string]string{}
	if len(families) > 0 {
		opts["columnFamilies"] = strings.Join(families, ",")
	}

	cmd, err := a.probe.RepairAsync(ctx, keyspace, opts)
	if err != nil {
		return err
	}
	if cmd <= 0 {
		// nothing to repair (e.g. replication factor 1)
		return nil
	}

	ticker := time.NewTicker(a.repairPoll)
	defer ticker.Stop()

	for {
		state, err := a.probe.RepairStatus(ctx, cmd)
		if err != nil {
			return err
		}
		switch state {
		case probe.RepairCompleted:
			return nil
		case probe.RepairFailed:
			return &probe.Error{Op: "repair", Kind: probe.ErrRemote, Err: fmt.Errorf("repair %d of %s failed", cmd, keyspace)}
		}

		select {
		case <-ctx.Done():
			return interrupted("repair", ctx.Err())
		case <-ticker.C:
		}
	}
}

// UpgradeSSTables rewrites sstables not on the current version
func (a *Admin) UpgradeSSTables(ctx context.Context, keyspace string, families ...string) error {
	return a.observe("upgrade_sstables", a.probe.UpgradeSSTables(ctx, keyspace, true, 0, families...))
}

// TakeSnapshot snapshots the given keyspaces (all when none given) under tag
func (a *Admin) TakeSnapshot(ctx context.Context, tag string, keyspaces ...string) error {
	return a.observe("snapshot", a.probe.TakeSnapshot(ctx, tag, keyspaces...))
}

// ClearSnapshot removes snapshots with tag (all snapshots when tag is empty)
func (a *Admin) ClearSnapshot(ctx context.Context, tag string, keyspaces ...string) error {
	return a.observe("clear_snapshot", a.probe.ClearSnapshot(ctx, tag, keyspaces...))
}

// Decommission streams the node's data away and removes it from the ring
func (a *Admin) Decommission(ctx context.Context) error {
	return a.observe("decommission", a.probe.Decommission(ctx))
}

// Drain flushes memtables and stops accepting writes
func (a *Admin) Drain(ctx context.Context) error {
	return a.observe("drain", a.probe.Drain(ctx))
}

// Assassinate forcibly removes a dead endpoint from gossip
func (a *Admin) Assassinate(ctx context.Context, address string) error {
	return a.observe("assassinate", a.probe.AssassinateEndpoint(ctx, address))
}
