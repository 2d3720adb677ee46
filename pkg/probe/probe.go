package probe

import (
	"context"

	"github.com/cuemby/ringmaster/pkg/types"
)

// RepairState is the coordinator-side state of a parent repair session
type RepairState string

const (
	RepairInProgress RepairState = "IN_PROGRESS"
	RepairCompleted  RepairState = "COMPLETED"
	RepairFailed     RepairState = "FAILED"
)

// Probe is the administrative channel to one running node. Every call can
// fail with an *Error whose kind is ErrTransport, ErrInvalidArgument,
// ErrInterrupted or ErrRemote.
type Probe interface {
	// State
	OperationMode(ctx context.Context) (types.Mode, error)
	Keyspaces(ctx context.Context) ([]string, error)
	LocalHostID(ctx context.Context) (string, error)
	Endpoint(ctx context.Context) (string, error)
	Tokens(ctx context.Context) ([]string, error)
	Datacenter(ctx context.Context) (string, error)
	Rack(ctx context.Context) (string, error)
	ReleaseVersion(ctx context.Context) (string, error)
	IsJoined(ctx context.Context) (bool, error)
	IsInitialized(ctx context.Context) (bool, error)
	IsGossipRunning(ctx context.Context) (bool, error)
	IsNativeTransportRunning(ctx context.Context) (bool, error)

	// Maintenance. An empty families list means the whole keyspace.
	ForceKeyspaceCleanup(ctx context.Context, keyspace string, families ...string) error
	ForceKeyspaceCompaction(ctx context.Context, keyspace string, families ...string) error
	UpgradeSSTables(ctx context.Context, keyspace string, excludeCurrentVersion bool, jobs int, families ...string) error
	TakeSnapshot(ctx context.Context, tag string, keyspaces ...string) error
	ClearSnapshot(ctx context.Context, tag string, keyspaces ...string) error
	RepairAsync(ctx context.Context, keyspace string, options map[string]string) (int, error)
	RepairStatus(ctx context.Context, command int) (RepairState, error)

	// Membership
	Decommission(ctx context.Context) error
	Drain(ctx context.Context) error
	AssassinateEndpoint(ctx context.Context, address string) error
}

// Snapshot collects a NodeInfo from p. The first failing call aborts it.
func Snapshot(ctx context.Context, p Probe) (types.NodeInfo, error) {
	var info types.NodeInfo
	var err error

	if info.Mode, err = p.OperationMode(ctx); err != nil {
		return info, err
	}
	if info.HostID, err = p.LocalHostID(ctx); err != nil {
		return info, err
	}
	if info.Endpoint, err = p.Endpoint(ctx); err != nil {
		return info, err
	}
	tokens, err := p.Tokens(ctx)
	if err != nil {
		return info, err
	}
	info.TokenCount = len(tokens)
	if info.Datacenter, err = p.Datacenter(ctx); err != nil {
		return info, err
	}
	if info.Rack, err = p.Rack(ctx); err != nil {
		return info, err
	}
	if info.ReleaseVersion, err = p.ReleaseVersion(ctx); err != nil {
		return info, err
	}
	if info.Joined, err = p.IsJoined(ctx); err != nil {
		return info, err
	}
	if info.Initialized, err = p.IsInitialized(ctx); err != nil {
		return info, err
	}
	if info.GossipRunning, err = p.IsGossipRunning(ctx); err != nil {
		return info, err
	}
	if info.NativeTransportRunning, err = p.IsNativeTransportRunning(ctx); err != nil {
		return info, err
	}
	return info, nil
}
