package scheduler

import (
	"context"

	"github.com/cuemby/ringmaster/pkg/offer"
	"github.com/cuemby/ringmaster/pkg/plan"
	"github.com/cuemby/ringmaster/pkg/types"
)

// Driver is the scheduler's handle on the cluster resource manager
type Driver interface {
	offer.Driver
	DeclineOffer(ctx context.Context, offerID string) error
	KillTask(ctx context.Context, taskID string) error
	ReconcileTasks(ctx context.Context, statuses []types.TaskStatus) error
	Abort() error
}

// MasterInfo identifies the resource manager master the scheduler registered with
type MasterInfo struct {
	ID       string
	Hostname string
	Port     int
}

// Stage claims offers for one kind of work and returns the ids it consumed
type Stage interface {
	ResourceOffers(ctx context.Context, offers []types.Offer, block *plan.Block) []string
}

// BackupStage consumes offers for backup and restore work
type BackupStage interface {
	ResourceOffers(ctx context.Context, offers []types.Offer) []string
}

// NoBackup consumes nothing
type NoBackup struct{}

func (NoBackup) ResourceOffers(context.Context, []types.Offer) []string { return nil }
