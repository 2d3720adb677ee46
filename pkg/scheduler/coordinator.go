package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/cuemby/ringmaster/pkg/metrics"
	"github.com/cuemby/ringmaster/pkg/plan"
	"github.com/cuemby/ringmaster/pkg/tasks"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/rs/zerolog"
)

// Options wires a Coordinator
type Options struct {
	Driver   Driver
	Identity *IdentityManager
	Plans    *plan.Manager
	Registry *tasks.Registry
	Plan     Stage
	// Repair is optional
	Repair Stage
	// Backup defaults to NoBackup
	Backup BackupStage
}

// BatchResult is the outcome of one offer batch. The accepted sets are
// pairwise disjoint and Declined is everything else.
type BatchResult struct {
	Plan     []string
	Repair   []string
	Backup   []string
	Declined []string
}

// Coordinator is the scheduler's callback surface. The resource manager
// invokes callbacks serially; the coordinator also serializes them itself
// and is the only writer of plan state.
type Coordinator struct {
	driver   Driver
	identity *IdentityManager
	plans    *plan.Manager
	registry *tasks.Registry
	planner  Stage
	repair   Stage
	backup   BackupStage
	logger   zerolog.Logger

	mu         sync.Mutex
	registered bool
}

func NewCoordinator(opts Options) *Coordinator {
	backup := opts.Backup
	if backup == nil {
		backup = NoBackup{}
	}
	return &Coordinator{
		driver:   opts.Driver,
		identity: opts.Identity,
		plans:    opts.Plans,
		registry: opts.Registry,
		planner:  opts.Plan,
		repair:   opts.Repair,
		backup:   backup,
		logger:   log.WithComponent("scheduler"),
	}
}

// Registered persists the framework id. Failure to persist it is fatal: the
// driver is aborted and the error returned.
func (c *Coordinator) Registered(ctx context.Context, frameworkID string, master MasterInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.identity.Register(frameworkID); err != nil {
		c.logger.Error().Err(err).Str("framework_id", frameworkID).Msg("Failed to store framework id, aborting")
		metrics.UpdateComponent("scheduler", false, "framework id not persisted")
		if abortErr := c.driver.Abort(); abortErr != nil {
			c.logger.Error().Err(abortErr).Msg("Failed to abort driver")
		}
		return fmt.Errorf("registration failed: %w", err)
	}

	c.registered = true
	metrics.UpdateComponent("scheduler", true, "registered")
	c.logger.Info().
		Str("framework_id", frameworkID).
		Str("master", fmt.Sprintf("%s:%d", master.Hostname, master.Port)).
		Msg("Registered with master")

	c.reconcileLocked(ctx)
	return nil
}

// Reregistered is called after a master failover
func (c *Coordinator) Reregistered(ctx context.Context, master MasterInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.registered = true
	metrics.UpdateComponent("scheduler", true, "registered")
	c.logger.Info().Str("master", fmt.Sprintf("%s:%d", master.Hostname, master.Port)).Msg("Re-registered with master")
	c.reconcileLocked(ctx)
}

// IsRegistered reports whether the framework is registered
func (c *Coordinator) IsRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// Reconcile asks the driver to replay the status of every known live task
func (c *Coordinator) Reconcile(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.registered {
		return nil
	}
	return c.reconcileLocked(ctx)
}

func (c *Coordinator) reconcileLocked(ctx context.Context) error {
	statuses := c.registry.Statuses()
	if err := c.driver.ReconcileTasks(ctx, statuses); err != nil {
		c.logger.Error().Err(err).Msg("Failed to reconcile tasks")
		return err
	}
	c.logger.Debug().Int("tasks", len(statuses)).Msg("Requested task reconciliation")
	return nil
}

// ResourceOffers runs one offer batch through the plan, repair and backup
// stages in that order, each seeing only what the previous left, and declines
// the rest. Every offer is declined until the framework is registered.
func (c *Coordinator) ResourceOffers(ctx context.Context, offers []types.Offer) BatchResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	metrics.OffersReceived.Add(float64(len(offers)))
	for _, o := range offers {
		ol := log.WithOfferID(c.logger, o.ID)
		ol.Debug().Str("agent_id", o.AgentID).Str("hostname", o.Hostname).Msg("Received offer")
	}

	var result BatchResult
	remainder := offers

	if c.registered {
		block := c.plans.CurrentBlock()

		for _, b := range c.plans.Schedulable() {
			ids := claim(remainder, c.planner.ResourceOffers(ctx, remainder, b))
			result.Plan = append(result.Plan, ids...)
			remainder = without(remainder, ids)
		}

		if c.repair != nil {
			result.Repair = claim(remainder, c.repair.ResourceOffers(ctx, remainder, block))
			remainder = without(remainder, result.Repair)
		}

		result.Backup = claim(remainder, c.backup.ResourceOffers(ctx, remainder))
		remainder = without(remainder, result.Backup)
	} else {
		c.logger.Warn().Int("offers", len(offers)).Msg("Not registered, declining offers")
	}

	for _, o := range remainder {
		if err := c.driver.DeclineOffer(ctx, o.ID); err != nil {
			ol := log.WithOfferID(c.logger, o.ID)
			ol.Error().Err(err).Msg("Failed to decline offer")
		}
		result.Declined = append(result.Declined, o.ID)
	}
	metrics.OffersDeclined.Add(float64(len(result.Declined)))

	c.logger.Info().
		Int("offers", len(offers)).
		Int("plan", len(result.Plan)).
		Int("repair", len(result.Repair)).
		Int("backup", len(result.Backup)).
		Int("declined", len(result.Declined)).
		Msg("Processed offer batch")
	return result
}

// StatusUpdate routes a task status to the task registry and the plan. A
// killing status from an escalated node is confirmed with a kill request.
func (c *Coordinator) StatusUpdate(ctx context.Context, status types.TaskStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics.StatusUpdates.WithLabelValues(string(status.State)).Inc()
	logger := log.WithTaskID(c.logger, status.TaskID).With().Str("state", string(status.State)).Logger()
	logger.Info().Str("message", status.Message).Msg("Status update")

	if err := c.registry.Update(status); err != nil {
		logger.Error().Err(err).Msg("Failed to record status")
	}
	c.plans.OnStatus(status)

	if status.State == types.TaskStateKilling {
		if mode, ok := types.ModeFromStatus(status); ok && mode == types.ModeUnknown {
			if err := c.driver.KillTask(ctx, status.TaskID); err != nil {
				logger.Error().Err(err).Msg("Failed to kill unresponsive node")
			}
		}
	}
}

// OfferRescinded is observability only
func (c *Coordinator) OfferRescinded(offerID string) {
	metrics.DriverEvents.WithLabelValues("offer_rescinded").Inc()
	c.logger.Info().Str("offer_id", offerID).Msg("Offer rescinded")
}

// FrameworkMessage is observability only
func (c *Coordinator) FrameworkMessage(executorID, agentID string, data []byte) {
	metrics.DriverEvents.WithLabelValues("framework_message").Inc()
	c.logger.Info().Str("executor_id", executorID).Str("agent_id", agentID).Int("bytes", len(data)).Msg("Framework message")
}

// Disconnected is observability only
func (c *Coordinator) Disconnected() {
	metrics.DriverEvents.WithLabelValues("disconnected").Inc()
	c.logger.Warn().Msg("Disconnected from master")
}

// SlaveLost is observability only
func (c *Coordinator) SlaveLost(agentID string) {
	metrics.DriverEvents.WithLabelValues("agent_lost").Inc()
	c.logger.Warn().Str("agent_id", agentID).Msg("Agent lost")
}

// ExecutorLost is observability only
func (c *Coordinator) ExecutorLost(executorID, agentID string, status int) {
	metrics.DriverEvents.WithLabelValues("executor_lost").Inc()
	c.logger.Warn().Str("executor_id", executorID).Str("agent_id", agentID).Int("status", status).Msg("Executor lost")
}

// Error is observability only
func (c *Coordinator) Error(message string) {
	metrics.DriverEvents.WithLabelValues("error").Inc()
	c.logger.Error().Str("message", message).Msg("Driver error")
}

// BlockCounts implements metrics.Source
func (c *Coordinator) BlockCounts() map[string]int {
	return c.plans.BlockCounts()
}

// TaskCounts implements metrics.Source
func (c *Coordinator) TaskCounts() map[string]int {
	return c.registry.TaskCounts()
}

// claim keeps the ids a stage returned that were actually offered to it
func claim(offered []types.Offer, ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	in := make(map[string]bool, len(offered))
	for _, o := range offered {
		in[o.ID] = true
	}
	var out []string
	for _, id := range ids {
		if in[id] {
			out = append(out, id)
			delete(in, id)
		}
	}
	return out
}

func without(offers []types.Offer, ids []string) []types.Offer {
	if len(ids) == 0 {
		return offers
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	out := make([]types.Offer, 0, len(offers))
	for _, o := range offers {
		if !drop[o.ID] {
			out = append(out, o)
		}
	}
	return out
}
