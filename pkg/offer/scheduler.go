package offer

import (
	"context"

	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/cuemby/ringmaster/pkg/metrics"
	"github.com/cuemby/ringmaster/pkg/plan"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/rs/zerolog"
)

// History reports the persistent volume a node placed earlier, and whether
// the node has been marked for replacement on another agent.
type History interface {
	Prior(node string) (volume *types.PersistentVolume, replace bool)
}

// PlanScheduler claims offers for plan blocks
type PlanScheduler struct {
	accepter *Accepter
	builder  TaskBuilder
	history  History
	logger   zerolog.Logger
}

func NewPlanScheduler(accepter *Accepter, builder TaskBuilder, history History) *PlanScheduler {
	return &PlanScheduler{
		accepter: accepter,
		builder:  builder,
		history:  history,
		logger:   log.WithComponent("offer"),
	}
}

// ResourceOffers launches block on the first matching offers and returns the
// ids of the offers consumed. Offers that do not fit are left for later stages.
// Nothing is consumed for a nil or non-pending block.
func (s *PlanScheduler) ResourceOffers(ctx context.Context, offers []types.Offer, block *plan.Block) []string {
	if block == nil || !block.IsPending() || len(offers) == 0 {
		return nil
	}
	logger := log.WithBlock(s.logger, block.Name())

	var prior *types.PersistentVolume
	var replace bool
	if s.history != nil {
		prior, replace = s.history.Prior(block.NodeName())
	}

	placement, ok := Evaluate(block.Requirement(), offers, prior, replace)
	if !ok {
		logger.Debug().Int("offers", len(offers)).Bool("prior_volume", prior != nil).Msg("No offer satisfies block")
		return nil
	}

	task, err := s.builder.Build(block, placement)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build task")
		return nil
	}

	ids := placement.OfferIDs()
	if err := s.accepter.Accept(ctx, ids, s.operations(placement, task)); err != nil {
		logger.Error().Err(err).Strs("offers", ids).Msg("Failed to launch block")
		return nil
	}

	if err := block.Start(task.ID); err != nil {
		logger.Error().Err(err).Msg("Failed to start block")
	}

	metrics.OffersAccepted.WithLabelValues("plan").Add(float64(len(ids)))
	logger.Info().
		Str("task_id", task.ID).
		Str("agent_id", placement.AgentID).
		Bool("new_volume", placement.NewVolume).
		Strs("offers", ids).
		Msg("Launched block")
	return ids
}

func (s *PlanScheduler) operations(p *Placement, task *types.TaskInfo) []Operation {
	var ops []Operation
	if p.NewVolume {
		ops = append(ops,
			Operation{Type: OpReserve, AgentID: p.AgentID, Resources: task.Resources},
			Operation{Type: OpCreate, AgentID: p.AgentID, Volume: p.Volume},
		)
	}
	return append(ops, Operation{Type: OpLaunch, AgentID: p.AgentID, Task: task})
}
