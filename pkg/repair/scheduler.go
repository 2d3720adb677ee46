package repair

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/cuemby/ringmaster/pkg/metrics"
	"github.com/cuemby/ringmaster/pkg/offer"
	"github.com/cuemby/ringmaster/pkg/plan"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/rs/zerolog"
)

// Nodes is the view of the task registry the repair scheduler needs
type Nodes interface {
	List() []*types.TaskRecord
	Repair(node string) *types.RepairRecord
}

// Progress reports whether deployment work is running
type Progress interface {
	AnyInProgress() bool
}

// Config holds the repair task shape and how many repairs may run at once.
// MaxConcurrent defaults to 1.
type Config struct {
	Keyspaces     []string
	CPUs          float64
	MemoryMB      float64
	Role          string
	MaxConcurrent int
}

// Scheduler opportunistically runs repairs on idle nodes using offers the
// plan did not claim.
type Scheduler struct {
	accepter *offer.Accepter
	nodes    Nodes
	progress Progress
	policy   Policy
	cfg      Config
	now      func() time.Time
	logger   zerolog.Logger
}

func NewScheduler(accepter *offer.Accepter, nodes Nodes, progress Progress, policy Policy, cfg Config) *Scheduler {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Scheduler{
		accepter: accepter,
		nodes:    nodes,
		progress: progress,
		policy:   policy,
		cfg:      cfg,
		now:      time.Now,
		logger:   log.WithComponent("repair"),
	}
}

// ResourceOffers launches repair tasks on eligible nodes and returns the ids
// of the offers consumed. Nothing is consumed while any block is in progress.
func (s *Scheduler) ResourceOffers(ctx context.Context, offers []types.Offer, block *plan.Block) []string {
	if len(offers) == 0 {
		return nil
	}
	if (block != nil && block.IsInProgress()) || (s.progress != nil && s.progress.AnyInProgress()) {
		s.logger.Debug().Msg("Deployment in progress, skipping repair")
		return nil
	}

	now := s.now()
	claimed := make(map[string]bool)
	var accepted []string

	nodes := s.nodes.List()
	running := s.inFlight(nodes)

	for _, rec := range nodes {
		if running >= s.cfg.MaxConcurrent {
			s.logger.Debug().Int("in_flight", running).Msg("Repair concurrency limit reached")
			break
		}
		if !s.eligible(rec, now) {
			continue
		}
		o, ok := s.pick(offers, rec.AgentID, claimed)
		if !ok {
			continue
		}

		task, err := s.task(rec, o)
		if err != nil {
			s.logger.Error().Err(err).Str("node_id", rec.Name).Msg("Failed to build repair task")
			continue
		}

		op := offer.Operation{Type: offer.OpLaunch, AgentID: o.AgentID, Task: task}
		if err := s.accepter.Accept(ctx, []string{o.ID}, []offer.Operation{op}); err != nil {
			s.logger.Error().Err(err).Str("node_id", rec.Name).Msg("Failed to launch repair")
			continue
		}

		claimed[o.ID] = true
		accepted = append(accepted, o.ID)
		running++
		metrics.RepairsScheduled.Inc()
		metrics.OffersAccepted.WithLabelValues("repair").Inc()
		s.logger.Info().Str("node_id", rec.Name).Str("task_id", task.ID).Str("offer_id", o.ID).Msg("Launched repair")
	}
	return accepted
}

func (s *Scheduler) inFlight(nodes []*types.TaskRecord) int {
	n := 0
	for _, rec := range nodes {
		if last := s.nodes.Repair(rec.Name); last != nil && last.InFlight {
			n++
		}
	}
	return n
}

func (s *Scheduler) eligible(rec *types.TaskRecord, now time.Time) bool {
	if rec.State != types.TaskStateRunning || rec.Mode != types.ModeNormal {
		return false
	}
	last := s.nodes.Repair(rec.Name)
	if last != nil && last.InFlight {
		return false
	}
	return s.policy.Due(rec.Name, last, now)
}

// pick returns the first unclaimed offer on agent with room for the repair task
func (s *Scheduler) pick(offers []types.Offer, agent string, claimed map[string]bool) (types.Offer, bool) {
	for _, o := range offers {
		if o.AgentID != agent || claimed[o.ID] {
			continue
		}
		var cpus, mem float64
		for _, r := range o.Resources {
			if r.Volume != nil {
				continue
			}
			switch r.Name {
			case types.ResourceCPUs:
				cpus += r.Scalar
			case types.ResourceMem:
				mem += r.Scalar
			}
		}
		if cpus >= s.cfg.CPUs && mem >= s.cfg.MemoryMB {
			return o, true
		}
	}
	return types.Offer{}, false
}

func (s *Scheduler) task(rec *types.TaskRecord, o types.Offer) (*types.TaskInfo, error) {
	cfg := types.AdminConfig{Keyspaces: s.cfg.Keyspaces}
	if rec.Info != nil {
		var daemon types.DaemonConfig
		if err := json.Unmarshal(rec.Info.Config, &daemon); err == nil {
			cfg.ProbeURL = daemon.ProbeURL
		}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	name := rec.Name + "-repair"
	return &types.TaskInfo{
		ID:         offer.NewTaskID(name),
		Name:       name,
		NodeName:   rec.Name,
		Type:       types.TaskTypeRepair,
		AgentID:    o.AgentID,
		ExecutorID: rec.ExecutorID,
		Resources: []types.Resource{
			{Name: types.ResourceCPUs, Scalar: s.cfg.CPUs, Role: s.cfg.Role},
			{Name: types.ResourceMem, Scalar: s.cfg.MemoryMB, Role: s.cfg.Role},
		},
		Config: raw,
	}, nil
}
