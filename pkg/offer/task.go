package offer

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/ringmaster/pkg/config"
	"github.com/cuemby/ringmaster/pkg/plan"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/google/uuid"
)

// TaskBuilder turns a block and its placement into the task to launch
type TaskBuilder interface {
	Build(block *plan.Block, p *Placement) (*types.TaskInfo, error)
}

// NewTaskID returns a unique task id for the named task
func NewTaskID(name string) string {
	return name + "__" + uuid.New().String()
}

// ExecutorID returns the executor id used for every task of a node
func ExecutorID(node string) string {
	return "ringmaster-executor-" + node
}

// DaemonBuilder builds the daemon task of a node. The node's admin channel
// listens on the last resolved port.
type DaemonBuilder struct {
	Cluster config.ClusterConfig
	Node    config.NodeConfig
}

func (d DaemonBuilder) Build(block *plan.Block, p *Placement) (*types.TaskInfo, error) {
	if len(p.Ports) == 0 {
		return nil, fmt.Errorf("placement for %s has no admin port", block.Name())
	}
	probePort := int(p.Ports[len(p.Ports)-1])

	env := map[string]string{
		"RINGMASTER_CLUSTER": d.Cluster.Name,
		"RINGMASTER_NODE":    block.NodeName(),
	}
	for k, v := range d.Node.Env {
		env[k] = v
	}

	cfg := types.DaemonConfig{
		ProbeURL:     fmt.Sprintf(d.Node.ProbeURL, p.Hostname, probePort),
		ProbePort:    probePort,
		Command:      d.Node.Command,
		Args:         d.Node.Args,
		Env:          env,
		Image:        d.Node.Image,
		Runtime:      d.Node.Runtime,
		PollPeriod:   d.Node.PollPeriod,
		RetryCeiling: d.Node.RetryCeiling,
		DrainTimeout: d.Node.DrainTimeout,
		StopGrace:    d.Node.StopGrace,
	}
	if p.Volume != nil {
		cfg.DataDir = p.Volume.ContainerPath
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode daemon config: %w", err)
	}

	return &types.TaskInfo{
		ID:         NewTaskID(block.NodeName()),
		Name:       block.NodeName(),
		NodeName:   block.NodeName(),
		Type:       types.TaskTypeDaemon,
		AgentID:    p.AgentID,
		ExecutorID: ExecutorID(block.NodeName()),
		Resources:  p.Resources(block.Requirement(), d.Cluster.Role),
		Config:     raw,
	}, nil
}
