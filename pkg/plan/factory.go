package plan

import (
	"fmt"

	"github.com/cuemby/ringmaster/pkg/config"
	"github.com/cuemby/ringmaster/pkg/types"
)

// Factory builds the plan for a deployment
type Factory interface {
	Build(cluster config.ClusterConfig) (*Plan, error)
}

// InstallFactory builds the initial install plan: the seed nodes first, then
// the remaining nodes, one block per node.
type InstallFactory struct{}

// NodeName returns the stable identity of the i-th node
func NodeName(i int) string {
	return fmt.Sprintf("node-%d", i)
}

// Requirement derives a node's task requirement from the cluster configuration.
// A trailing dynamic port (0) is reserved for the node's admin channel.
func Requirement(cluster config.ClusterConfig) types.TaskRequirement {
	ports := append([]uint64(nil), cluster.Ports...)
	req := types.TaskRequirement{
		CPUs:     cluster.CPUs,
		MemoryMB: cluster.MemoryMB,
		DiskMB:   cluster.DiskMB,
		Ports:    append(ports, 0),
	}
	if cluster.VolumeMB > 0 {
		req.Volume = &types.VolumeRequirement{
			ContainerPath: cluster.DataPath,
			SizeMB:        cluster.VolumeMB,
		}
	}
	return req
}

func (InstallFactory) Build(cluster config.ClusterConfig) (*Plan, error) {
	if cluster.Nodes < 1 {
		return nil, fmt.Errorf("cluster needs at least one node, got %d", cluster.Nodes)
	}
	if cluster.Seeds < 1 || cluster.Seeds > cluster.Nodes {
		return nil, fmt.Errorf("seed count %d out of range for %d nodes", cluster.Seeds, cluster.Nodes)
	}

	req := Requirement(cluster)

	var seeds, rest []*Block
	for i := 0; i < cluster.Nodes; i++ {
		name := NodeName(i)
		b := NewBlock(name, name, req)
		if i < cluster.Seeds {
			seeds = append(seeds, b)
		} else {
			rest = append(rest, b)
		}
	}

	phases := []*Phase{NewPhase("seeds", seeds...)}
	if len(rest) > 0 {
		phases = append(phases, NewPhase("nodes", rest...))
	}
	return NewPlan("install", phases...), nil
}
