package local

import (
	"sort"

	"github.com/cuemby/ringmaster/pkg/config"
	"github.com/cuemby/ringmaster/pkg/types"
)

// agent tracks what one configured host has handed out
type agent struct {
	cfg config.AgentConfig

	cpus, mem, disk float64
	ports           map[uint64]bool

	// volumes by persistence id; a volume is offered while not in use
	volumes map[string]*types.PersistentVolume
	inUse   map[string]bool

	// outstanding is the id of the offer currently held by the scheduler
	outstanding string
}

func newAgent(cfg config.AgentConfig) *agent {
	return &agent{
		cfg:     cfg,
		ports:   make(map[uint64]bool),
		volumes: make(map[string]*types.PersistentVolume),
		inUse:   make(map[string]bool),
	}
}

// resources lists what is free: unreserved scalars, free port ranges and
// every created volume that no task holds
func (a *agent) resources() []types.Resource {
	var res []types.Resource
	if free := a.cfg.CPUs - a.cpus; free > 0 {
		res = append(res, types.Resource{Name: types.ResourceCPUs, Scalar: free})
	}
	if free := a.cfg.MemoryMB - a.mem; free > 0 {
		res = append(res, types.Resource{Name: types.ResourceMem, Scalar: free})
	}
	if free := a.cfg.DiskMB - a.disk; free > 0 {
		res = append(res, types.Resource{Name: types.ResourceDisk, Scalar: free})
	}
	if ranges := a.freePorts(); len(ranges) > 0 {
		res = append(res, types.Resource{Name: types.ResourcePorts, Ranges: ranges})
	}

	ids := make([]string, 0, len(a.volumes))
	for id := range a.volumes {
		if !a.inUse[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		v := *a.volumes[id]
		res = append(res, types.Resource{Name: types.ResourceDisk, Scalar: v.SizeMB, Volume: &v})
	}
	return res
}

func (a *agent) freePorts() []types.Range {
	if a.cfg.PortsHi < a.cfg.PortsLo || a.cfg.PortsLo == 0 {
		return nil
	}
	var out []types.Range
	open := false
	for p := a.cfg.PortsLo; p <= a.cfg.PortsHi; p++ {
		if a.ports[p] {
			open = false
			continue
		}
		if open {
			out[len(out)-1].End = p
		} else {
			out = append(out, types.Range{Begin: p, End: p})
			open = true
		}
	}
	return out
}

// take reserves a task's resources. Volume-backed disk is accounted by its volume.
func (a *agent) take(res []types.Resource) {
	a.apply(res, 1)
}

func (a *agent) release(res []types.Resource) {
	a.apply(res, -1)
}

func (a *agent) apply(res []types.Resource, sign float64) {
	for _, r := range res {
		if r.Volume != nil {
			a.inUse[r.Volume.PersistenceID] = sign > 0
			continue
		}
		switch r.Name {
		case types.ResourceCPUs:
			a.cpus += sign * r.Scalar
		case types.ResourceMem:
			a.mem += sign * r.Scalar
		case types.ResourceDisk:
			a.disk += sign * r.Scalar
		case types.ResourcePorts:
			for _, rg := range r.Ranges {
				for p := rg.Begin; p <= rg.End; p++ {
					a.ports[p] = sign > 0
				}
			}
		}
	}
}

// addVolume accounts a freshly created volume against the agent's disk
func (a *agent) addVolume(v *types.PersistentVolume) {
	if _, ok := a.volumes[v.PersistenceID]; ok {
		return
	}
	a.volumes[v.PersistenceID] = v
	a.disk += v.SizeMB
}
