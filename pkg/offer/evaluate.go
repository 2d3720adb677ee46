package offer

import (
	"sort"

	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/google/uuid"
)

// Placement is the outcome of matching a requirement against offers
type Placement struct {
	Offers   []types.Offer
	AgentID  string
	Hostname string
	// Ports holds the resolved port for each entry of the requirement's Ports
	Ports     []uint64
	Volume    *types.PersistentVolume
	NewVolume bool
}

// OfferIDs returns the ids of the chosen offers in input order
func (p *Placement) OfferIDs() []string {
	ids := make([]string, 0, len(p.Offers))
	for _, o := range p.Offers {
		ids = append(ids, o.ID)
	}
	return ids
}

// Resources returns the resources a task placed here consumes
func (p *Placement) Resources(req types.TaskRequirement, role string) []types.Resource {
	res := []types.Resource{
		{Name: types.ResourceCPUs, Scalar: req.CPUs, Role: role},
		{Name: types.ResourceMem, Scalar: req.MemoryMB, Role: role},
	}
	if req.DiskMB > 0 {
		res = append(res, types.Resource{Name: types.ResourceDisk, Scalar: req.DiskMB, Role: role})
	}
	if len(p.Ports) > 0 {
		ranges := make([]types.Range, 0, len(p.Ports))
		for _, port := range p.Ports {
			ranges = append(ranges, types.Range{Begin: port, End: port})
		}
		res = append(res, types.Resource{Name: types.ResourcePorts, Ranges: ranges, Role: role})
	}
	if p.Volume != nil {
		res = append(res, types.Resource{
			Name:   types.ResourceDisk,
			Scalar: p.Volume.SizeMB,
			Role:   role,
			Volume: p.Volume,
		})
	}
	return res
}

// Evaluate matches req against offers in input order.
//
// When the node already owns a persistent volume, only offers from the
// volume's agent are considered: the offer carrying the volume plus as few
// other offers from that agent as needed, taken in input order. If no offer
// carries the volume the node waits for its agent, unless replace is set, in
// which case a fresh placement anywhere is allowed.
//
// Without a prior volume the first single offer that satisfies req wins.
func Evaluate(req types.TaskRequirement, offers []types.Offer, prior *types.PersistentVolume, replace bool) (*Placement, bool) {
	if prior != nil {
		if p, found, ok := reuseVolume(req, offers, prior); found {
			return p, ok
		}
		if !replace {
			return nil, false
		}
	}

	for _, o := range offers {
		if p, ok := fit(req, []types.Offer{o}, nil); ok {
			return p, true
		}
	}
	return nil, false
}

// reuseVolume reports found=false when no offer carries the prior volume
func reuseVolume(req types.TaskRequirement, offers []types.Offer, prior *types.PersistentVolume) (*Placement, bool, bool) {
	var same []types.Offer
	carrier := -1
	for _, o := range offers {
		if o.AgentID != prior.AgentID {
			continue
		}
		if carrier < 0 && carriesVolume(o, prior.PersistenceID) {
			carrier = len(same)
		}
		same = append(same, o)
	}
	if carrier < 0 {
		return nil, false, false
	}

	chosen := map[int]bool{carrier: true}
	if p, ok := fit(req, pick(same, chosen), prior); ok {
		return p, true, true
	}
	for i := range same {
		if chosen[i] {
			continue
		}
		chosen[i] = true
		if p, ok := fit(req, pick(same, chosen), prior); ok {
			return p, true, true
		}
	}
	return nil, true, false
}

func pick(offers []types.Offer, chosen map[int]bool) []types.Offer {
	out := make([]types.Offer, 0, len(chosen))
	for i, o := range offers {
		if chosen[i] {
			out = append(out, o)
		}
	}
	return out
}

func carriesVolume(o types.Offer, persistenceID string) bool {
	for _, r := range o.Resources {
		if r.Volume != nil && r.Volume.PersistenceID == persistenceID {
			return true
		}
	}
	return false
}

// fit checks whether offers, all from one agent, jointly satisfy req
func fit(req types.TaskRequirement, offers []types.Offer, prior *types.PersistentVolume) (*Placement, bool) {
	if len(offers) == 0 {
		return nil, false
	}

	var cpus, mem, disk float64
	var ranges []types.Range
	for _, o := range offers {
		for _, r := range o.Resources {
			if r.Volume != nil {
				continue
			}
			switch r.Name {
			case types.ResourceCPUs:
				cpus += r.Scalar
			case types.ResourceMem:
				mem += r.Scalar
			case types.ResourceDisk:
				disk += r.Scalar
			case types.ResourcePorts:
				ranges = append(ranges, r.Ranges...)
			}
		}
	}

	needDisk := req.DiskMB
	newVolume := prior == nil && req.Volume != nil
	if newVolume {
		needDisk += req.Volume.SizeMB
	}
	if cpus < req.CPUs || mem < req.MemoryMB || disk < needDisk {
		return nil, false
	}

	ports, ok := resolvePorts(req.Ports, ranges)
	if !ok {
		return nil, false
	}

	p := &Placement{
		Offers:   offers,
		AgentID:  offers[0].AgentID,
		Hostname: offers[0].Hostname,
		Ports:    ports,
		Volume:   prior,
	}
	if newVolume {
		p.NewVolume = true
		p.Volume = &types.PersistentVolume{
			PersistenceID: uuid.New().String(),
			AgentID:       p.AgentID,
			ContainerPath: req.Volume.ContainerPath,
			SizeMB:        req.Volume.SizeMB,
		}
	}
	return p, true
}

// resolvePorts assigns fixed ports first, then the lowest free port for each zero entry
func resolvePorts(want []uint64, ranges []types.Range) ([]uint64, bool) {
	if len(want) == 0 {
		return nil, true
	}

	used := make(map[uint64]bool, len(want))
	out := make([]uint64, len(want))
	for i, port := range want {
		if port == 0 {
			continue
		}
		if used[port] || !inRanges(port, ranges) {
			return nil, false
		}
		used[port] = true
		out[i] = port
	}

	sorted := append([]types.Range(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Begin < sorted[j].Begin })

	for i, port := range want {
		if port != 0 {
			continue
		}
		free, ok := firstFree(sorted, used)
		if !ok {
			return nil, false
		}
		used[free] = true
		out[i] = free
	}
	return out, true
}

func inRanges(port uint64, ranges []types.Range) bool {
	for _, r := range ranges {
		if r.Contains(port) {
			return true
		}
	}
	return false
}

func firstFree(ranges []types.Range, used map[uint64]bool) (uint64, bool) {
	for _, r := range ranges {
		if r.Size() == 0 {
			continue
		}
		for p := r.Begin; p <= r.End; p++ {
			if !used[p] {
				return p, true
			}
			if p == r.End {
				break
			}
		}
	}
	return 0, false
}
