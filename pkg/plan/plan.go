package plan

// Phase is an ordered group of blocks. A phase must complete before the next starts.
type Phase struct {
	Name   string
	Blocks []*Block
}

// NewPhase creates a phase and tags its blocks with the phase name
func NewPhase(name string, blocks ...*Block) *Phase {
	for _, b := range blocks {
		b.phase = name
	}
	return &Phase{Name: name, Blocks: blocks}
}

// IsComplete reports whether every block is Complete
func (p *Phase) IsComplete() bool {
	for _, b := range p.Blocks {
		if !b.IsComplete() {
			return false
		}
	}
	return true
}

// Plan is an ordered sequence of phases; its structure never changes
type Plan struct {
	Name   string
	Phases []*Phase
}

// NewPlan creates a plan
func NewPlan(name string, phases ...*Phase) *Plan {
	return &Plan{Name: name, Phases: phases}
}

// IsComplete reports whether every phase is complete
func (p *Plan) IsComplete() bool {
	for _, ph := range p.Phases {
		if !ph.IsComplete() {
			return false
		}
	}
	return true
}

// CurrentPhase returns the first incomplete phase, or nil when the plan is done
func (p *Plan) CurrentPhase() *Phase {
	for _, ph := range p.Phases {
		if !ph.IsComplete() {
			return ph
		}
	}
	return nil
}

// Blocks returns every block in phase order
func (p *Plan) Blocks() []*Block {
	var out []*Block
	for _, ph := range p.Phases {
		out = append(out, ph.Blocks...)
	}
	return out
}
