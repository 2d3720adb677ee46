package plan

// Strategy decides which pending blocks of the current phase may be started now
type Strategy interface {
	Name() string
	Schedulable(phase *Phase) []*Block
}

// SerialStrategy allows one in-flight block per phase
type SerialStrategy struct{}

func (SerialStrategy) Name() string { return "serial" }

func (SerialStrategy) Schedulable(phase *Phase) []*Block {
	return ParallelStrategy{N: 1}.Schedulable(phase)
}

// ParallelStrategy allows up to N in-flight blocks per phase
type ParallelStrategy struct {
	N int
}

func (s ParallelStrategy) Name() string { return "parallel" }

// Schedulable returns pending blocks in phase order, up to N minus the blocks already in progress
func (s ParallelStrategy) Schedulable(phase *Phase) []*Block {
	if phase == nil {
		return nil
	}

	n := s.N
	if n < 1 {
		n = 1
	}

	var pending []*Block
	inFlight := 0
	for _, b := range phase.Blocks {
		switch b.Status() {
		case StatusInProgress:
			inFlight++
		case StatusPending:
			pending = append(pending, b)
		}
	}

	free := n - inFlight
	if free <= 0 {
		return nil
	}
	if len(pending) > free {
		pending = pending[:free]
	}
	return pending
}

// NewStrategy maps a configuration name onto a Strategy
func NewStrategy(name string, parallelism int) Strategy {
	if name == "parallel" {
		return ParallelStrategy{N: parallelism}
	}
	return SerialStrategy{}
}
