package repair

import (
	"time"

	"github.com/cuemby/ringmaster/pkg/types"
)

// Policy decides whether a node is due for repair
type Policy interface {
	Due(node string, last *types.RepairRecord, now time.Time) bool
}

// IntervalPolicy makes a node due once Interval has passed since its last
// completed repair. A node that was never repaired is due immediately.
type IntervalPolicy struct {
	Interval time.Duration
}

func (p IntervalPolicy) Due(node string, last *types.RepairRecord, now time.Time) bool {
	if last == nil || last.LastCompleted.IsZero() {
		return true
	}
	return now.Sub(last.LastCompleted) >= p.Interval
}
