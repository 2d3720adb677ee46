package offer

import (
	"context"
	"fmt"

	"github.com/cuemby/ringmaster/pkg/log"
	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/rs/zerolog"
)

// OperationType is the kind of an offer operation
type OperationType string

const (
	OpReserve OperationType = "RESERVE"
	OpCreate  OperationType = "CREATE"
	OpLaunch  OperationType = "LAUNCH"
)

// Operation is one step applied to accepted offers
type Operation struct {
	Type      OperationType           `json:"type"`
	AgentID   string                  `json:"agent_id"`
	Resources []types.Resource        `json:"resources,omitempty"`
	Volume    *types.PersistentVolume `json:"volume,omitempty"`
	Task      *types.TaskInfo         `json:"task,omitempty"`
}

func (op Operation) String() string {
	switch op.Type {
	case OpLaunch:
		if op.Task != nil {
			return fmt.Sprintf("%s %s on %s", op.Type, op.Task.ID, op.AgentID)
		}
	case OpCreate:
		if op.Volume != nil {
			return fmt.Sprintf("%s volume %s on %s", op.Type, op.Volume.PersistenceID, op.AgentID)
		}
	}
	return fmt.Sprintf("%s on %s", op.Type, op.AgentID)
}

// Driver is the part of the resource manager driver that accepts offers
type Driver interface {
	AcceptOffers(ctx context.Context, offerIDs []string, ops []Operation) error
}

// OperationRecorder observes operations before they are sent to the driver
type OperationRecorder interface {
	Record(op Operation, offerIDs []string) error
}

// OperationReverter is implemented by recorders that can undo a record once
// the driver refuses the operations it belonged to
type OperationReverter interface {
	Revert(op Operation) error
}

// LogRecorder logs every operation
type LogRecorder struct {
	logger zerolog.Logger
}

func NewLogRecorder() *LogRecorder {
	return &LogRecorder{logger: log.WithComponent("offer")}
}

func (r *LogRecorder) Record(op Operation, offerIDs []string) error {
	r.logger.Info().
		Str("operation", string(op.Type)).
		Str("agent_id", op.AgentID).
		Strs("offers", offerIDs).
		Msg(op.String())
	return nil
}

// Accepter records operations and then accepts the offers through the driver.
// A recorder failure aborts the accept so nothing is launched unrecorded; a
// driver failure reverts what was recorded so nothing unlaunched stays recorded.
type Accepter struct {
	driver    Driver
	recorders []OperationRecorder
	logger    zerolog.Logger
}

func NewAccepter(driver Driver, recorders ...OperationRecorder) *Accepter {
	return &Accepter{driver: driver, recorders: recorders, logger: log.WithComponent("offer")}
}

type recorded struct {
	op       Operation
	recorder OperationRecorder
}

// Accept records ops and accepts offerIDs with them
func (a *Accepter) Accept(ctx context.Context, offerIDs []string, ops []Operation) error {
	if len(offerIDs) == 0 || len(ops) == 0 {
		return nil
	}
	var done []recorded
	for _, op := range ops {
		for _, r := range a.recorders {
			if err := r.Record(op, offerIDs); err != nil {
				a.revert(done)
				return fmt.Errorf("failed to record %s: %w", op.Type, err)
			}
			done = append(done, recorded{op: op, recorder: r})
		}
	}
	if err := a.driver.AcceptOffers(ctx, offerIDs, ops); err != nil {
		a.revert(done)
		return fmt.Errorf("failed to accept offers: %w", err)
	}
	return nil
}

// revert undoes records newest first
func (a *Accepter) revert(done []recorded) {
	for i := len(done) - 1; i >= 0; i-- {
		rv, ok := done[i].recorder.(OperationReverter)
		if !ok {
			continue
		}
		if err := rv.Revert(done[i].op); err != nil {
			a.logger.Error().Err(err).Str("operation", string(done[i].op.Type)).Msg("Failed to revert recorded operation")
		}
	}
}
