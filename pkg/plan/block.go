package plan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/ringmaster/pkg/types"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

// Status is a block's completion status
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusComplete   Status = "Complete"
)

const (
	eventStart    = "start"
	eventComplete = "complete"
	eventReset    = "reset"
)

// Complete has no outgoing edge, so a block can never regress once done.
var blockEvents = fsm.Events{
	{Name: eventStart, Src: []string{string(StatusPending)}, Dst: string(StatusInProgress)},
	{Name: eventComplete, Src: []string{string(StatusInProgress)}, Dst: string(StatusComplete)},
	{Name: eventReset, Src: []string{string(StatusInProgress)}, Dst: string(StatusPending)},
}

// ErrInvalidTransition is returned when an event is not allowed from the current status
var ErrInvalidTransition = errors.New("invalid block transition")

// Block is the plan work for one node slot
type Block struct {
	id    string
	name  string
	node  string
	phase string
	req   types.TaskRequirement

	mu     sync.RWMutex
	fsm    *fsm.FSM
	taskID string
}

// NewBlock creates a pending block targeting node
func NewBlock(name, node string, req types.TaskRequirement) *Block {
	b := &Block{
		id:   uuid.New().String(),
		name: name,
		node: node,
		req:  req,
	}
	b.fsm = fsm.NewFSM(
		string(StatusPending),
		blockEvents,
		fsm.Callbacks{
			"after_" + eventStart: func(_ context.Context, e *fsm.Event) {
				b.taskID = e.Args[0].(string)
			},
			"after_" + eventReset: func(_ context.Context, e *fsm.Event) {
				b.taskID = ""
			},
		},
	)
	return b
}

func (b *Block) ID() string                         { return b.id }
func (b *Block) Name() string                       { return b.name }
func (b *Block) NodeName() string                   { return b.node }
func (b *Block) Phase() string                      { return b.phase }
func (b *Block) Requirement() types.TaskRequirement { return b.req }

// Status returns the current status
func (b *Block) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Status(b.fsm.Current())
}

// TaskID returns the task bound by Start, empty unless InProgress or Complete
func (b *Block) TaskID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.taskID
}

func (b *Block) IsPending() bool    { return b.Status() == StatusPending }
func (b *Block) IsInProgress() bool { return b.Status() == StatusInProgress }
func (b *Block) IsComplete() bool   { return b.Status() == StatusComplete }

// Start binds taskID and moves the block to InProgress
func (b *Block) Start(taskID string) error {
	if taskID == "" {
		return errors.New("block start requires a task id")
	}
	return b.event(eventStart, taskID)
}

// Complete moves the block from InProgress to Complete
func (b *Block) Complete() error {
	return b.event(eventComplete)
}

// Reset returns an InProgress block to Pending after its task failed
func (b *Block) Reset() error {
	return b.event(eventReset)
}

func (b *Block) event(name string, args ...interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.fsm.Can(name) {
		return fmt.Errorf("%w: %s from %s on block %s", ErrInvalidTransition, name, b.fsm.Current(), b.name)
	}
	return b.fsm.Event(context.Background(), name, args...)
}

func (b *Block) String() string {
	return fmt.Sprintf("%s[%s]", b.name, b.Status())
}
