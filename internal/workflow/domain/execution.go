package domain

import (
	"fmt"
	"time"
)

// State of an execution in the coordinator.
type State string

const (
	StateReceived        State = "received"
	StateContextResolved State = "context_resolved"
	StateRunning         State = "running"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

var transitions = map[State][]State{
	StateReceived:        {StateContextResolved, StateFailed},
	StateContextResolved: {StateRunning, StateFailed},
	StateRunning:         {StateCompleted, StateFailed},
}

// IsTerminal reports whether no further transition is allowed.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Execution tracks one workflow run through its states. It is not safe for
// concurrent use; one goroutine owns an execution.
type Execution struct {
	ID        string
	Request   Request
	TenantID  string
	StartedAt time.Time

	state   State
	history []State
	context *ResolvedContext
}

func NewExecution(id, tenantID string, req Request, now time.Time) *Execution {
	return &Execution{
		ID:        id,
		Request:   req,
		TenantID:  tenantID,
		StartedAt: now,
		state:     StateReceived,
		history:   []State{StateReceived},
	}
}

func (e *Execution) State() State {
	return e.state
}

// History returns the visited states in order.
func (e *Execution) History() []State {
	return append([]State(nil), e.history...)
}

func (e *Execution) Context() *ResolvedContext {
	return e.context
}

func (e *Execution) transition(to State) error {
	for _, allowed := range transitions[e.state] {
		if allowed == to {
			e.state = to
			e.history = append(e.history, to)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.state, to)
}

// ContextResolved records the resolved context.
func (e *Execution) ContextResolved(rc *ResolvedContext) error {
	if err := e.transition(StateContextResolved); err != nil {
		return err
	}
	e.context = rc
	return nil
}

func (e *Execution) Start() error {
	return e.transition(StateRunning)
}

func (e *Execution) Complete() error {
	return e.transition(StateCompleted)
}

func (e *Execution) Fail() error {
	return e.transition(StateFailed)
}

// Status maps the state to the status reported to callers.
func (e *Execution) Status() Status {
	switch e.state {
	case StateCompleted:
		return StatusCompleted
	case StateFailed:
		return StatusFailed
	default:
		return StatusRunning
	}
}
