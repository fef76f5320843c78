package mutation

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of one mutation.
type State int

const (
	StateIdle State = iota
	StateOptimistic
	StateInFlight
	StateSucceeded
	StateFailed
)

// ErrInvalidTransition is returned when a mutation is moved out of order.
var ErrInvalidTransition = errors.New("invalid mutation state transition")

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOptimistic:
		return "optimistic-applied"
	case StateInFlight:
		return "in-flight"
	case StateSucceeded:
		return "settled-success"
	case StateFailed:
		return "settled-failure"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Settled reports whether s is terminal.
func (s State) Settled() bool {
	return s == StateSucceeded || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:       {StateOptimistic, StateInFlight},
	StateOptimistic: {StateInFlight},
	StateInFlight:   {StateSucceeded, StateFailed},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition describes one state change, passed to the transition hook.
type Transition struct {
	ID   string
	Name string
	From State
	To   State
}

// Mutation tracks the state of a single mutation instance.
type Mutation struct {
	ID    string
	Name  string
	state State
	hook  func(Transition)
}

// State returns the current state.
func (m *Mutation) State() State {
	return m.state
}

// advance moves the mutation to the next state.
func (m *Mutation) advance(to State) error {
	if !CanTransition(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	from := m.state
	m.state = to
	if m.hook != nil {
		m.hook(Transition{ID: m.ID, Name: m.Name, From: from, To: to})
	}
	return nil
}
