package statemachine

import "context"

// State is a node of the machine.
type State interface {
	Name() string
}

// Event triggers a transition.
type Event interface {
	Name() string
}

// Guard decides whether a transition may be taken for the given data.
type Guard func(ctx context.Context, from State, event Event, data any) bool

// Action runs a side effect of a transition before the state changes.
// Returning an error keeps the machine in its current state.
type Action func(ctx context.Context, from, to State, event Event, data any) error

// Transition is one edge of the table.
type Transition struct {
	From    State
	To      State
	Event   Event
	Guards  []Guard
	Actions []Action
}

func (t Transition) allowed(ctx context.Context, from State, event Event, data any) bool {
	for _, g := range t.Guards {
		if !g(ctx, from, event, data) {
			return false
		}
	}
	return true
}

// StringState is a State named by its value.
type StringState string

func (s StringState) Name() string { return string(s) }

// StringEvent is an Event named by its value.
type StringEvent string

func (e StringEvent) Name() string { return string(e) }
