package statemachine

import "fmt"

// TransitionDef declares a transition for NewTable.
type TransitionDef struct {
	From    State
	To      State
	Event   Event
	Options []TransitionOption
}

// TransitionOption attaches guards or actions to a TransitionDef.
type TransitionOption func(*Transition)

// Def is shorthand for a TransitionDef literal.
func Def(from, to State, event Event, opts ...TransitionOption) TransitionDef {
	return TransitionDef{From: from, To: to, Event: event, Options: opts}
}

// WithGuard adds a guard. Nil guards are skipped.
func WithGuard(g Guard) TransitionOption {
	return func(t *Transition) {
		if g != nil {
			t.Guards = append(t.Guards, g)
		}
	}
}

// WithGuards adds guards in order.
func WithGuards(gs ...Guard) TransitionOption {
	return func(t *Transition) {
		for _, g := range gs {
			WithGuard(g)(t)
		}
	}
}

// WithAction adds an action. Nil actions are skipped.
func WithAction(a Action) TransitionOption {
	return func(t *Transition) {
		if a != nil {
			t.Actions = append(t.Actions, a)
		}
	}
}

// WithActions adds actions in order.
func WithActions(as ...Action) TransitionOption {
	return func(t *Transition) {
		for _, a := range as {
			WithAction(a)(t)
		}
	}
}

// Table is an immutable transition table indexed as [from][event].
type Table struct {
	edges map[string]map[string][]Transition
}

// NewTable validates defs and indexes them. Transitions sharing a from/event
// pair keep their declaration order.
func NewTable(defs ...TransitionDef) (*Table, error) {
	t := &Table{edges: make(map[string]map[string][]Transition)}
	for i, d := range defs {
		if d.From == nil || d.To == nil || d.Event == nil {
			return nil, fmt.Errorf("transition[%d]: %w", i, ErrInvalidTransition)
		}
		tr := Transition{From: d.From, To: d.To, Event: d.Event}
		for _, opt := range d.Options {
			opt(&tr)
		}
		byEvent, ok := t.edges[d.From.Name()]
		if !ok {
			byEvent = make(map[string][]Transition)
			t.edges[d.From.Name()] = byEvent
		}
		byEvent[d.Event.Name()] = append(byEvent[d.Event.Name()], tr)
	}
	return t, nil
}

// MustNewTable is NewTable for package-level tables; it panics on an
// invalid definition.
func MustNewTable(defs ...TransitionDef) *Table {
	t, err := NewTable(defs...)
	if err != nil {
		panic(fmt.Sprintf("statemachine: %v", err))
	}
	return t
}

// Start returns a machine in state initial.
func (t *Table) Start(initial State) *Machine {
	return &Machine{table: t, current: initial}
}

// Events lists the events defined for a state, in no particular order.
func (t *Table) Events(from State) []string {
	byEvent := t.edges[from.Name()]
	names := make([]string, 0, len(byEvent))
	for name := range byEvent {
		names = append(names, name)
	}
	return names
}

func (t *Table) candidates(from State, event Event) []Transition {
	return t.edges[from.Name()][event.Name()]
}
