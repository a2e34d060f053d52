package statemachine

import (
	"context"
	"fmt"
	"sync"
)

// Machine walks a Table. It is safe for concurrent use, although machines
// are usually owned by a single goroutine for the lifetime of one record.
type Machine struct {
	table   *Table
	mu      sync.Mutex
	current State
}

// Current returns the state the machine is in.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Fire applies event. The first candidate transition whose guards pass is
// taken and its actions run in order before the state changes.
func (m *Machine) Fire(ctx context.Context, event Event, data any) error {
	if event == nil {
		return ErrInvalidEvent
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tr, err := m.pick(ctx, event, data)
	if err != nil {
		return err
	}
	for _, action := range tr.Actions {
		if err := action(ctx, m.current, tr.To, event, data); err != nil {
			return fmt.Errorf("%s -> %s on %s: %w", m.current.Name(), tr.To.Name(), event.Name(), err)
		}
	}
	m.current = tr.To
	return nil
}

// CanFire reports whether Fire would find a transition. Guards are
// evaluated, actions are not.
func (m *Machine) CanFire(ctx context.Context, event Event, data any) bool {
	if event == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.pick(ctx, event, data)
	return err == nil
}

func (m *Machine) pick(ctx context.Context, event Event, data any) (*Transition, error) {
	candidates := m.table.candidates(m.current, event)
	if len(candidates) == 0 {
		return nil, &ErrNoTransitionAvailable{StateName: m.current.Name(), EventName: event.Name()}
	}
	for i := range candidates {
		if candidates[i].allowed(ctx, m.current, event, data) {
			return &candidates[i], nil
		}
	}
	return nil, &ErrTransitionRejected{StateName: m.current.Name(), EventName: event.Name()}
}
