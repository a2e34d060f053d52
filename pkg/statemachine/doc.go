// Package statemachine implements small finite state machines whose
// transition table is declared once and shared by many short-lived
// machines.
//
// A Table is built from TransitionDef values and is immutable afterwards.
// Start returns a Machine positioned at a given state; the machine is
// cheap enough to create per record, which is how stored entities are
// driven: load the record, derive its state, fire one event, persist.
//
// Several transitions may share a from/event pair. They are tried in
// declaration order and the first one whose guards all pass is taken, so
// guards double as branch conditions. Actions of the chosen transition run
// before the state changes; an action error aborts the transition.
//
// Errors distinguish an event that is not defined for the current state
// (ErrNoTransitionAvailable) from one whose every candidate was vetoed by a
// guard (ErrTransitionRejected).
//
//	table := statemachine.MustNewTable(
//	    statemachine.Def(Draft, Review, Submit),
//	    statemachine.Def(Review, Published, Approve, statemachine.WithGuard(isEditor)),
//	)
//	m := table.Start(Draft)
//	if err := m.Fire(ctx, Submit, doc); err != nil {
//	    return err
//	}
package statemachine
