package subscription

import (
	"context"
	"time"

	"github.com/egglogu/billing/pkg/statemachine"
)

// Lifecycle states. Trial is derived from IsTrial; the others mirror Status.
const (
	stateTrial     = statemachine.StringState("trial")
	stateActive    = statemachine.StringState(StatusActive)
	statePastDue   = statemachine.StringState(StatusPastDue)
	stateSuspended = statemachine.StringState(StatusSuspended)
	stateCancelled = statemachine.StringState(StatusCancelled)
)

const (
	eventCheckout      = statemachine.StringEvent("checkout")
	eventProviderSync  = statemachine.StringEvent("provider_sync")
	eventInvoicePaid   = statemachine.StringEvent("invoice_paid")
	eventInvoiceFailed = statemachine.StringEvent("invoice_failed")
	eventDeleted       = statemachine.StringEvent("deleted")
	eventTrialExpired  = statemachine.StringEvent("trial_expired")
)

// lifecycleInput is the data passed to guards and actions. A guard that
// vetoes a transition records why in reason.
type lifecycleInput struct {
	sub           *Subscription
	now           time.Time
	checkout      CheckoutCompletion
	provider      ProviderState
	invoiceID     string
	billingReason string
	reason        string
}

func input(data any) *lifecycleInput { return data.(*lifecycleInput) }

func guard(reason string, ok func(in *lifecycleInput) bool) statemachine.Guard {
	return func(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
		in := input(data)
		if ok(in) {
			return true
		}
		in.reason = reason
		return false
	}
}

func action(fn func(in *lifecycleInput, to statemachine.State)) statemachine.Action {
	return func(_ context.Context, _, to statemachine.State, _ statemachine.Event, data any) error {
		fn(input(data), to)
		return nil
	}
}

var (
	newCheckout = guard("checkout already applied", func(in *lifecycleInput) bool {
		return in.checkout.SubscriptionID == "" || in.checkout.SubscriptionID != in.sub.ProviderSubscriptionID
	})
	noProviderSubscription = guard("organization already on another provider subscription", func(in *lifecycleInput) bool {
		return in.sub.ProviderSubscriptionID == ""
	})
	freshProviderState = guard("stale provider event", func(in *lifecycleInput) bool {
		return in.sub.ProviderSyncedAt == nil || !in.provider.ObservedAt.Before(*in.sub.ProviderSyncedAt)
	})
	newInvoice = guard("invoice already counted", func(in *lifecycleInput) bool {
		return in.invoiceID == "" || in.invoiceID != in.sub.LastInvoiceID
	})
	hasProviderSubscription = guard("already suspended", func(in *lifecycleInput) bool {
		return in.sub.ProviderSubscriptionID != ""
	})
	trialOver = guard("trial still running", func(in *lifecycleInput) bool {
		return in.sub.IsTrialExpired(in.now) && in.sub.ProviderSubscriptionID == ""
	})
)

func providerStatus(want Status) statemachine.Guard {
	return func(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
		return input(data).provider.Status == want
	}
}

var (
	applyCheckout = action(func(in *lifecycleInput, _ statemachine.State) {
		s, c := in.sub, in.checkout
		s.Plan = c.Plan
		s.IsTrial = false
		s.DiscountPhase = PhaseQ1
		s.MonthsSubscribed = 0
		s.BillingInterval = c.Interval
		if c.CustomerID != "" {
			s.ProviderCustomerID = c.CustomerID
		}
		s.ProviderSubscriptionID = c.SubscriptionID
		s.LastInvoiceID = ""
		s.DiscountOutOfSync = false
	})

	// applyProviderState copies the provider's view; the period end only
	// moves forward. Nothing but the sync timestamp is kept on suspension.
	applyProviderState = action(func(in *lifecycleInput, to statemachine.State) {
		s, p := in.sub, in.provider
		if to != stateSuspended {
			if p.CurrentPeriodEnd != nil && (s.CurrentPeriodEnd == nil || p.CurrentPeriodEnd.After(*s.CurrentPeriodEnd)) {
				end := p.CurrentPeriodEnd.UTC()
				s.CurrentPeriodEnd = &end
			}
			if p.Plan != "" {
				s.Plan = p.Plan
			}
			if p.Interval != "" {
				s.BillingInterval = p.Interval
			}
		}
		observed := p.ObservedAt.UTC()
		s.ProviderSyncedAt = &observed
	})

	// countPayment counts renewal invoices of monthly plans only. Invoices
	// raised by checkout, plan changes or by hand are recorded but never
	// advance the discount.
	countPayment = action(func(in *lifecycleInput, _ statemachine.State) {
		s := in.sub
		if in.billingReason == BillingReasonCycle && s.BillingInterval == IntervalMonth {
			s.MonthsSubscribed++
			if next := PhaseForMonths(s.MonthsSubscribed); next > s.DiscountPhase {
				s.DiscountPhase = next
			}
		}
		s.LastInvoiceID = in.invoiceID
	})
)

func lifecycleTransitions() []statemachine.TransitionDef {
	var defs []statemachine.TransitionDef

	for _, from := range []statemachine.State{stateTrial, stateSuspended} {
		defs = append(defs, statemachine.Def(from, stateActive, eventCheckout,
			statemachine.WithGuard(newCheckout),
			statemachine.WithAction(applyCheckout)))
	}
	for _, from := range []statemachine.State{stateActive, statePastDue, stateCancelled} {
		defs = append(defs, statemachine.Def(from, stateActive, eventCheckout,
			statemachine.WithGuards(newCheckout, noProviderSubscription),
			statemachine.WithAction(applyCheckout)))
	}

	// provider sync branches on the reported status; an unknown status
	// keeps the current state
	for _, from := range []statemachine.State{stateTrial, stateActive, statePastDue} {
		for _, to := range []statemachine.State{stateActive, statePastDue, stateSuspended} {
			defs = append(defs, statemachine.Def(from, to, eventProviderSync,
				statemachine.WithGuards(freshProviderState, providerStatus(Status(to.Name()))),
				statemachine.WithAction(applyProviderState)))
		}
		defs = append(defs, statemachine.Def(from, from, eventProviderSync,
			statemachine.WithGuard(freshProviderState),
			statemachine.WithAction(applyProviderState)))
	}

	for _, from := range []statemachine.State{stateActive, statePastDue} {
		defs = append(defs, statemachine.Def(from, stateActive, eventInvoicePaid,
			statemachine.WithGuard(newInvoice),
			statemachine.WithAction(countPayment)))
	}

	defs = append(defs, statemachine.Def(stateActive, statePastDue, eventInvoiceFailed))

	for _, from := range []statemachine.State{stateTrial, stateActive, statePastDue, stateCancelled} {
		defs = append(defs, statemachine.Def(from, stateSuspended, eventDeleted))
	}
	defs = append(defs, statemachine.Def(stateSuspended, stateSuspended, eventDeleted,
		statemachine.WithGuard(hasProviderSubscription)))

	defs = append(defs, statemachine.Def(stateTrial, stateSuspended, eventTrialExpired,
		statemachine.WithGuard(trialOver)))

	return defs
}

var lifecycle = statemachine.MustNewTable(lifecycleTransitions()...)

func (s *Subscription) lifecycleState() statemachine.State {
	if s.IsTrial {
		return stateTrial
	}
	return statemachine.StringState(s.Status)
}

// enter sets the persisted fields that follow from reaching state. A trial
// keeps whatever status the provider last reported.
func (s *Subscription) enter(state statemachine.State) {
	switch state {
	case stateSuspended:
		s.suspend()
	case stateTrial:
	default:
		s.Status = Status(state.Name())
	}
}

// skipReason explains an event the lifecycle does not define for a state.
func skipReason(state statemachine.State, event statemachine.Event) string {
	switch event {
	case eventProviderSync:
		return "subscription is not active"
	case eventInvoicePaid:
		return "subscription is not paid"
	case eventInvoiceFailed:
		if state == statePastDue {
			return "already past due"
		}
		return "subscription is not paid"
	case eventTrialExpired:
		return "trial still running"
	}
	return "no transition from " + state.Name() + " on " + event.Name()
}

// fire runs one lifecycle event against s and reports its effect.
func (s *Subscription) fire(event statemachine.Event, in *lifecycleInput) Transition {
	t := s.begin()
	in.sub = s

	from := s.lifecycleState()
	m := lifecycle.Start(from)
	err := m.Fire(context.Background(), event, in)
	switch {
	case statemachine.IsTransitionRejectedError(err):
		return noop(t, in.reason)
	case statemachine.IsNoTransitionAvailableError(err):
		return noop(t, skipReason(from, event))
	case err != nil:
		return noop(t, err.Error())
	}

	s.enter(m.Current())
	return s.finish(t, in.now)
}
