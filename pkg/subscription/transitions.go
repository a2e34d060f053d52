package subscription

import "time"

// Transition reports the effect of applying one lifecycle event.
// When Changed is false, Reason says why the event was a no-op.
type Transition struct {
	Changed      bool
	From         Status
	To           Status
	PrevPhase    Phase
	Phase        Phase
	PrevInterval BillingInterval
	Interval     BillingInterval
	PrevPlan     string
	Plan         string
	Reason       string
}

// PhaseChanged reports whether the discount phase moved.
func (t Transition) PhaseChanged() bool {
	return t.Changed && t.PrevPhase != t.Phase
}

// PlanChanged reports whether the subscription moved to another tier.
func (t Transition) PlanChanged() bool {
	return t.Changed && t.PrevPlan != t.Plan
}

// IntervalChanged reports whether the billing interval switched, which
// changes the discount the provider should be billing.
func (t Transition) IntervalChanged() bool {
	return t.Changed && t.PrevInterval != t.Interval
}

// CheckoutCompletion carries what the provider reports once checkout succeeds.
type CheckoutCompletion struct {
	Plan           string
	Interval       BillingInterval
	CustomerID     string
	SubscriptionID string
}

// ProviderState is the provider's view of a subscription at ObservedAt.
// An empty Status means the provider status has no local equivalent.
type ProviderState struct {
	Status           Status
	Plan             string
	Interval         BillingInterval
	CurrentPeriodEnd *time.Time
	ObservedAt       time.Time
}

// Invoice reasons the provider attaches to paid invoices.
const (
	BillingReasonCreate = "subscription_create"
	BillingReasonCycle  = "subscription_cycle"
)

func (s *Subscription) begin() Transition {
	return Transition{
		From:         s.Status,
		To:           s.Status,
		PrevPhase:    s.DiscountPhase,
		Phase:        s.DiscountPhase,
		PrevInterval: s.BillingInterval,
		Interval:     s.BillingInterval,
		PrevPlan:     s.Plan,
		Plan:         s.Plan,
	}
}

func (s *Subscription) finish(t Transition, now time.Time) Transition {
	t.Changed = true
	t.To = s.Status
	t.Phase = s.DiscountPhase
	t.Interval = s.BillingInterval
	t.Plan = s.Plan
	s.UpdatedAt = now.UTC()
	return t
}

func noop(t Transition, reason string) Transition {
	t.Reason = reason
	return t
}

// CompleteCheckout moves a trial or suspended subscription onto a paid plan.
// A suspended subscription is a full resubscribe: the discount restarts at
// the first quarter. A subscription already bound to a provider
// subscription is left alone.
func (s *Subscription) CompleteCheckout(c CheckoutCompletion, now time.Time) Transition {
	return s.fire(eventCheckout, &lifecycleInput{checkout: c, now: now})
}

// SyncProviderState applies a "subscription created/updated" event. Status,
// plan and interval follow the provider; the period end only moves forward.
// Events older than the last applied one are ignored.
func (s *Subscription) SyncProviderState(p ProviderState, now time.Time) Transition {
	return s.fire(eventProviderSync, &lifecycleInput{provider: p, now: now})
}

// Cancel applies a provider "subscription deleted" event.
func (s *Subscription) Cancel(now time.Time) Transition {
	return s.fire(eventDeleted, &lifecycleInput{now: now})
}

// suspend keeps the customer id so the organization can reach the billing
// portal and resubscribe.
func (s *Subscription) suspend() {
	s.Status = StatusSuspended
	s.IsTrial = false
	s.ProviderSubscriptionID = ""
	s.CurrentPeriodEnd = nil
	s.DiscountOutOfSync = false
}

// RecordPayment applies a paid invoice and recovers a past-due
// subscription. Only a renewal (BillingReasonCycle) of a monthly plan counts
// one more month and may advance the discount phase. Each invoice is
// recorded at most once.
func (s *Subscription) RecordPayment(invoiceID, billingReason string, now time.Time) Transition {
	return s.fire(eventInvoicePaid, &lifecycleInput{invoiceID: invoiceID, billingReason: billingReason, now: now})
}

// RecordPaymentFailure applies a failed invoice. Phase and months are kept.
func (s *Subscription) RecordPaymentFailure(now time.Time) Transition {
	return s.fire(eventInvoiceFailed, &lifecycleInput{now: now})
}

// ExpireTrial suspends a trial whose end date has passed.
func (s *Subscription) ExpireTrial(now time.Time) Transition {
	return s.fire(eventTrialExpired, &lifecycleInput{now: now})
}

// MarkDiscountSync records whether the provider coupon matches the phase.
func (s *Subscription) MarkDiscountSync(inSync bool, now time.Time) Transition {
	t := s.begin()
	if s.DiscountOutOfSync == !inSync {
		return noop(t, "unchanged")
	}
	s.DiscountOutOfSync = !inSync
	return s.finish(t, now)
}
