package subscription

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Subscription is an organization's billing state. There is exactly one per
// organization; OrganizationID never changes after creation.
type Subscription struct {
	OrganizationID         uuid.UUID       `json:"organization_id"`
	Plan                   string          `json:"plan"`
	Status                 Status          `json:"status"`
	IsTrial                bool            `json:"is_trial"`
	TrialEnd               *time.Time      `json:"trial_end,omitempty"`
	DiscountPhase          Phase           `json:"discount_phase"`
	MonthsSubscribed       int             `json:"months_subscribed"`
	BillingInterval        BillingInterval `json:"billing_interval"`
	ProviderCustomerID     string          `json:"provider_customer_id,omitempty"`
	ProviderSubscriptionID string          `json:"provider_subscription_id,omitempty"`
	CurrentPeriodEnd       *time.Time      `json:"current_period_end,omitempty"`

	// LastInvoiceID is the last invoice counted toward MonthsSubscribed.
	LastInvoiceID string `json:"last_invoice_id,omitempty"`
	// ProviderSyncedAt is the provider timestamp of the last applied
	// subscription-state event; older events are ignored.
	ProviderSyncedAt *time.Time `json:"provider_synced_at,omitempty"`
	// DiscountOutOfSync is set while a coupon push is waiting for retry.
	DiscountOutOfSync bool `json:"discount_out_of_sync"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTrial creates the subscription every organization starts with.
func NewTrial(orgID uuid.UUID, plan string, trialDays int, now time.Time) *Subscription {
	now = now.UTC()
	end := now.AddDate(0, 0, trialDays)
	return &Subscription{
		OrganizationID:  orgID,
		Plan:            plan,
		Status:          StatusActive,
		IsTrial:         true,
		TrialEnd:        &end,
		DiscountPhase:   PhaseTrial,
		BillingInterval: IntervalMonth,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsTrialExpired reports whether a trial has run out without being converted.
func (s *Subscription) IsTrialExpired(now time.Time) bool {
	return s.IsTrial && s.TrialEnd != nil && !now.Before(*s.TrialEnd)
}

// TrialDaysLeft rounds the remaining trial time up to whole days.
func (s *Subscription) TrialDaysLeft(now time.Time) int {
	if !s.IsTrial || s.TrialEnd == nil || !now.Before(*s.TrialEnd) {
		return 0
	}
	return int(math.Ceil(s.TrialEnd.Sub(now).Hours() / 24))
}

// IsPaid reports whether the organization is on a live provider subscription.
func (s *Subscription) IsPaid() bool {
	return !s.IsTrial && s.ProviderSubscriptionID != "" &&
		(s.Status == StatusActive || s.Status == StatusPastDue)
}

// BilledPhase is the phase whose coupon the provider should apply. Soft
// landing only discounts monthly billing, so annual plans bill at full
// price while keeping their local phase for a later switch back.
func (s *Subscription) BilledPhase() Phase {
	if s.BillingInterval != IntervalMonth && s.DiscountPhase > PhaseTrial {
		return PhaseFull
	}
	return s.DiscountPhase
}

// Validate checks the invariants every persisted subscription must hold.
func (s *Subscription) Validate() error {
	switch {
	case s.OrganizationID == uuid.Nil:
		return fmt.Errorf("%w: missing organization id", ErrInvalidSubscriptionState)
	case s.IsTrial && s.ProviderSubscriptionID != "":
		return fmt.Errorf("%w: trial with provider subscription", ErrInvalidSubscriptionState)
	case s.Status == StatusSuspended && s.ProviderSubscriptionID != "":
		return fmt.Errorf("%w: suspended with provider subscription", ErrInvalidSubscriptionState)
	case !s.DiscountPhase.Valid():
		return fmt.Errorf("%w: discount phase %d out of range", ErrInvalidSubscriptionState, s.DiscountPhase)
	case s.MonthsSubscribed < 0:
		return fmt.Errorf("%w: negative months subscribed", ErrInvalidSubscriptionState)
	}
	switch s.Status {
	case StatusActive, StatusPastDue, StatusSuspended, StatusCancelled:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSubscriptionState, s.Status)
	}
	return nil
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	c := *s
	c.TrialEnd = cloneTime(s.TrialEnd)
	c.CurrentPeriodEnd = cloneTime(s.CurrentPeriodEnd)
	c.ProviderSyncedAt = cloneTime(s.ProviderSyncedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
