package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists subscriptions. Implementations must make Update atomic:
// the processed-event record, the row lock, fn and the write all happen in
// one transaction so concurrent events for one organization serialize.
type Store interface {
	// Create inserts a new subscription. Returns ErrSubscriptionAlreadyExists
	// when the organization already has one.
	Create(ctx context.Context, sub *Subscription) error

	GetByOrganization(ctx context.Context, orgID uuid.UUID) (*Subscription, error)
	GetByProviderSubscription(ctx context.Context, providerSubscriptionID string) (*Subscription, error)

	// Update locks the subscription matched by key and applies fn.
	// When eventID is not empty it is recorded as processed in the same
	// transaction, and ErrDuplicateEvent is returned if it already was.
	// The row is written only if fn reports a change.
	Update(ctx context.Context, key Lookup, eventID string, fn func(*Subscription) Transition) (*Subscription, Transition, error)

	List(ctx context.Context, filter ListFilter) ([]*Subscription, error)
	Cohorts(ctx context.Context) ([]Cohort, error)
	CountSuspendedSince(ctx context.Context, since time.Time) (int, error)
	PruneProcessedEvents(ctx context.Context, before time.Time) (int64, error)
}

// Lookup selects one subscription, by organization or by provider id.
type Lookup struct {
	OrganizationID         uuid.UUID
	ProviderSubscriptionID string
}

func ByOrganization(id uuid.UUID) Lookup { return Lookup{OrganizationID: id} }

func ByProviderSubscription(id string) Lookup { return Lookup{ProviderSubscriptionID: id} }

// ListFilter narrows List. Zero values disable a criterion.
type ListFilter struct {
	DiscountOutOfSync  bool
	TrialExpiredBefore *time.Time
	Limit              int
}

// Cohort counts subscriptions sharing the fields that determine revenue.
type Cohort struct {
	Plan     string
	Interval BillingInterval
	Status   Status
	IsTrial  bool
	Phase    Phase
	Count    int
}
