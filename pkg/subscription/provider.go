package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BillingProvider is the only component that talks to the payment provider.
type BillingProvider interface {
	// CreateCheckoutLink opens a hosted checkout session. Returns
	// ErrInvalidPlan when the tier/interval pair has no provider price and
	// ErrProviderUnavailable on transport failures.
	CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error)

	// CreatePortalLink opens a customer portal session. Returns
	// ErrNoBillingAccount when customerID is empty.
	CreatePortalLink(ctx context.Context, customerID, returnURL string) (*PortalLink, error)

	// ParseWebhook verifies the signature before decoding anything.
	// Returns ErrInvalidSignature or ErrMalformedPayload.
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)

	// SyncDiscount makes the provider subscription carry exactly the coupon
	// of phase. Calling it twice with the same phase is a no-op.
	SyncDiscount(ctx context.Context, providerSubscriptionID string, phase Phase) error
}

// CheckoutRequest contains what the provider needs to open a checkout.
type CheckoutRequest struct {
	OrganizationID uuid.UUID
	Plan           string
	Interval       BillingInterval
	CustomerID     string // existing provider customer, if any
	Email          string
	SuccessURL     string
	CancelURL      string
}

type CheckoutLink struct {
	URL       string
	SessionID string
	ExpiresAt time.Time
}

type PortalLink struct {
	URL string
}

// EventType is the provider-neutral kind of a webhook event.
type EventType string

const (
	EventCheckoutCompleted    EventType = "checkout_completed"
	EventSubscriptionUpdated  EventType = "subscription_updated"
	EventSubscriptionDeleted  EventType = "subscription_deleted"
	EventInvoicePaid          EventType = "invoice_paid"
	EventInvoicePaymentFailed EventType = "invoice_payment_failed"
	EventUnhandled            EventType = "unhandled"
)

// WebhookEvent is a verified, decoded provider event. Only the fields that
// matter for the event type are set.
type WebhookEvent struct {
	ID            string
	Type          EventType
	ProviderEvent string
	CreatedAt     time.Time

	// checkout metadata, as sent by CreateCheckoutLink
	OrganizationID string
	Plan           string
	Interval       BillingInterval

	CustomerID       string
	SubscriptionID   string
	Status           Status // provider status mapped to a local one, empty if none applies
	ProviderStatus   string
	CurrentPeriodEnd *time.Time

	InvoiceID     string
	BillingReason string
}
