package subscription

import (
	"errors"

	"github.com/egglogu/billing/pkg/limits"
)

var (
	ErrInvalidPlan       = errors.New("plan tier or billing interval is not available")
	ErrInvalidCatalog    = errors.New("invalid plan catalog")
	ErrFailedToLoadPlans = errors.New("failed to load plan catalog")

	ErrLimitExceeded = limits.ErrLimitExceeded

	ErrSubscriptionNotFound      = errors.New("subscription not found")
	ErrSubscriptionAlreadyExists = errors.New("subscription already exists")
	ErrAlreadySubscribed         = errors.New("organization already has an active paid subscription")
	ErrInvalidSubscriptionState  = errors.New("invalid subscription state")
	ErrDuplicateEvent            = errors.New("webhook event already processed")

	ErrNoBillingAccount    = errors.New("no billing account")
	ErrProviderUnavailable = errors.New("billing provider unavailable")
	ErrProviderRejected    = errors.New("billing provider rejected the request")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrMalformedPayload    = errors.New("malformed webhook payload")

	ErrMissingAPIKey        = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret = errors.New("billing provider webhook secret is required")
)
