package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig configures the Stripe provider.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	// PriceIDs maps "tier_interval" keys (e.g. pro_month) to Stripe price ids.
	PriceIDs       map[string]string `env:"STRIPE_PRICE_IDS" envKeyValSeparator:"="`
	CouponCacheTTL time.Duration     `env:"STRIPE_COUPON_CACHE_TTL" envDefault:"1h"`
}

// Validate reports missing keys and price ids.
func (c *StripeConfig) Validate() error {
	if c.SecretKey == "" {
		return ErrMissingAPIKey
	}
	if c.WebhookSecret == "" {
		return ErrMissingWebhookSecret
	}
	return nil
}

// StripeClient is the part of the Stripe API the provider calls.
// NewStripeClient adapts an injected stripe client; tests use fakes.
type StripeClient interface {
	CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	CreatePortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
	GetCoupon(id string, params *stripe.CouponParams) (*stripe.Coupon, error)
	CreateCoupon(params *stripe.CouponParams) (*stripe.Coupon, error)
	UpdateSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	DeleteSubscriptionDiscount(id string, params *stripe.SubscriptionDeleteDiscountParams) error
}

type stripeAPI struct {
	api *client.API
}

// NewStripeClient returns a StripeClient backed by the Stripe API.
func NewStripeClient(secretKey string) StripeClient {
	return &stripeAPI{api: client.New(secretKey, nil)}
}

func (s *stripeAPI) CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return s.api.CheckoutSessions.New(params)
}

func (s *stripeAPI) CreatePortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	return s.api.BillingPortalSessions.New(params)
}

func (s *stripeAPI) GetCoupon(id string, params *stripe.CouponParams) (*stripe.Coupon, error) {
	return s.api.Coupons.Get(id, params)
}

func (s *stripeAPI) CreateCoupon(params *stripe.CouponParams) (*stripe.Coupon, error) {
	return s.api.Coupons.New(params)
}

func (s *stripeAPI) UpdateSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return s.api.Subscriptions.Update(id, params)
}

func (s *stripeAPI) DeleteSubscriptionDiscount(id string, params *stripe.SubscriptionDeleteDiscountParams) error {
	_, err := s.api.Subscriptions.DeleteDiscount(id, params)
	return err
}

// PriceTable maps catalog tiers and intervals to provider price ids, both ways.
type PriceTable struct {
	byKey   map[string]string
	byPrice map[string]priceKey
}

type priceKey struct {
	tier     string
	interval BillingInterval
}

// NewPriceTable builds a table from "tier_interval" keys. Keys for tiers
// outside the catalog are rejected so typos surface at startup.
func NewPriceTable(catalog *Catalog, ids map[string]string) (*PriceTable, error) {
	t := &PriceTable{byKey: make(map[string]string), byPrice: make(map[string]priceKey)}
	for key, priceID := range ids {
		i := strings.LastIndex(key, "_")
		if i <= 0 || priceID == "" {
			return nil, fmt.Errorf("%w: bad price mapping %q", ErrInvalidCatalog, key)
		}
		tier := key[:i]
		interval, err := ParseInterval(key[i+1:])
		if err != nil {
			return nil, fmt.Errorf("%w: bad price mapping %q", ErrInvalidCatalog, key)
		}
		if _, ok := catalog.Plan(tier); !ok {
			return nil, fmt.Errorf("%w: price mapping for unknown tier %q", ErrInvalidCatalog, tier)
		}
		t.byKey[key] = priceID
		t.byPrice[priceID] = priceKey{tier: tier, interval: interval}
	}
	return t, nil
}

// PriceID returns the provider price for a tier billed at interval.
func (t *PriceTable) PriceID(tier string, interval BillingInterval) (string, bool) {
	id, ok := t.byKey[tier+"_"+string(interval)]
	return id, ok
}

// Resolve maps a provider price id back to its tier and interval. Unknown
// prices return false; the reconciler then keeps the stored plan.
func (t *PriceTable) Resolve(priceID string) (string, BillingInterval, bool) {
	k, ok := t.byPrice[priceID]
	return k.tier, k.interval, ok
}

// StripeProvider implements BillingProvider on Stripe Checkout, the billing
// portal and coupons. Soft-landing coupons are created on first use and
// remembered in an expiring cache.
type StripeProvider struct {
	client        StripeClient
	webhookSecret string
	prices        *PriceTable

	couponMu sync.Mutex
	coupons  *expirable.LRU[string, struct{}]
}

// NewStripeProvider returns a provider calling Stripe through client and
// verifying webhooks with webhookSecret. Known coupon ids are cached for
// couponTTL, one hour when non-positive.
func NewStripeProvider(client StripeClient, webhookSecret string, prices *PriceTable, couponTTL time.Duration) *StripeProvider {
	if couponTTL <= 0 {
		couponTTL = time.Hour
	}
	return &StripeProvider{
		client:        client,
		webhookSecret: webhookSecret,
		prices:        prices,
		coupons:       expirable.NewLRU[string, struct{}](16, nil, couponTTL),
	}
}

// CreateCheckoutLink opens a subscription-mode Checkout session for the
// requested tier, tagged with the organization id.
func (p *StripeProvider) CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	priceID, ok := p.prices.PriceID(req.Plan, req.Interval)
	if !ok {
		return nil, fmt.Errorf("%w: no price for %s/%s", ErrInvalidPlan, req.Plan, req.Interval)
	}

	metadata := map[string]string{
		"org_id":   req.OrganizationID.String(),
		"plan":     req.Plan,
		"interval": string(req.Interval),
	}
	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: ctx},
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrganizationID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Metadata = metadata
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	if req.Interval == IntervalMonth {
		couponID, err := p.ensureCoupon(ctx, PhaseQ1)
		if err != nil {
			return nil, err
		}
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{{Coupon: stripe.String(couponID)}}
	}

	session, err := p.client.CreateCheckoutSession(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	link := &CheckoutLink{URL: session.URL, SessionID: session.ID}
	if session.ExpiresAt > 0 {
		link.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return link, nil
}

// CreatePortalLink opens a billing portal session for customerID.
func (p *StripeProvider) CreatePortalLink(ctx context.Context, customerID, returnURL string) (*PortalLink, error) {
	if customerID == "" {
		return nil, ErrNoBillingAccount
	}
	session, err := p.client.CreatePortalSession(&stripe.BillingPortalSessionParams{
		Params:    stripe.Params{Context: ctx},
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return &PortalLink{URL: session.URL}, nil
}

// SyncDiscount applies phase's coupon to the subscription, or removes the
// discount for phases without one.
func (p *StripeProvider) SyncDiscount(ctx context.Context, providerSubscriptionID string, phase Phase) error {
	if providerSubscriptionID == "" || phase <= PhaseTrial {
		return nil
	}

	if phase >= PhaseFull {
		err := p.client.DeleteSubscriptionDiscount(providerSubscriptionID, &stripe.SubscriptionDeleteDiscountParams{
			Params: stripe.Params{Context: ctx},
		})
		if err != nil && !isResourceMissing(err) {
			return classifyStripeError(err)
		}
		return nil
	}

	couponID, err := p.ensureCoupon(ctx, phase)
	if err != nil {
		return err
	}
	_, err = p.client.UpdateSubscription(providerSubscriptionID, &stripe.SubscriptionParams{
		Params:    stripe.Params{Context: ctx},
		Discounts: []*stripe.SubscriptionDiscountParams{{Coupon: stripe.String(couponID)}},
	})
	if err != nil {
		return classifyStripeError(err)
	}
	return nil
}

// ensureCoupon returns the id of phase's coupon, creating it on Stripe if it
// does not exist yet. Coupons repeat for one quarter.
func (p *StripeProvider) ensureCoupon(ctx context.Context, phase Phase) (string, error) {
	id := phase.CouponID()
	if id == "" {
		return "", fmt.Errorf("%w: phase %d has no coupon", ErrInvalidSubscriptionState, phase)
	}

	p.couponMu.Lock()
	defer p.couponMu.Unlock()

	if _, ok := p.coupons.Get(id); ok {
		return id, nil
	}

	_, err := p.client.GetCoupon(id, &stripe.CouponParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		if !isResourceMissing(err) {
			return "", classifyStripeError(err)
		}
		_, err = p.client.CreateCoupon(&stripe.CouponParams{
			Params:           stripe.Params{Context: ctx},
			ID:               stripe.String(id),
			Name:             stripe.String("Soft landing " + phase.Label()),
			PercentOff:       stripe.Float64(float64(phase.PercentOff())),
			Duration:         stripe.String(string(stripe.CouponDurationRepeating)),
			DurationInMonths: stripe.Int64(MonthsPerPhase),
		})
		if err != nil && !isAlreadyExists(err) {
			return "", classifyStripeError(err)
		}
	}

	p.coupons.Add(id, struct{}{})
	return id, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event
// types the reconciler handles. Other types come back as EventUnhandled.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if err := webhook.ValidatePayload(payload, signature, p.webhookSecret); err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	var env struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
		Data    struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: missing event id or type", ErrMalformedPayload)
	}

	evt := &WebhookEvent{
		ID:            env.ID,
		Type:          EventUnhandled,
		ProviderEvent: env.Type,
		CreatedAt:     time.Unix(env.Created, 0).UTC(),
	}

	var err error
	switch stripe.EventType(env.Type) {
	case stripe.EventTypeCheckoutSessionCompleted:
		evt.Type = EventCheckoutCompleted
		err = decodeCheckoutSession(env.Data.Object, evt)
	case stripe.EventTypeCustomerSubscriptionCreated, stripe.EventTypeCustomerSubscriptionUpdated:
		evt.Type = EventSubscriptionUpdated
		err = p.decodeSubscription(env.Data.Object, evt)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		evt.Type = EventSubscriptionDeleted
		err = p.decodeSubscription(env.Data.Object, evt)
	case stripe.EventTypeInvoicePaid:
		evt.Type = EventInvoicePaid
		err = decodeInvoice(env.Data.Object, evt)
	case stripe.EventTypeInvoicePaymentFailed:
		evt.Type = EventInvoicePaymentFailed
		err = decodeInvoice(env.Data.Object, evt)
	}
	if err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	return evt, nil
}

// expandableID reads a Stripe reference that is either an id string or an
// expanded object carrying an id.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

func decodeCheckoutSession(raw json.RawMessage, evt *WebhookEvent) error {
	var s struct {
		ID                string            `json:"id"`
		Mode              string            `json:"mode"`
		Customer          expandableID      `json:"customer"`
		Subscription      expandableID      `json:"subscription"`
		ClientReferenceID string            `json:"client_reference_id"`
		Metadata          map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	if s.ID == "" {
		return errors.New("checkout session without id")
	}
	if s.Mode != "" && s.Mode != string(stripe.CheckoutSessionModeSubscription) {
		evt.Type = EventUnhandled
		return nil
	}

	evt.OrganizationID = s.Metadata["org_id"]
	if evt.OrganizationID == "" {
		evt.OrganizationID = s.ClientReferenceID
	}
	evt.Plan = s.Metadata["plan"]
	evt.Interval = BillingInterval(s.Metadata["interval"])
	evt.CustomerID = string(s.Customer)
	evt.SubscriptionID = string(s.Subscription)
	return nil
}

func (p *StripeProvider) decodeSubscription(raw json.RawMessage, evt *WebhookEvent) error {
	type price struct {
		ID string `json:"id"`
	}
	var s struct {
		ID               string       `json:"id"`
		Customer         expandableID `json:"customer"`
		Status           string       `json:"status"`
		CurrentPeriodEnd int64        `json:"current_period_end"`
		Items            struct {
			Data []struct {
				CurrentPeriodEnd int64 `json:"current_period_end"`
				Price            price `json:"price"`
			} `json:"data"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	if s.ID == "" {
		return errors.New("subscription without id")
	}

	evt.SubscriptionID = s.ID
	evt.CustomerID = string(s.Customer)
	evt.ProviderStatus = s.Status
	evt.Status = mapStripeStatus(stripe.SubscriptionStatus(s.Status))

	periodEnd := s.CurrentPeriodEnd
	for _, item := range s.Items.Data {
		periodEnd = max(periodEnd, item.CurrentPeriodEnd)
		if tier, interval, ok := p.prices.Resolve(item.Price.ID); ok && evt.Plan == "" {
			evt.Plan, evt.Interval = tier, interval
		}
	}
	if periodEnd > 0 {
		end := time.Unix(periodEnd, 0).UTC()
		evt.CurrentPeriodEnd = &end
	}
	return nil
}

func decodeInvoice(raw json.RawMessage, evt *WebhookEvent) error {
	var inv struct {
		ID            string       `json:"id"`
		Customer      expandableID `json:"customer"`
		Subscription  expandableID `json:"subscription"`
		BillingReason string       `json:"billing_reason"`
		Parent        struct {
			SubscriptionDetails struct {
				Subscription expandableID `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
	}
	if err := json.Unmarshal(raw, &inv); err != nil {
		return err
	}
	if inv.ID == "" {
		return errors.New("invoice without id")
	}

	evt.InvoiceID = inv.ID
	evt.CustomerID = string(inv.Customer)
	evt.BillingReason = inv.BillingReason
	evt.SubscriptionID = string(inv.Subscription)
	if evt.SubscriptionID == "" {
		evt.SubscriptionID = string(inv.Parent.SubscriptionDetails.Subscription)
	}
	return nil
}

// mapStripeStatus folds Stripe's subscription statuses onto local ones.
// Statuses without a local meaning (incomplete, paused) map to "".
func mapStripeStatus(s stripe.SubscriptionStatus) Status {
	switch s {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return StatusActive
	case stripe.SubscriptionStatusPastDue:
		return StatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		return StatusSuspended
	default:
		return ""
	}
}

func classifyStripeError(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		if serr.HTTPStatusCode == http.StatusTooManyRequests || serr.HTTPStatusCode >= http.StatusInternalServerError {
			return errors.Join(ErrProviderUnavailable, err)
		}
		return errors.Join(ErrProviderRejected, err)
	}
	return errors.Join(ErrProviderUnavailable, err)
}

func isResourceMissing(err error) bool {
	var serr *stripe.Error
	return errors.As(err, &serr) && (serr.Code == stripe.ErrorCodeResourceMissing || serr.HTTPStatusCode == http.StatusNotFound)
}

func isAlreadyExists(err error) bool {
	var serr *stripe.Error
	return errors.As(err, &serr) && serr.Code == stripe.ErrorCodeResourceAlreadyExists
}
