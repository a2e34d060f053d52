package subscription_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/egglogu/billing/pkg/subscription"
)

const testWebhookSecret = "whsec_test"

var testPriceIDs = map[string]string{
	"pro_month":     "price_pro_m",
	"pro_year":      "price_pro_y",
	"starter_month": "price_starter_m",
}

// fakeStripe records calls and keeps coupons in memory.
type fakeStripe struct {
	mu          sync.Mutex
	coupons     map[string]*stripe.CouponParams
	checkouts   []*stripe.CheckoutSessionParams
	updates     map[string][]string
	deletes     []string
	couponGets  int
	failUpdates error
}

func newFakeStripe() *fakeStripe {
	return &fakeStripe{coupons: make(map[string]*stripe.CouponParams), updates: make(map[string][]string)}
}

func (f *fakeStripe) CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, params)
	id := fmt.Sprintf("cs_%d", len(f.checkouts))
	return &stripe.CheckoutSession{ID: id, URL: "https://checkout.stripe.test/" + id, ExpiresAt: 1_900_000_000}, nil
}

func (f *fakeStripe) CreatePortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	return &stripe.BillingPortalSession{URL: "https://billing.stripe.test/" + *params.Customer}, nil
}

func (f *fakeStripe) GetCoupon(id string, _ *stripe.CouponParams) (*stripe.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.couponGets++
	if _, ok := f.coupons[id]; !ok {
		return nil, &stripe.Error{HTTPStatusCode: http.StatusNotFound, Code: stripe.ErrorCodeResourceMissing}
	}
	return &stripe.Coupon{ID: id}, nil
}

func (f *fakeStripe) CreateCoupon(params *stripe.CouponParams) (*stripe.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coupons[*params.ID] = params
	return &stripe.Coupon{ID: *params.ID}, nil
}

func (f *fakeStripe) UpdateSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdates != nil {
		return nil, f.failUpdates
	}
	f.updates[id] = append(f.updates[id], *params.Discounts[0].Coupon)
	return &stripe.Subscription{ID: id}, nil
}

func (f *fakeStripe) DeleteSubscriptionDiscount(id string, _ *stripe.SubscriptionDeleteDiscountParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeStripe) lastCoupon(subID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.updates[subID]
	if len(u) == 0 {
		return ""
	}
	return u[len(u)-1]
}

func (f *fakeStripe) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

func (f *fakeStripe) setFailUpdates(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpdates = err
}

func newTestProvider(t *testing.T, client subscription.StripeClient) *subscription.StripeProvider {
	t.Helper()
	prices, err := subscription.NewPriceTable(subscription.DefaultCatalog(), testPriceIDs)
	require.NoError(t, err)
	return subscription.NewStripeProvider(client, testWebhookSecret, prices, time.Hour)
}

func signPayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func checkoutEvent(eventID string, orgID uuid.UUID, plan, interval, subID string, created int64) []byte {
	return fmt.Appendf(nil, `{"id":%q,"type":"checkout.session.completed","created":%d,"data":{"object":{
		"id":"cs_test","object":"checkout.session","mode":"subscription","customer":"cus_1","subscription":%q,
		"client_reference_id":%q,"metadata":{"org_id":%q,"plan":%q,"interval":%q}}}}`,
		eventID, created, subID, orgID, orgID, plan, interval)
}

func invoiceEvent(eventID, eventType, invoiceID, subID, reason string, created int64) []byte {
	return fmt.Appendf(nil, `{"id":%q,"type":%q,"created":%d,"data":{"object":{
		"id":%q,"object":"invoice","customer":"cus_1","billing_reason":%q,
		"parent":{"subscription_details":{"subscription":%q}}}}}`,
		eventID, eventType, created, invoiceID, reason, subID)
}

func subscriptionEvent(eventID, eventType, subID, status, priceID string, periodEnd, created int64) []byte {
	return fmt.Appendf(nil, `{"id":%q,"type":%q,"created":%d,"data":{"object":{
		"id":%q,"object":"subscription","customer":{"id":"cus_1"},"status":%q,
		"items":{"data":[{"current_period_end":%d,"price":{"id":%q}}]}}}}`,
		eventID, eventType, created, subID, status, periodEnd, priceID)
}

func TestNewPriceTable(t *testing.T) {
	t.Parallel()

	c := subscription.DefaultCatalog()
	table, err := subscription.NewPriceTable(c, testPriceIDs)
	require.NoError(t, err)

	id, ok := table.PriceID("pro", subscription.IntervalYear)
	assert.True(t, ok)
	assert.Equal(t, "price_pro_y", id)

	_, ok = table.PriceID("hobby", subscription.IntervalMonth)
	assert.False(t, ok)

	tier, interval, ok := table.Resolve("price_starter_m")
	assert.True(t, ok)
	assert.Equal(t, "starter", tier)
	assert.Equal(t, subscription.IntervalMonth, interval)

	_, err = subscription.NewPriceTable(c, map[string]string{"gold_month": "price_x"})
	assert.ErrorIs(t, err, subscription.ErrInvalidCatalog)
	_, err = subscription.NewPriceTable(c, map[string]string{"pro_weekly": "price_x"})
	assert.ErrorIs(t, err, subscription.ErrInvalidCatalog)
}

func TestStripeConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := subscription.StripeConfig{}
	assert.ErrorIs(t, cfg.Validate(), subscription.ErrMissingAPIKey)
	cfg.SecretKey = "sk_test"
	assert.ErrorIs(t, cfg.Validate(), subscription.ErrMissingWebhookSecret)
	cfg.WebhookSecret = testWebhookSecret
	assert.NoError(t, cfg.Validate())
}

func TestStripeProvider_CreateCheckoutLink(t *testing.T) {
	t.Parallel()

	client := newFakeStripe()
	p := newTestProvider(t, client)
	orgID := uuid.New()

	link, err := p.CreateCheckoutLink(context.Background(), subscription.CheckoutRequest{
		OrganizationID: orgID,
		Plan:           "pro",
		Interval:       subscription.IntervalMonth,
		Email:          "owner@farm.test",
		SuccessURL:     "https://app.test/ok",
		CancelURL:      "https://app.test/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.test/cs_1", link.URL)
	assert.Equal(t, "cs_1", link.SessionID)
	assert.False(t, link.ExpiresAt.IsZero())

	require.Len(t, client.checkouts, 1)
	params := client.checkouts[0]
	assert.Equal(t, "price_pro_m", *params.LineItems[0].Price)
	assert.Equal(t, orgID.String(), *params.ClientReferenceID)
	assert.Equal(t, "owner@farm.test", *params.CustomerEmail)
	assert.Nil(t, params.Customer)
	assert.Equal(t, "pro", params.SubscriptionData.Metadata["plan"])
	assert.Equal(t, orgID.String(), params.SubscriptionData.Metadata["org_id"])
	require.Len(t, params.Discounts, 1)
	assert.Equal(t, "softlanding-phase-1", *params.Discounts[0].Coupon)

	coupon := client.coupons["softlanding-phase-1"]
	require.NotNil(t, coupon)
	assert.InDelta(t, 40.0, *coupon.PercentOff, 0.001)
	assert.Equal(t, int64(3), *coupon.DurationInMonths)

	// annual checkouts carry no coupon and reuse the customer
	_, err = p.CreateCheckoutLink(context.Background(), subscription.CheckoutRequest{
		OrganizationID: orgID, Plan: "pro", Interval: subscription.IntervalYear, CustomerID: "cus_9",
	})
	require.NoError(t, err)
	params = client.checkouts[1]
	assert.Empty(t, params.Discounts)
	assert.Equal(t, "cus_9", *params.Customer)

	_, err = p.CreateCheckoutLink(context.Background(), subscription.CheckoutRequest{
		OrganizationID: orgID, Plan: "hobby", Interval: subscription.IntervalMonth,
	})
	assert.ErrorIs(t, err, subscription.ErrInvalidPlan)
}

func TestStripeProvider_CreatePortalLink(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, newFakeStripe())
	_, err := p.CreatePortalLink(context.Background(), "", "https://app.test")
	assert.ErrorIs(t, err, subscription.ErrNoBillingAccount)

	link, err := p.CreatePortalLink(context.Background(), "cus_1", "https://app.test")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.test/cus_1", link.URL)
}

func TestStripeProvider_SyncDiscount(t *testing.T) {
	t.Parallel()

	client := newFakeStripe()
	p := newTestProvider(t, client)
	ctx := context.Background()

	require.NoError(t, p.SyncDiscount(ctx, "sub_1", subscription.PhaseQ2))
	require.NoError(t, p.SyncDiscount(ctx, "sub_1", subscription.PhaseQ2))
	assert.Equal(t, "softlanding-phase-2", client.lastCoupon("sub_1"))
	assert.Equal(t, 1, client.couponGets, "coupon existence is cached")

	require.NoError(t, p.SyncDiscount(ctx, "sub_1", subscription.PhaseFull))
	assert.Equal(t, []string{"sub_1"}, client.deletes)

	require.NoError(t, p.SyncDiscount(ctx, "", subscription.PhaseQ2))
	require.NoError(t, p.SyncDiscount(ctx, "sub_1", subscription.PhaseTrial))

	client.setFailUpdates(&stripe.Error{HTTPStatusCode: http.StatusServiceUnavailable})
	err := p.SyncDiscount(ctx, "sub_1", subscription.PhaseQ3)
	assert.ErrorIs(t, err, subscription.ErrProviderUnavailable)

	client.setFailUpdates(&stripe.Error{HTTPStatusCode: http.StatusBadRequest, Code: stripe.ErrorCodeResourceMissing})
	err = p.SyncDiscount(ctx, "sub_1", subscription.PhaseQ3)
	assert.ErrorIs(t, err, subscription.ErrProviderRejected)

	client.setFailUpdates(errors.New("connection reset"))
	err = p.SyncDiscount(ctx, "sub_1", subscription.PhaseQ3)
	assert.ErrorIs(t, err, subscription.ErrProviderUnavailable)
}

func TestStripeProvider_ParseWebhook(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, newFakeStripe())
	orgID := uuid.New()
	created := time.Now().Unix()

	t.Run("checkout completed", func(t *testing.T) {
		t.Parallel()
		payload := checkoutEvent("evt_1", orgID, "pro", "month", "sub_1", created)
		evt, err := p.ParseWebhook(payload, signPayload(payload, testWebhookSecret))
		require.NoError(t, err)
		assert.Equal(t, "evt_1", evt.ID)
		assert.Equal(t, subscription.EventCheckoutCompleted, evt.Type)
		assert.Equal(t, "checkout.session.completed", evt.ProviderEvent)
		assert.Equal(t, orgID.String(), evt.OrganizationID)
		assert.Equal(t, "pro", evt.Plan)
		assert.Equal(t, subscription.IntervalMonth, evt.Interval)
		assert.Equal(t, "cus_1", evt.CustomerID)
		assert.Equal(t, "sub_1", evt.SubscriptionID)
		assert.Equal(t, time.Unix(created, 0).UTC(), evt.CreatedAt)
	})

	t.Run("subscription updated maps price and status", func(t *testing.T) {
		t.Parallel()
		end := time.Now().Add(30 * 24 * time.Hour).Unix()
		payload := subscriptionEvent("evt_2", "customer.subscription.updated", "sub_1", "past_due", "price_starter_m", end, created)
		evt, err := p.ParseWebhook(payload, signPayload(payload, testWebhookSecret))
		require.NoError(t, err)
		assert.Equal(t, subscription.EventSubscriptionUpdated, evt.Type)
		assert.Equal(t, subscription.StatusPastDue, evt.Status)
		assert.Equal(t, "past_due", evt.ProviderStatus)
		assert.Equal(t, "starter", evt.Plan)
		assert.Equal(t, "cus_1", evt.CustomerID)
		require.NotNil(t, evt.CurrentPeriodEnd)
		assert.Equal(t, end, evt.CurrentPeriodEnd.Unix())
	})

	t.Run("provider statuses", func(t *testing.T) {
		t.Parallel()
		for status, want := range map[string]subscription.Status{
			"active":             subscription.StatusActive,
			"trialing":           subscription.StatusActive,
			"canceled":           subscription.StatusSuspended,
			"unpaid":             subscription.StatusSuspended,
			"incomplete_expired": subscription.StatusSuspended,
			"incomplete":         "",
		} {
			payload := subscriptionEvent("evt_s", "customer.subscription.updated", "sub_1", status, "price_x", 0, created)
			evt, err := p.ParseWebhook(payload, signPayload(payload, testWebhookSecret))
			require.NoError(t, err)
			assert.Equal(t, want, evt.Status, status)
			assert.Empty(t, evt.Plan)
		}
	})

	t.Run("invoice", func(t *testing.T) {
		t.Parallel()
		payload := invoiceEvent("evt_3", "invoice.paid", "in_1", "sub_1", "subscription_cycle", created)
		evt, err := p.ParseWebhook(payload, signPayload(payload, testWebhookSecret))
		require.NoError(t, err)
		assert.Equal(t, subscription.EventInvoicePaid, evt.Type)
		assert.Equal(t, "in_1", evt.InvoiceID)
		assert.Equal(t, "sub_1", evt.SubscriptionID)
		assert.Equal(t, subscription.BillingReasonCycle, evt.BillingReason)

		legacy := []byte(`{"id":"evt_4","type":"invoice.payment_failed","created":1,"data":{"object":{"id":"in_2","subscription":"sub_7"}}}`)
		evt, err = p.ParseWebhook(legacy, signPayload(legacy, testWebhookSecret))
		require.NoError(t, err)
		assert.Equal(t, subscription.EventInvoicePaymentFailed, evt.Type)
		assert.Equal(t, "sub_7", evt.SubscriptionID)
	})

	t.Run("unhandled type", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{"id":"evt_5","type":"customer.created","created":1,"data":{"object":{"id":"cus_1"}}}`)
		evt, err := p.ParseWebhook(payload, signPayload(payload, testWebhookSecret))
		require.NoError(t, err)
		assert.Equal(t, subscription.EventUnhandled, evt.Type)
	})

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()
		payload := checkoutEvent("evt_1", orgID, "pro", "month", "sub_1", created)
		_, err := p.ParseWebhook(payload, signPayload(payload, "whsec_other"))
		assert.ErrorIs(t, err, subscription.ErrInvalidSignature)

		_, err = p.ParseWebhook(payload, "")
		assert.ErrorIs(t, err, subscription.ErrInvalidSignature)
	})

	t.Run("malformed payload", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{"id":"evt_6","type":"invoice.paid","data":{"object":"nope"}}`)
		_, err := p.ParseWebhook(payload, signPayload(payload, testWebhookSecret))
		assert.ErrorIs(t, err, subscription.ErrMalformedPayload)

		payload = []byte(`not json`)
		_, err = p.ParseWebhook(payload, signPayload(payload, testWebhookSecret))
		assert.ErrorIs(t, err, subscription.ErrMalformedPayload)
	})
}
