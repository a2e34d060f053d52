package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/egglogu/billing/handler"
	"github.com/egglogu/billing/pkg/auth"
	"github.com/egglogu/billing/pkg/limits"
	"github.com/egglogu/billing/pkg/subscription"
)

// WebhookHandler verifies and applies one provider webhook delivery.
// *subscription.Reconciler implements it.
type WebhookHandler interface {
	Handle(ctx context.Context, payload []byte, signature string) error
}

// SignatureHeader carries the provider's webhook signature.
const SignatureHeader = "Stripe-Signature"

// DefaultMaxWebhookBytes caps webhook bodies; provider events are far smaller.
const DefaultMaxWebhookBytes = 256 << 10

type handlers struct {
	svc             *subscription.Service
	quotas          *limits.Service
	webhooks        WebhookHandler
	maxWebhookBytes int64
}

type webhookRequest struct {
	Payload   []byte
	Signature string
}

// bindWebhook keeps the body byte-exact; signature verification runs over
// the raw payload.
func bindWebhook(limit int64) handler.Bind {
	return func(r *http.Request, v any) error {
		req, ok := v.(*webhookRequest)
		if !ok {
			return fmt.Errorf("webhook binder: unexpected target %T", v)
		}
		if r.Body == nil {
			return subscription.ErrMalformedPayload
		}
		body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, limit))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return handler.ErrRequestTooLarge
			}
			return errors.Join(subscription.ErrMalformedPayload, err)
		}
		req.Payload = body
		req.Signature = r.Header.Get(SignatureHeader)
		return nil
	}
}

func (h *handlers) webhook(ctx handler.Context, req webhookRequest) handler.Response {
	if err := h.webhooks.Handle(ctx, req.Payload, req.Signature); err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(webhookResponse{Status: "ok"})
}

type checkoutRequest struct {
	Plan       string `json:"plan"`
	Interval   string `json:"interval"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

func (req checkoutRequest) validate() error {
	v := handler.NewValidationError()
	if req.SuccessURL != "" && !isAbsoluteURL(req.SuccessURL) {
		v.Add("success_url", "must be an absolute http(s) URL")
	}
	if req.CancelURL != "" && !isAbsoluteURL(req.CancelURL) {
		v.Add("cancel_url", "must be an absolute http(s) URL")
	}
	return v.Err()
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

func (h *handlers) createCheckout(ctx handler.Context, req checkoutRequest) handler.Response {
	orgID, ok := auth.OrganizationIDFromContext(ctx)
	if !ok {
		return handler.Fail(auth.ErrNoOrganization)
	}
	if err := req.validate(); err != nil {
		return handler.Fail(err)
	}
	if req.Plan == "" {
		req.Plan = "pro"
	}
	if req.Interval == "" {
		req.Interval = string(subscription.IntervalMonth)
	}

	link, err := h.svc.CreateCheckout(ctx, subscription.CheckoutInput{
		OrganizationID: orgID,
		Plan:           req.Plan,
		Interval:       req.Interval,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
	})
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(checkoutResponse{CheckoutURL: link.URL})
}

func (h *handlers) portal(ctx handler.Context, _ struct{}) handler.Response {
	orgID, ok := auth.OrganizationIDFromContext(ctx)
	if !ok {
		return handler.Fail(auth.ErrNoOrganization)
	}
	link, err := h.svc.PortalLink(ctx, orgID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(portalResponse{URL: link.URL})
}

func (h *handlers) status(ctx handler.Context, _ struct{}) handler.Response {
	orgID, ok := auth.OrganizationIDFromContext(ctx)
	if !ok {
		return handler.Fail(auth.ErrNoOrganization)
	}
	view, err := h.svc.Status(ctx, orgID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(newStatusResponse(view), handler.WithHeader("Cache-Control", "no-store"))
}

func (h *handlers) usage(ctx handler.Context, _ struct{}) handler.Response {
	orgID, ok := auth.OrganizationIDFromContext(ctx)
	if !ok {
		return handler.Fail(auth.ErrNoOrganization)
	}
	usage, err := h.quotas.AllUsage(ctx, orgID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(newUsageResponse(usage), handler.WithHeader("Cache-Control", "no-store"))
}

func (h *handlers) pricing(_ handler.Context, _ struct{}) handler.Response {
	return handler.JSON(newPricingResponse(h.svc.Pricing()), handler.WithHeader("Cache-Control", "public, max-age=300"))
}

func (h *handlers) revenue(ctx handler.Context, _ struct{}) handler.Response {
	report, err := h.svc.Revenue(ctx)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(newRevenueResponse(report))
}

func (h *handlers) outOfSync(ctx handler.Context, _ struct{}) handler.Response {
	subs, err := h.svc.OutOfSync(ctx)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(newOutOfSyncResponse(subs))
}

// organizationKey scopes rate limits to the caller's organization.
func organizationKey(r *http.Request) string {
	id, ok := auth.OrganizationIDFromContext(r.Context())
	if !ok || id == uuid.Nil {
		return ""
	}
	return id.String()
}
