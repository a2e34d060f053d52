package billing

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/egglogu/billing/handler"
	"github.com/egglogu/billing/pkg/auth"
	"github.com/egglogu/billing/pkg/limits"
	"github.com/egglogu/billing/pkg/subscription"
)

var (
	errInvalidPlan         = handler.NewHTTPError(http.StatusBadRequest, "invalid_plan")
	errAlreadySubscribed   = handler.NewHTTPError(http.StatusConflict, "already_subscribed")
	errProviderUnavailable = handler.NewHTTPError(http.StatusServiceUnavailable, "provider_unavailable")
	errProviderRejected    = handler.NewHTTPError(http.StatusBadGateway, "provider_rejected")
	errNoBillingAccount    = handler.NewHTTPError(http.StatusNotFound, "no_billing_account")
	errNoSubscription      = handler.NewHTTPError(http.StatusNotFound, "subscription_not_found")
	errInvalidSignature    = handler.NewHTTPError(http.StatusForbidden, "invalid_signature")
	errMalformedPayload    = handler.NewHTTPError(http.StatusBadRequest, "malformed_payload")
	errLimitExceeded       = handler.NewHTTPError(http.StatusForbidden, "limit_exceeded")
	errUnauthorized        = handler.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	errNoOrganization      = handler.NewHTTPError(http.StatusForbidden, "no_organization")
	errSubscriptionEnded   = handler.NewHTTPError(http.StatusForbidden, "subscription_inactive")
	errModuleNotInPlan     = handler.NewHTTPError(http.StatusForbidden, "module_not_in_plan")
	errFeatureNotInPlan    = handler.NewHTTPError(http.StatusForbidden, "feature_not_in_plan")
	errRateLimited         = handler.NewHTTPError(http.StatusTooManyRequests, "rate_limited")
)

// mapError is the single place billing and auth errors become HTTP
// statuses. Anything not listed is a 500 with no detail.
func mapError(err error) (handler.HTTPError, bool) {
	switch {
	case errors.Is(err, subscription.ErrInvalidPlan):
		return errInvalidPlan, true
	case errors.Is(err, subscription.ErrAlreadySubscribed):
		return errAlreadySubscribed, true
	case errors.Is(err, subscription.ErrProviderUnavailable):
		return errProviderUnavailable, true
	case errors.Is(err, subscription.ErrProviderRejected):
		return errProviderRejected, true
	case errors.Is(err, subscription.ErrNoBillingAccount):
		return errNoBillingAccount, true
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		return errNoSubscription, true
	case errors.Is(err, subscription.ErrInvalidSignature):
		return errInvalidSignature, true
	case errors.Is(err, subscription.ErrMalformedPayload):
		return errMalformedPayload, true
	case errors.Is(err, subscription.ErrLimitExceeded):
		return errLimitExceeded, true
	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrWrongTokenType):
		return errUnauthorized, true
	case errors.Is(err, auth.ErrNoOrganization):
		return errNoOrganization, true
	case errors.Is(err, auth.ErrForbidden):
		return handler.ErrForbidden, true
	}
	return handler.HTTPError{}, false
}

type checkoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
}

type portalResponse struct {
	URL string `json:"url"`
}

type webhookResponse struct {
	Status string `json:"status"`
}

type statusResponse struct {
	Plan                string                `json:"plan"`
	Status              subscription.Status   `json:"status"`
	Entitled            bool                  `json:"entitled"`
	Modules             []subscription.Module `json:"modules"`
	CurrentPeriodEnd    *time.Time            `json:"current_period_end"`
	BillingInterval     string                `json:"billing_interval"`
	IsTrial             bool                  `json:"is_trial"`
	TrialEnd            *time.Time            `json:"trial_end"`
	TrialDaysLeft       *int                  `json:"trial_days_left"`
	DiscountPhase       int                   `json:"discount_phase"`
	MonthsSubscribed    int                   `json:"months_subscribed"`
	Currency            string                `json:"currency"`
	CurrentPrice        float64               `json:"current_price"`
	CurrentPriceDisplay string                `json:"current_price_display"`
	BasePrice           float64               `json:"base_price"`
	NextPrice           *float64              `json:"next_price"`
	DiscountPct         int                   `json:"discount_pct"`
	DiscountLabel       string                `json:"discount_label"`
	DiscountOutOfSync   bool                  `json:"discount_out_of_sync"`
}

func newStatusResponse(v *subscription.StatusView) statusResponse {
	resp := statusResponse{
		Plan:                v.Plan,
		Status:              v.Status,
		Entitled:            v.Entitled,
		Modules:             v.Modules,
		CurrentPeriodEnd:    v.CurrentPeriodEnd,
		BillingInterval:     string(v.BillingInterval),
		IsTrial:             v.IsTrial,
		TrialEnd:            v.TrialEnd,
		TrialDaysLeft:       v.TrialDaysLeft,
		DiscountPhase:       int(v.DiscountPhase),
		MonthsSubscribed:    v.MonthsSubscribed,
		Currency:            v.Currency,
		CurrentPrice:        subscription.Dollars(v.CurrentPrice),
		CurrentPriceDisplay: subscription.FormatMoney(v.CurrentPrice, v.Currency),
		BasePrice:           subscription.Dollars(v.BasePrice),
		DiscountPct:         v.DiscountPercent,
		DiscountLabel:       v.DiscountLabel,
		DiscountOutOfSync:   v.DiscountOutOfSync,
	}
	if resp.Modules == nil {
		resp.Modules = []subscription.Module{}
	}
	if v.NextPrice != nil {
		next := subscription.Dollars(*v.NextPrice)
		resp.NextPrice = &next
	}
	return resp
}

type resourceUsage struct {
	Current *int64             `json:"current"`
	Limit   subscription.Limit `json:"limit"`
}

type usageResponse struct {
	Resources map[subscription.Resource]resourceUsage `json:"resources"`
}

// newUsageResponse reports an uncounted resource's current as null and an
// uncapped one's limit as null.
func newUsageResponse(usage map[subscription.Resource]limits.UsageInfo) usageResponse {
	resp := usageResponse{Resources: make(map[subscription.Resource]resourceUsage, len(usage))}
	for res, u := range usage {
		r := resourceUsage{Limit: subscription.Limit(u.Limit)}
		if u.Counted {
			current := u.Current
			r.Current = &current
		}
		resp.Resources[res] = r
	}
	return resp
}

type pricingTier struct {
	Tier                  string                                        `json:"tier"`
	Name                  string                                        `json:"name"`
	PriceMonthly          float64                                       `json:"price_monthly"`
	PriceAnnual           float64                                       `json:"price_annual"`
	PriceMonthlyQ1        float64                                       `json:"price_monthly_q1"`
	PriceMonthlyQ1Display string                                        `json:"price_monthly_q1_display"`
	AnnualMonthly         float64                                       `json:"annual_monthly"`
	Limits                map[subscription.Resource]subscription.Limit `json:"limits"`
	Modules               []subscription.Module                         `json:"modules"`
	Features              []subscription.Feature                        `json:"features"`
	SupportSLAHours       *int                                          `json:"support_sla_hours"`
}

type pricingResponse struct {
	Version       string        `json:"version"`
	Currency      string        `json:"currency"`
	TrialDays     int           `json:"trial_days"`
	Q1DiscountPct int           `json:"q1_discount_pct"`
	Tiers         []pricingTier `json:"tiers"`
}

func newPricingResponse(v subscription.PricingView) pricingResponse {
	resp := pricingResponse{
		Version:       v.Version,
		Currency:      v.Currency,
		TrialDays:     v.TrialDays,
		Q1DiscountPct: v.FirstQuarterPercent,
		Tiers:         make([]pricingTier, 0, len(v.Tiers)),
	}
	for _, t := range v.Tiers {
		resp.Tiers = append(resp.Tiers, pricingTier{
			Tier:                  t.Tier,
			Name:                  t.Name,
			PriceMonthly:          subscription.Dollars(t.PriceMonthly),
			PriceAnnual:           subscription.Dollars(t.PriceAnnual),
			PriceMonthlyQ1:        subscription.Dollars(t.FirstQuarterMonthly),
			PriceMonthlyQ1Display: subscription.FormatMoney(t.FirstQuarterMonthly, v.Currency),
			AnnualMonthly:         subscription.Dollars(t.AnnualMonthly),
			Limits:                t.Limits,
			Modules:               t.Modules,
			Features:              t.Features,
			SupportSLAHours:       t.SupportSLAHours,
		})
	}
	return resp
}

type revenueResponse struct {
	MRR              float64        `json:"mrr"`
	ARR              float64        `json:"arr"`
	ARPU             float64        `json:"arpu"`
	MRRDisplay       string         `json:"mrr_display"`
	Currency         string         `json:"currency"`
	TotalActive      int            `json:"total_active"`
	TotalTrial       int            `json:"total_trial"`
	TotalPastDue     int            `json:"total_past_due"`
	TotalSuspended   int            `json:"total_suspended"`
	ChurnedLast30d   int            `json:"churned_last_30d"`
	TierDistribution map[string]int `json:"tier_distribution"`
	GeneratedAt      time.Time      `json:"generated_at"`
}

func newRevenueResponse(r *subscription.RevenueReport) revenueResponse {
	return revenueResponse{
		MRR:              subscription.Dollars(r.MRR),
		ARR:              subscription.Dollars(r.ARR),
		ARPU:             subscription.Dollars(r.ARPU),
		MRRDisplay:       subscription.FormatMoney(r.MRR, r.Currency),
		Currency:         r.Currency,
		TotalActive:      r.TotalActive,
		TotalTrial:       r.TotalTrial,
		TotalPastDue:     r.TotalPastDue,
		TotalSuspended:   r.TotalSuspended,
		ChurnedLast30d:   r.ChurnedLast30d,
		TierDistribution: r.TierDistribution,
		GeneratedAt:      r.GeneratedAt,
	}
}

type outOfSyncItem struct {
	OrganizationID         uuid.UUID `json:"organization_id"`
	Plan                   string    `json:"plan"`
	DiscountPhase          int       `json:"discount_phase"`
	ProviderSubscriptionID string    `json:"provider_subscription_id"`
	UpdatedAt              time.Time `json:"updated_at"`
}

type outOfSyncResponse struct {
	Count         int             `json:"count"`
	Subscriptions []outOfSyncItem `json:"subscriptions"`
}

func newOutOfSyncResponse(subs []*subscription.Subscription) outOfSyncResponse {
	resp := outOfSyncResponse{Count: len(subs), Subscriptions: make([]outOfSyncItem, 0, len(subs))}
	for _, s := range subs {
		resp.Subscriptions = append(resp.Subscriptions, outOfSyncItem{
			OrganizationID:         s.OrganizationID,
			Plan:                   s.Plan,
			DiscountPhase:          int(s.DiscountPhase),
			ProviderSubscriptionID: s.ProviderSubscriptionID,
			UpdatedAt:              s.UpdatedAt,
		})
	}
	return resp
}
