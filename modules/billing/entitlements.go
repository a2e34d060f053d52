package billing

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/egglogu/billing/handler"
	"github.com/egglogu/billing/pkg/auth"
	"github.com/egglogu/billing/pkg/limits"
	"github.com/egglogu/billing/pkg/logger"
	"github.com/egglogu/billing/pkg/subscription"
)

// Entitlements guards routes of other modules by the caller's plan. It must
// run after auth.Middleware. Superadmins always pass.
type Entitlements struct {
	svc      *subscription.Service
	counters limits.CounterRegistry
	onError  handler.ErrorHandler
}

// EntitlementsOption configures Entitlements.
type EntitlementsOption func(*Entitlements)

// WithCounters supplies the usage counters RequireCapacity checks against.
func WithCounters(counters limits.CounterRegistry) EntitlementsOption {
	return func(e *Entitlements) { e.counters = counters }
}

func NewEntitlements(svc *subscription.Service, log *slog.Logger, opts ...EntitlementsOption) *Entitlements {
	if log == nil {
		log = logger.Noop()
	}
	e := &Entitlements{
		svc:      svc,
		counters: limits.NewRegistry(),
		onError:  handler.NewErrorHandler(log.With(logger.Component("entitlements")), mapError),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RequireModule answers 403 unless the organization's plan includes m.
func (e *Entitlements) RequireModule(m subscription.Module) func(http.Handler) http.Handler {
	return e.require(func(_ context.Context, sub *subscription.Subscription) error {
		if !e.svc.Gate().HasModule(sub, m) {
			return errModuleNotInPlan
		}
		return nil
	})
}

// RequireFeature answers 403 unless the organization's plan includes f.
func (e *Entitlements) RequireFeature(f subscription.Feature) func(http.Handler) http.Handler {
	return e.require(func(_ context.Context, sub *subscription.Subscription) error {
		if !e.svc.Gate().HasFeature(sub, f) {
			return errFeatureNotInPlan
		}
		return nil
	})
}

// RequireCapacity answers 403 once the organization has as many res as its
// plan allows. Put it in front of the route that creates one. A capped
// resource without a registered counter fails closed.
func (e *Entitlements) RequireCapacity(res subscription.Resource) func(http.Handler) http.Handler {
	return e.require(func(ctx context.Context, sub *subscription.Subscription) error {
		quotas := limits.NewService(e.counters, func(context.Context, uuid.UUID) (limits.Plan, error) {
			return e.svc.Gate().Quota(sub)
		})
		return quotas.CanCreate(ctx, sub.OrganizationID, res)
	})
}

func (e *Entitlements) require(check func(context.Context, *subscription.Subscription) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				e.onError(handler.NewContext(w, r), auth.ErrMissingToken)
				return
			}
			if claims.IsSuperadmin() {
				next.ServeHTTP(w, r)
				return
			}
			orgID, ok := claims.OrganizationID()
			if !ok {
				e.onError(handler.NewContext(w, r), auth.ErrNoOrganization)
				return
			}

			sub, err := e.svc.Current(r.Context(), orgID)
			if err != nil {
				e.onError(handler.NewContext(w, r), err)
				return
			}
			if _, entitled := e.svc.Gate().Plan(sub); !entitled {
				e.onError(handler.NewContext(w, r), errSubscriptionEnded)
				return
			}
			if err := check(r.Context(), sub); err != nil {
				e.onError(handler.NewContext(w, r), err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
