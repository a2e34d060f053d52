package billing

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/egglogu/billing/handler"
	"github.com/egglogu/billing/pkg/auth"
	"github.com/egglogu/billing/pkg/binder"
	"github.com/egglogu/billing/pkg/limits"
	"github.com/egglogu/billing/pkg/logger"
	"github.com/egglogu/billing/pkg/ratelimiter"
	"github.com/egglogu/billing/pkg/subscription"
)

// RouterOptions configures the billing HTTP module. Service, Webhooks and
// Verifier are required; Limiter is optional.
type RouterOptions struct {
	Service  *subscription.Service
	Webhooks WebhookHandler
	Verifier *auth.Verifier

	// Counters report resource usage for GET /usage. Resources without a
	// counter are listed with their cap only.
	Counters limits.CounterRegistry

	// Limiter throttles checkout and portal requests per organization.
	Limiter ratelimiter.RateLimiter
	Logger  *slog.Logger

	MaxWebhookBytes int64
}

// Router creates the billing router, meant to be mounted at /billing.
//
//	r := chi.NewRouter()
//	r.Mount("/billing", billing.Router(billing.RouterOptions{
//		Service:  svc,
//		Webhooks: reconciler,
//		Verifier: verifier,
//		Limiter:  limiter,
//		Logger:   log,
//	}))
func Router(opts RouterOptions) chi.Router {
	log := opts.Logger
	if log == nil {
		log = logger.Noop()
	}
	log = log.With(logger.Component("billing_api"))

	h := &handlers{
		svc:             opts.Service,
		quotas:          opts.Service.Limits(opts.Counters),
		webhooks:        opts.Webhooks,
		maxWebhookBytes: opts.MaxWebhookBytes,
	}
	if h.maxWebhookBytes <= 0 {
		h.maxWebhookBytes = DefaultMaxWebhookBytes
	}

	onError := handler.NewErrorHandler(log, mapError)
	authOpt := auth.WithErrorHandler(authErrorHandler(onError))

	r := chi.NewRouter()

	r.Get("/pricing", handler.Wrap(h.pricing,
		handler.WithErrorHandler[struct{}](onError),
	))
	r.Post("/webhook", handler.Wrap(h.webhook,
		handler.WithBinders[webhookRequest](bindWebhook(h.maxWebhookBytes)),
		handler.WithErrorHandler[webhookRequest](onError),
	))

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(opts.Verifier, authOpt))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireOrganization(authOpt))

			r.Get("/status", handler.Wrap(h.status,
				handler.WithErrorHandler[struct{}](onError),
			))
			r.Get("/usage", handler.Wrap(h.usage,
				handler.WithErrorHandler[struct{}](onError),
			))

			r.Group(func(r chi.Router) {
				if opts.Limiter != nil {
					r.Use(ratelimiter.Middleware(opts.Limiter,
						ratelimiter.Composite(ratelimiter.Static("billing"), organizationKey),
						ratelimiter.WithDeniedHandler(func(w http.ResponseWriter, r *http.Request, _ *ratelimiter.Result) {
							onError(handler.NewContext(w, r), errRateLimited)
						}),
						ratelimiter.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
							onError(handler.NewContext(w, r), err)
						}),
					))
				}

				r.Post("/create-checkout", handler.Wrap(h.createCheckout,
					handler.WithBinders[checkoutRequest](binder.JSON()),
					handler.WithErrorHandler[checkoutRequest](onError),
				))
				r.Get("/portal", handler.Wrap(h.portal,
					handler.WithErrorHandler[struct{}](onError),
				))
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireSuperadmin(authOpt))

			r.Get("/mrr", handler.Wrap(h.revenue,
				handler.WithErrorHandler[struct{}](onError),
			))
			r.Get("/out-of-sync", handler.Wrap(h.outOfSync,
				handler.WithErrorHandler[struct{}](onError),
			))
		})
	})

	return r
}

// authErrorHandler renders auth middleware failures through the module's
// error handler so they share the JSON envelope.
func authErrorHandler(onError handler.ErrorHandler) auth.ErrorHandler {
	return func(w http.ResponseWriter, r *http.Request, status int, err error) {
		if _, ok := mapError(err); !ok {
			err = handler.NewHTTPError(status, "unauthorized")
		}
		onError(handler.NewContext(w, r), err)
	}
}
