package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/egglogu/billing/pkg/limits"
	"github.com/egglogu/billing/pkg/logger"
)

// Reconciler applies verified provider webhook events to subscriptions.
//
// Handle returns nil once an event is verified and understood, including
// when it refers to an unknown subscription or was already processed, so the
// provider stops redelivering conditions it cannot fix. Signature and payload
// failures return ErrInvalidSignature or ErrMalformedPayload; storage
// failures return an error so the provider retries later.
type Reconciler struct {
	provider BillingProvider
	store    Store
	catalog  *Catalog
	syncer   *DiscountSyncer
	metrics  *Metrics
	log      *slog.Logger
	now      func() time.Time
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerMetrics records webhook outcomes. A nil Metrics records nothing.
func WithReconcilerMetrics(m *Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// WithReconcilerLogger sets the logger; nil keeps slog.Default.
func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// WithReconcilerClock overrides time.Now, for tests.
func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler wires the webhook pipeline. syncer may be nil, in which case
// renewals and interval switches are stored without pushing a coupon.
func NewReconciler(provider BillingProvider, store Store, catalog *Catalog, syncer *DiscountSyncer, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		provider: provider,
		store:    store,
		catalog:  catalog,
		syncer:   syncer,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.Component("webhook_reconciler"))
	return r
}

// Handle verifies, decodes and applies one webhook delivery. Duplicate
// deliveries, unhandled event types and events for unknown subscriptions
// return nil so the provider stops redelivering them. Renewals that advance
// the phase and interval switches also push the billed phase coupon.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signature string) error {
	evt, err := r.provider.ParseWebhook(payload, signature)
	if err != nil {
		outcome := "malformed"
		if errors.Is(err, ErrInvalidSignature) {
			outcome = "invalid_signature"
		}
		r.metrics.webhook(EventUnhandled, outcome)
		r.log.ErrorContext(ctx, "rejected webhook", logger.Error(err), logger.Redacted(payload))
		return err
	}

	log := r.log.With(logger.EventID(evt.ID), logger.EventType(evt.ProviderEvent))

	sub, t, err := r.apply(ctx, log, evt)
	switch {
	case errors.Is(err, ErrDuplicateEvent):
		r.metrics.webhook(evt.Type, "duplicate")
		log.InfoContext(ctx, "webhook event already processed")
		return nil
	case errors.Is(err, ErrSubscriptionNotFound):
		r.metrics.webhook(evt.Type, "unknown_subscription")
		log.WarnContext(ctx, "webhook event for unknown subscription",
			logger.SubscriptionID(evt.SubscriptionID),
			slog.String("metadata_organization_id", evt.OrganizationID))
		return nil
	case errors.Is(err, errIgnored):
		r.metrics.webhook(evt.Type, "ignored")
		return nil
	case err != nil:
		r.metrics.webhook(evt.Type, "error")
		log.ErrorContext(ctx, "failed to apply webhook event", logger.Error(err))
		return fmt.Errorf("apply %s: %w", evt.ProviderEvent, err)
	}

	if !t.Changed {
		r.metrics.webhook(evt.Type, "noop")
		log.InfoContext(ctx, "webhook event changed nothing",
			logger.OrganizationID(sub.OrganizationID),
			slog.String("reason", t.Reason))
		return nil
	}

	r.metrics.webhook(evt.Type, "applied")
	r.metrics.transition(t)
	log.InfoContext(ctx, "subscription updated",
		logger.OrganizationID(sub.OrganizationID),
		slog.String("from", string(t.From)),
		slog.String("to", string(t.To)),
		logger.Phase(int(t.Phase)),
		slog.Int("months_subscribed", sub.MonthsSubscribed))

	if evt.Type == EventSubscriptionUpdated && t.PlanChanged() {
		r.logPlanChange(ctx, log, sub, t)
	}

	// checkout opens with the right coupon attached; renewals that move the
	// phase and portal interval switches need a push
	renewed := evt.Type == EventInvoicePaid && t.PhaseChanged()
	switched := evt.Type == EventSubscriptionUpdated && t.IntervalChanged()
	if r.syncer != nil && (renewed || switched) {
		if err := r.syncer.Push(ctx, sub); err != nil {
			log.ErrorContext(ctx, "discount sync could not be scheduled",
				logger.OrganizationID(sub.OrganizationID), logger.Error(err))
		}
	}
	return nil
}

func (r *Reconciler) logPlanChange(ctx context.Context, log *slog.Logger, sub *Subscription, t Transition) {
	prev, okPrev := r.catalog.Plan(t.PrevPlan)
	next, okNext := r.catalog.Plan(t.Plan)
	if !okPrev || !okNext {
		return
	}
	diff := limits.ComparePlans(prev.Quota(), next.Quota())
	log.InfoContext(ctx, "plan changed",
		logger.OrganizationID(sub.OrganizationID),
		slog.String("from_plan", t.PrevPlan),
		slog.String("to_plan", t.Plan),
		slog.Any("features_gained", diff.NewFeatures),
		slog.Any("features_lost", diff.LostFeatures),
		slog.Bool("limits_decreased", len(diff.DecreasedLimits) > 0))
}

// errIgnored marks events that are understood but carry nothing to apply.
var errIgnored = errors.New("event ignored")

func (r *Reconciler) apply(ctx context.Context, log *slog.Logger, evt *WebhookEvent) (*Subscription, Transition, error) {
	now := r.now()

	switch evt.Type {
	case EventCheckoutCompleted:
		orgID, err := uuid.Parse(evt.OrganizationID)
		if err != nil {
			log.WarnContext(ctx, "checkout without a valid organization id",
				slog.String("metadata_organization_id", evt.OrganizationID))
			return nil, Transition{}, errIgnored
		}
		if _, ok := r.catalog.Plan(evt.Plan); !ok {
			log.WarnContext(ctx, "checkout for unknown plan", slog.String("plan", evt.Plan))
			return nil, Transition{}, errIgnored
		}
		interval := evt.Interval
		if interval == "" {
			interval = IntervalMonth
		}
		completion := CheckoutCompletion{
			Plan:           evt.Plan,
			Interval:       interval,
			CustomerID:     evt.CustomerID,
			SubscriptionID: evt.SubscriptionID,
		}
		return r.store.Update(ctx, ByOrganization(orgID), evt.ID, func(s *Subscription) Transition {
			return s.CompleteCheckout(completion, now)
		})

	case EventSubscriptionUpdated:
		state := ProviderState{
			Status:           evt.Status,
			CurrentPeriodEnd: evt.CurrentPeriodEnd,
			ObservedAt:       evt.CreatedAt,
		}
		if _, ok := r.catalog.Plan(evt.Plan); ok {
			state.Plan, state.Interval = evt.Plan, evt.Interval
		}
		return r.updateByProvider(ctx, evt, func(s *Subscription) Transition {
			return s.SyncProviderState(state, now)
		})

	case EventSubscriptionDeleted:
		return r.updateByProvider(ctx, evt, func(s *Subscription) Transition {
			return s.Cancel(now)
		})

	case EventInvoicePaid:
		return r.updateByProvider(ctx, evt, func(s *Subscription) Transition {
			return s.RecordPayment(evt.InvoiceID, evt.BillingReason, now)
		})

	case EventInvoicePaymentFailed:
		return r.updateByProvider(ctx, evt, func(s *Subscription) Transition {
			return s.RecordPaymentFailure(now)
		})

	default:
		log.DebugContext(ctx, "ignoring unhandled webhook event")
		return nil, Transition{}, errIgnored
	}
}

func (r *Reconciler) updateByProvider(ctx context.Context, evt *WebhookEvent, fn func(*Subscription) Transition) (*Subscription, Transition, error) {
	if evt.SubscriptionID == "" {
		return nil, Transition{}, ErrSubscriptionNotFound
	}
	return r.store.Update(ctx, ByProviderSubscription(evt.SubscriptionID), evt.ID, fn)
}
