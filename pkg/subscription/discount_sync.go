package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/egglogu/billing/pkg/logger"
	"github.com/egglogu/billing/pkg/queue"
)

// DefaultDiscountSyncTimeout bounds the inline coupon push made while a
// webhook request is open.
const DefaultDiscountSyncTimeout = 5 * time.Second

// TaskEnqueuer schedules background work. *queue.Enqueuer satisfies it.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) error
}

// SyncDiscountTask asks the worker to push an organization's current phase
// coupon to the provider.
type SyncDiscountTask struct {
	OrganizationID uuid.UUID `json:"organization_id"`
}

// DiscountSyncer keeps the provider coupon in line with the local phase.
// Push tries once inline with a short timeout; failures are flagged on the
// subscription and handed to the queue, whose worker retries with backoff.
type DiscountSyncer struct {
	provider BillingProvider
	store    Store
	enqueuer TaskEnqueuer
	timeout  time.Duration
	metrics  *Metrics
	log      *slog.Logger
	now      func() time.Time
}

// SyncerOption configures a DiscountSyncer.
type SyncerOption func(*DiscountSyncer)

// WithSyncTimeout bounds the inline push. Non-positive values keep
// DefaultDiscountSyncTimeout.
func WithSyncTimeout(d time.Duration) SyncerOption {
	return func(s *DiscountSyncer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSyncerMetrics records push outcomes.
func WithSyncerMetrics(m *Metrics) SyncerOption {
	return func(s *DiscountSyncer) { s.metrics = m }
}

// WithSyncerLogger sets the logger; nil keeps slog.Default.
func WithSyncerLogger(l *slog.Logger) SyncerOption {
	return func(s *DiscountSyncer) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSyncerClock overrides time.Now, for tests.
func WithSyncerClock(now func() time.Time) SyncerOption {
	return func(s *DiscountSyncer) { s.now = now }
}

// NewDiscountSyncer returns a syncer pushing through provider and falling
// back to enqueuer. Register HandleTask with the worker that drains it.
func NewDiscountSyncer(provider BillingProvider, store Store, enqueuer TaskEnqueuer, opts ...SyncerOption) *DiscountSyncer {
	s := &DiscountSyncer{
		provider: provider,
		store:    store,
		enqueuer: enqueuer,
		timeout:  DefaultDiscountSyncTimeout,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("discount_sync"))
	return s
}

// Push syncs the coupon for sub's billed phase; annual plans have theirs
// removed. A failed push is never returned to the caller as a webhook
// failure; the error is only non-nil when the retry could not be scheduled
// either.
func (s *DiscountSyncer) Push(ctx context.Context, sub *Subscription) error {
	if sub.ProviderSubscriptionID == "" {
		return nil
	}

	pushCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.provider.SyncDiscount(pushCtx, sub.ProviderSubscriptionID, sub.BilledPhase())
	cancel()
	if err == nil {
		s.metrics.discountSync("ok")
		return nil
	}

	s.metrics.discountSync("deferred")
	s.log.WarnContext(ctx, "discount sync failed, scheduling retry",
		logger.OrganizationID(sub.OrganizationID),
		logger.Phase(int(sub.BilledPhase())),
		logger.Error(err))

	_, _, markErr := s.store.Update(ctx, ByOrganization(sub.OrganizationID), "", func(cur *Subscription) Transition {
		return cur.MarkDiscountSync(false, s.now())
	})
	enqueueErr := s.Schedule(ctx, sub.OrganizationID)
	if markErr != nil || enqueueErr != nil {
		return errors.Join(err, markErr, enqueueErr)
	}
	return nil
}

// Schedule enqueues a background sync for an organization.
func (s *DiscountSyncer) Schedule(ctx context.Context, orgID uuid.UUID) error {
	if s.enqueuer == nil {
		return fmt.Errorf("discount sync for %s: no task queue configured", orgID)
	}
	return s.enqueuer.Enqueue(ctx, SyncDiscountTask{OrganizationID: orgID})
}

// HandleTask is the queue handler for SyncDiscountTask. Returning an error
// makes the worker retry with backoff.
func (s *DiscountSyncer) HandleTask(ctx context.Context, task SyncDiscountTask) error {
	sub, err := s.store.GetByOrganization(ctx, task.OrganizationID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !sub.DiscountOutOfSync {
		return nil
	}

	phase := sub.BilledPhase()
	if sub.ProviderSubscriptionID != "" {
		if err := s.provider.SyncDiscount(ctx, sub.ProviderSubscriptionID, phase); err != nil {
			s.metrics.discountSync("failed")
			return err
		}
	}
	s.metrics.discountSync("recovered")

	_, _, err = s.store.Update(ctx, ByOrganization(task.OrganizationID), "", func(cur *Subscription) Transition {
		if cur.BilledPhase() != phase {
			// a newer phase or interval is waiting for its own push
			return Transition{Reason: "phase moved on"}
		}
		return cur.MarkDiscountSync(true, s.now())
	})
	if err != nil {
		return err
	}

	s.log.InfoContext(ctx, "discount back in sync",
		logger.OrganizationID(task.OrganizationID),
		logger.Phase(int(phase)))
	return nil
}
