package subscription_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/egglogu/billing/pkg/pg/pgtest"
	"github.com/egglogu/billing/pkg/subscription"
)

func storedSub(t *testing.T, ctx context.Context, store *subscription.PGStore) *subscription.Subscription {
	t.Helper()
	sub := paidSub(t, subscription.IntervalMonth)
	sub.ProviderSubscriptionID = "sub_" + uuid.NewString()
	require.NoError(t, store.Create(ctx, sub))
	return sub
}

func payInvoice(id string) func(*subscription.Subscription) subscription.Transition {
	return func(s *subscription.Subscription) subscription.Transition {
		return s.RecordPayment(id, subscription.BillingReasonCycle, t0)
	}
}

func eventRows(t *testing.T, ctx context.Context, pool *pgxpool.Pool, eventID string) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM billing_webhook_events WHERE event_id = $1`, eventID).Scan(&n))
	return n
}

func TestPGStore(t *testing.T) {
	pool := pgtest.New(t)
	store := subscription.NewPGStore(pool)
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		sub := storedSub(t, ctx, store)

		got, err := store.GetByOrganization(ctx, sub.OrganizationID)
		require.NoError(t, err)
		assert.Equal(t, sub.Plan, got.Plan)
		assert.Equal(t, sub.Status, got.Status)
		assert.Equal(t, sub.BillingInterval, got.BillingInterval)

		byProvider, err := store.GetByProviderSubscription(ctx, sub.ProviderSubscriptionID)
		require.NoError(t, err)
		assert.Equal(t, sub.OrganizationID, byProvider.OrganizationID)

		assert.ErrorIs(t, store.Create(ctx, sub), subscription.ErrSubscriptionAlreadyExists)
	})

	t.Run("duplicate event id is applied once", func(t *testing.T) {
		sub := storedSub(t, ctx, store)
		eventID := "evt_" + uuid.NewString()

		_, tr, err := store.Update(ctx, subscription.ByOrganization(sub.OrganizationID), eventID, payInvoice("in_1"))
		require.NoError(t, err)
		require.True(t, tr.Changed)

		_, _, err = store.Update(ctx, subscription.ByOrganization(sub.OrganizationID), eventID, payInvoice("in_2"))
		require.ErrorIs(t, err, subscription.ErrDuplicateEvent)

		got, err := store.GetByOrganization(ctx, sub.OrganizationID)
		require.NoError(t, err)
		assert.Equal(t, sub.MonthsSubscribed+1, got.MonthsSubscribed)
		assert.Equal(t, "in_1", got.LastInvoiceID)
		assert.Equal(t, 1, eventRows(t, ctx, pool, eventID))
	})

	t.Run("unknown subscription leaves no event row", func(t *testing.T) {
		eventID := "evt_" + uuid.NewString()

		_, _, err := store.Update(ctx, subscription.ByProviderSubscription("sub_unknown"), eventID, payInvoice("in_1"))
		require.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
		assert.Zero(t, eventRows(t, ctx, pool, eventID))

		// Once the subscription exists a redelivery of the same event applies.
		sub := storedSub(t, ctx, store)
		_, tr, err := store.Update(ctx, subscription.ByProviderSubscription(sub.ProviderSubscriptionID), eventID, payInvoice("in_1"))
		require.NoError(t, err)
		assert.True(t, tr.Changed)
		assert.Equal(t, 1, eventRows(t, ctx, pool, eventID))
	})

	t.Run("failed mutation rolls back the event row", func(t *testing.T) {
		sub := storedSub(t, ctx, store)
		eventID := "evt_" + uuid.NewString()

		_, _, err := store.Update(ctx, subscription.ByOrganization(sub.OrganizationID), eventID,
			func(s *subscription.Subscription) subscription.Transition {
				s.MonthsSubscribed = -1
				return subscription.Transition{Changed: true}
			})
		require.Error(t, err)
		assert.Zero(t, eventRows(t, ctx, pool, eventID))

		got, err := store.GetByOrganization(ctx, sub.OrganizationID)
		require.NoError(t, err)
		assert.Equal(t, sub.MonthsSubscribed, got.MonthsSubscribed)
	})

	t.Run("concurrent updates to one organization serialize", func(t *testing.T) {
		sub := storedSub(t, ctx, store)
		const payments = 12

		var g errgroup.Group
		for i := range payments {
			g.Go(func() error {
				_, _, err := store.Update(ctx, subscription.ByOrganization(sub.OrganizationID),
					fmt.Sprintf("evt_%s_%d", sub.OrganizationID, i), payInvoice(fmt.Sprintf("in_%d", i)))
				return err
			})
		}
		require.NoError(t, g.Wait())

		got, err := store.GetByOrganization(ctx, sub.OrganizationID)
		require.NoError(t, err)
		assert.Equal(t, sub.MonthsSubscribed+payments, got.MonthsSubscribed)
		assert.Equal(t, subscription.PhaseFull, got.DiscountPhase)
	})
}
