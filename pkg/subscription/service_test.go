package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egglogu/billing/pkg/limits"
	"github.com/egglogu/billing/pkg/queue"
	"github.com/egglogu/billing/pkg/subscription"
)

type serviceFixture struct {
	store  *subscription.MemoryStore
	client *fakeStripe
	tasks  *queue.MemoryStorage
	svc    *subscription.Service
	now    time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		store:  subscription.NewMemoryStore(),
		client: newFakeStripe(),
		tasks:  queue.NewMemoryStorage(),
		now:    time.Now().UTC().Truncate(time.Second),
	}
	provider := newTestProvider(t, f.client)
	enq, err := queue.NewEnqueuer(f.tasks)
	require.NoError(t, err)
	syncer := subscription.NewDiscountSyncer(provider, f.store, enq, subscription.WithSyncerLogger(discardLogger()))

	f.svc = subscription.NewService(f.store, provider, subscription.DefaultCatalog(),
		subscription.WithFrontendURL("https://app.test/"),
		subscription.WithDiscountSyncer(syncer),
		subscription.WithServiceLogger(discardLogger()),
		subscription.WithServiceClock(func() time.Time { return f.now }))
	return f
}

// seed stores a subscription built from a fresh trial started at start.
func (f *serviceFixture) seed(t *testing.T, start time.Time, apply func(*subscription.Subscription)) *subscription.Subscription {
	t.Helper()
	sub := subscription.NewTrial(uuid.New(), "enterprise", 30, start)
	if apply != nil {
		apply(sub)
	}
	require.NoError(t, f.store.Create(context.Background(), sub))
	return sub
}

func checkout(plan string, interval subscription.BillingInterval, now time.Time) func(*subscription.Subscription) {
	return func(s *subscription.Subscription) {
		s.CompleteCheckout(subscription.CheckoutCompletion{
			Plan:           plan,
			Interval:       interval,
			CustomerID:     "cus_" + s.OrganizationID.String()[:8],
			SubscriptionID: "sub_" + s.OrganizationID.String()[:8],
		}, now)
	}
}

func TestService_StartTrial(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	orgID := uuid.New()

	sub, err := f.svc.StartTrial(context.Background(), orgID)
	require.NoError(t, err)
	assert.Equal(t, orgID, sub.OrganizationID)
	assert.Equal(t, "enterprise", sub.Plan)
	assert.True(t, sub.IsTrial)
	assert.Equal(t, subscription.StatusActive, sub.Status)
	require.NotNil(t, sub.TrialEnd)
	assert.WithinDuration(t, f.now.AddDate(0, 0, 30), *sub.TrialEnd, time.Second)

	_, err = f.svc.StartTrial(context.Background(), orgID)
	assert.ErrorIs(t, err, subscription.ErrSubscriptionAlreadyExists)
}

func TestService_CreateCheckout(t *testing.T) {
	t.Parallel()

	t.Run("rejects unknown plan and interval", func(t *testing.T) {
		t.Parallel()
		f := newServiceFixture(t)
		_, err := f.svc.CreateCheckout(context.Background(), subscription.CheckoutInput{
			OrganizationID: uuid.New(), Plan: "platinum", Interval: "month",
		})
		assert.ErrorIs(t, err, subscription.ErrInvalidPlan)

		_, err = f.svc.CreateCheckout(context.Background(), subscription.CheckoutInput{
			OrganizationID: uuid.New(), Plan: "pro", Interval: "weekly",
		})
		assert.ErrorIs(t, err, subscription.ErrInvalidPlan)
		assert.Empty(t, f.client.checkouts)
	})

	t.Run("starts a trial for organizations without a record", func(t *testing.T) {
		t.Parallel()
		f := newServiceFixture(t)
		orgID := uuid.New()

		link, err := f.svc.CreateCheckout(context.Background(), subscription.CheckoutInput{
			OrganizationID: orgID, Plan: "pro", Interval: "month", Email: "owner@farm.test",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, link.URL)

		sub, err := f.store.GetByOrganization(context.Background(), orgID)
		require.NoError(t, err)
		assert.True(t, sub.IsTrial)

		require.Len(t, f.client.checkouts, 1)
		params := f.client.checkouts[0]
		assert.Equal(t, "https://app.test/?billing=success", *params.SuccessURL)
		assert.Equal(t, "https://app.test/?billing=cancel", *params.CancelURL)
	})

	t.Run("caller urls win", func(t *testing.T) {
		t.Parallel()
		f := newServiceFixture(t)
		sub := f.seed(t, f.now, nil)

		_, err := f.svc.CreateCheckout(context.Background(), subscription.CheckoutInput{
			OrganizationID: sub.OrganizationID, Plan: "starter", Interval: "year",
			SuccessURL: "https://app.test/done", CancelURL: "https://app.test/back",
		})
		require.NoError(t, err)
		require.Len(t, f.client.checkouts, 1)
		assert.Equal(t, "https://app.test/done", *f.client.checkouts[0].SuccessURL)
		assert.Equal(t, "https://app.test/back", *f.client.checkouts[0].CancelURL)
	})

	t.Run("paid organizations use the portal", func(t *testing.T) {
		t.Parallel()
		f := newServiceFixture(t)
		sub := f.seed(t, f.now, checkout("pro", subscription.IntervalMonth, f.now))

		_, err := f.svc.CreateCheckout(context.Background(), subscription.CheckoutInput{
			OrganizationID: sub.OrganizationID, Plan: "enterprise", Interval: "month",
		})
		assert.ErrorIs(t, err, subscription.ErrAlreadySubscribed)
	})

	t.Run("expired trial can check out", func(t *testing.T) {
		t.Parallel()
		f := newServiceFixture(t)
		sub := f.seed(t, f.now.AddDate(0, 0, -40), nil)

		_, err := f.svc.CreateCheckout(context.Background(), subscription.CheckoutInput{
			OrganizationID: sub.OrganizationID, Plan: "pro", Interval: "month",
		})
		require.NoError(t, err)

		stored, err := f.store.GetByOrganization(context.Background(), sub.OrganizationID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusSuspended, stored.Status)
	})
}

func TestService_PortalLink(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.PortalLink(ctx, uuid.New())
	assert.ErrorIs(t, err, subscription.ErrNoBillingAccount)

	trial := f.seed(t, f.now, nil)
	_, err = f.svc.PortalLink(ctx, trial.OrganizationID)
	assert.ErrorIs(t, err, subscription.ErrNoBillingAccount)

	paid := f.seed(t, f.now, checkout("pro", subscription.IntervalMonth, f.now))
	link, err := f.svc.PortalLink(ctx, paid.OrganizationID)
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.test/"+paid.ProviderCustomerID, link.URL)
}

func TestService_Status(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	t.Run("trial", func(t *testing.T) {
		sub := f.seed(t, f.now, nil)
		v, err := f.svc.Status(ctx, sub.OrganizationID)
		require.NoError(t, err)
		assert.Equal(t, "enterprise", v.Plan)
		assert.True(t, v.IsTrial)
		assert.True(t, v.Entitled)
		require.NotNil(t, v.TrialDaysLeft)
		assert.Equal(t, 30, *v.TrialDaysLeft)
		assert.Contains(t, v.Modules, subscription.ModuleIoT)
		assert.Equal(t, "USD", v.Currency)
	})

	t.Run("first quarter monthly", func(t *testing.T) {
		sub := f.seed(t, f.now, checkout("pro", subscription.IntervalMonth, f.now))
		v, err := f.svc.Status(ctx, sub.OrganizationID)
		require.NoError(t, err)
		assert.False(t, v.IsTrial)
		assert.Nil(t, v.TrialDaysLeft)
		assert.Equal(t, int64(4900), v.BasePrice)
		assert.Equal(t, int64(2940), v.CurrentPrice)
		assert.Equal(t, 40, v.DiscountPercent)
		require.NotNil(t, v.NextPrice)
		assert.Equal(t, int64(3675), *v.NextPrice)
		assert.NotContains(t, v.Modules, subscription.ModuleIoT)
	})

	t.Run("annual has no discount", func(t *testing.T) {
		sub := f.seed(t, f.now, checkout("pro", subscription.IntervalYear, f.now))
		v, err := f.svc.Status(ctx, sub.OrganizationID)
		require.NoError(t, err)
		assert.Equal(t, int64(49000), v.CurrentPrice)
		assert.Equal(t, 0, v.DiscountPercent)
		assert.Nil(t, v.NextPrice)
	})

	t.Run("suspended is not entitled", func(t *testing.T) {
		sub := f.seed(t, f.now.AddDate(0, 0, -31), nil)
		v, err := f.svc.Status(ctx, sub.OrganizationID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusSuspended, v.Status)
		assert.False(t, v.Entitled)
		assert.Empty(t, v.Modules)
	})

	t.Run("unknown organization", func(t *testing.T) {
		_, err := f.svc.Status(ctx, uuid.New())
		assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	})
}

func TestService_Pricing(t *testing.T) {
	t.Parallel()

	v := newServiceFixture(t).svc.Pricing()
	assert.Equal(t, "USD", v.Currency)
	assert.Equal(t, 30, v.TrialDays)
	assert.Equal(t, 40, v.FirstQuarterPercent)
	require.Len(t, v.Tiers, 4)

	var pro subscription.PlanPricing
	for _, p := range v.Tiers {
		if p.Tier == "pro" {
			pro = p
		}
	}
	assert.Equal(t, int64(4900), pro.PriceMonthly)
	assert.Equal(t, int64(2940), pro.FirstQuarterMonthly)
	assert.Equal(t, int64(4083), pro.AnnualMonthly)
}

func TestService_Revenue(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	f.seed(t, f.now, checkout("pro", subscription.IntervalMonth, f.now))    // 2940
	f.seed(t, f.now, checkout("starter", subscription.IntervalYear, f.now)) // 19000/12
	f.seed(t, f.now, nil)
	f.seed(t, f.now, func(s *subscription.Subscription) {
		checkout("hobby", subscription.IntervalMonth, f.now)(s)
		s.RecordPaymentFailure(f.now)
	})
	f.seed(t, f.now.AddDate(0, 0, -40), nil)

	n, err := f.svc.ExpireTrials(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	r, err := f.svc.Revenue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2940+1583), r.MRR)
	assert.Equal(t, r.MRR*12, r.ARR)
	assert.Equal(t, int64(2262), r.ARPU)
	assert.Equal(t, 2, r.TotalActive)
	assert.Equal(t, 1, r.TotalTrial)
	assert.Equal(t, 1, r.TotalPastDue)
	assert.Equal(t, 1, r.TotalSuspended)
	assert.Equal(t, 1, r.ChurnedLast30d)
	assert.Equal(t, map[string]int{"pro": 1, "starter": 1}, r.TierDistribution)
	assert.Equal(t, "USD", r.Currency)
}

func TestService_Revenue_Empty(t *testing.T) {
	t.Parallel()

	r, err := newServiceFixture(t).svc.Revenue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, r.MRR)
	assert.Zero(t, r.ARPU)
	assert.Empty(t, r.TierDistribution)
}

func TestService_ExpireTrials(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()
	running := f.seed(t, f.now, nil)
	expired := f.seed(t, f.now.AddDate(0, 0, -31), nil)
	converted := f.seed(t, f.now.AddDate(0, 0, -60), checkout("pro", subscription.IntervalMonth, f.now))

	n, err := f.svc.ExpireTrials(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for id, want := range map[uuid.UUID]subscription.Status{
		running.OrganizationID:   subscription.StatusActive,
		expired.OrganizationID:   subscription.StatusSuspended,
		converted.OrganizationID: subscription.StatusActive,
	} {
		sub, err := f.store.GetByOrganization(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, sub.Status)
	}

	n, err = f.svc.ExpireTrials(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_ResyncDiscounts(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	n, err := f.svc.ResyncDiscounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.seed(t, f.now, checkout("pro", subscription.IntervalMonth, f.now))
	f.seed(t, f.now, func(s *subscription.Subscription) {
		checkout("pro", subscription.IntervalMonth, f.now)(s)
		s.MarkDiscountSync(false, f.now)
	})

	n, err = f.svc.ResyncDiscounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.tasks.Tasks(), 1)
}

func TestService_PruneEvents(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()
	sub := f.seed(t, f.now, nil)

	_, _, err := f.store.Update(ctx, subscription.ByOrganization(sub.OrganizationID), "evt_1",
		func(s *subscription.Subscription) subscription.Transition { return subscription.Transition{} })
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	pruned, err := f.svc.PruneEvents(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	// the id is accepted again once forgotten
	_, _, err = f.store.Update(ctx, subscription.ByOrganization(sub.OrganizationID), "evt_1",
		func(s *subscription.Subscription) subscription.Transition { return subscription.Transition{} })
	assert.NoError(t, err)
}

func TestService_Limits(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()
	farmCount := int64(2)
	counters := limits.NewRegistry()
	counters.Register(subscription.ResourceFarms, func(context.Context, uuid.UUID) (int64, error) { return farmCount, nil })
	quotas := f.svc.Limits(counters)

	starter := f.seed(t, f.now, checkout("starter", subscription.IntervalMonth, f.now))
	assert.ErrorIs(t, quotas.CanCreate(ctx, starter.OrganizationID, subscription.ResourceFarms), subscription.ErrLimitExceeded)
	assert.ErrorIs(t, quotas.CanCreate(ctx, starter.OrganizationID, subscription.ResourceUsers), limits.ErrNoCounterRegistered)

	usage, err := quotas.AllUsage(ctx, starter.OrganizationID)
	require.NoError(t, err)
	assert.Equal(t, limits.UsageInfo{Current: 2, Limit: 2, Counted: true}, usage[subscription.ResourceFarms])
	assert.Equal(t, limits.UsageInfo{Limit: 3}, usage[subscription.ResourceUsers])

	trial := f.seed(t, f.now, nil)
	assert.NoError(t, quotas.CanCreate(ctx, trial.OrganizationID, subscription.ResourceFarms), "enterprise trial is unlimited")

	// a trial that ran out is suspended on first use and grants nothing
	expired := f.seed(t, f.now.AddDate(0, 0, -31), nil)
	assert.ErrorIs(t, quotas.CanCreate(ctx, expired.OrganizationID, subscription.ResourceFarms), subscription.ErrLimitExceeded)
	cur, err := f.store.GetByOrganization(ctx, expired.OrganizationID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusSuspended, cur.Status)

	_, err = quotas.AllUsage(ctx, uuid.New())
	assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
}
