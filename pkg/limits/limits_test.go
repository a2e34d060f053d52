package limits_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egglogu/billing/pkg/limits"
)

const (
	farms  limits.Resource = "farms"
	flocks limits.Resource = "flocks"
	users  limits.Resource = "users"
)

var (
	starter = limits.Plan{
		ID:       "starter",
		Limits:   map[limits.Resource]int64{farms: 1, flocks: 5, users: 2},
		Features: []limits.Feature{"health"},
	}
	pro = limits.Plan{
		ID:       "pro",
		Limits:   map[limits.Resource]int64{farms: 3, flocks: limits.Unlimited, users: 5},
		Features: []limits.Feature{"health", "fcr"},
	}
)

func fixed(n int64) limits.CounterFunc {
	return func(context.Context, uuid.UUID) (int64, error) { return n, nil }
}

func resolveTo(p limits.Plan) limits.PlanResolver {
	return func(context.Context, uuid.UUID) (limits.Plan, error) { return p, nil }
}

func TestPlan_Allow(t *testing.T) {
	t.Parallel()

	assert.NoError(t, starter.Allow(farms, 0))
	err := starter.Allow(farms, 1)
	require.ErrorIs(t, err, limits.ErrLimitExceeded)
	assert.Contains(t, err.Error(), "farms 1/1 on starter")

	assert.NoError(t, pro.Allow(flocks, 10_000))
	assert.NoError(t, pro.Allow("sensors", 99), "unlisted resources are not capped")
	assert.Equal(t, limits.Unlimited, pro.Limit("sensors"))
}

func TestService_CanCreate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	orgID := uuid.New()
	counters := limits.NewRegistry()
	counters.Register(farms, fixed(1))
	counters.Register(users, func(context.Context, uuid.UUID) (int64, error) { return 0, errors.New("db down") })

	svc := limits.NewService(counters, resolveTo(starter))
	assert.ErrorIs(t, svc.CanCreate(ctx, orgID, farms), limits.ErrLimitExceeded)
	assert.ErrorIs(t, svc.CanCreate(ctx, orgID, flocks), limits.ErrNoCounterRegistered)
	assert.ErrorIs(t, svc.CanCreate(ctx, orgID, users), limits.ErrFailedToCountResourceUsage)

	svc = limits.NewService(counters, resolveTo(pro))
	assert.NoError(t, svc.CanCreate(ctx, orgID, farms))
	assert.NoError(t, svc.CanCreate(ctx, orgID, flocks), "unlimited needs no counter")

	denied := errors.New("no plan")
	svc = limits.NewService(counters, func(context.Context, uuid.UUID) (limits.Plan, error) { return limits.Plan{}, denied })
	assert.ErrorIs(t, svc.CanCreate(ctx, orgID, farms), denied)
}

func TestService_AllUsage(t *testing.T) {
	t.Parallel()

	counters := limits.NewRegistry()
	counters.Register(farms, fixed(2))
	counters.Register("sensors", fixed(7))
	svc := limits.NewService(counters, resolveTo(pro))

	usage, err := svc.AllUsage(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, limits.UsageInfo{Current: 2, Limit: 3, Counted: true}, usage[farms])
	assert.Equal(t, int64(1), usage[farms].Remaining())
	assert.Equal(t, limits.UsageInfo{Limit: limits.Unlimited}, usage[flocks])
	assert.Equal(t, limits.Unlimited, usage[flocks].Remaining())
	assert.Equal(t, limits.UsageInfo{Limit: 5}, usage[users])
	assert.Equal(t, limits.UsageInfo{Current: 7, Limit: limits.Unlimited, Counted: true}, usage["sensors"])

	one, err := svc.Usage(context.Background(), uuid.New(), farms)
	require.NoError(t, err)
	assert.Equal(t, usage[farms], one)
}

func TestService_CanDowngrade(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	counters := limits.NewRegistry()
	counters.Register(farms, fixed(2))
	svc := limits.NewService(counters, resolveTo(pro))

	err := svc.CanDowngrade(ctx, uuid.New(), starter)
	assert.ErrorIs(t, err, limits.ErrDowngradeNotPossible)
	assert.ErrorIs(t, err, limits.ErrLimitExceeded)
	assert.NoError(t, svc.CanDowngrade(ctx, uuid.New(), pro))
}

func TestComparePlans(t *testing.T) {
	t.Parallel()

	up := limits.ComparePlans(starter, pro)
	assert.Equal(t, []limits.Feature{"fcr"}, up.NewFeatures)
	assert.Empty(t, up.LostFeatures)
	assert.Equal(t, limits.ResourceChange{From: 5, To: limits.Unlimited}, up.IncreasedLimits[flocks])
	assert.Equal(t, limits.ResourceChange{From: 1, To: 3}, up.IncreasedLimits[farms])
	assert.False(t, up.HasDecreases())

	down := limits.ComparePlans(pro, starter)
	assert.Equal(t, []limits.Feature{"fcr"}, down.LostFeatures)
	assert.Equal(t, limits.ResourceChange{From: limits.Unlimited, To: 5}, down.DecreasedLimits[flocks])
	assert.True(t, down.HasDecreases())

	assert.False(t, limits.ComparePlans(pro, pro).HasDecreases())
}

func TestRegistry_RejectsNilCounter(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { limits.NewRegistry().Register(farms, nil) })
}
