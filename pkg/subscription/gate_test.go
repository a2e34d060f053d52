package subscription_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egglogu/billing/pkg/limits"
	"github.com/egglogu/billing/pkg/subscription"
)

func TestGate(t *testing.T) {
	t.Parallel()

	now := t0
	gate := subscription.NewGate(subscription.DefaultCatalog(), func() time.Time { return now })

	hobby := &subscription.Subscription{OrganizationID: uuid.New(), Plan: "hobby", Status: subscription.StatusActive}
	assert.True(t, gate.HasModule(hobby, subscription.ModuleProduction))
	assert.False(t, gate.HasModule(hobby, subscription.ModuleFinance))
	assert.True(t, gate.HasFeature(hobby, subscription.FeatureOffline))
	assert.False(t, gate.HasFeature(hobby, subscription.FeatureFCR))

	assert.NoError(t, gate.CheckLimit(hobby, subscription.ResourceFlocks, 1))
	assert.ErrorIs(t, gate.CheckLimit(hobby, subscription.ResourceFlocks, 2), subscription.ErrLimitExceeded)

	pro := &subscription.Subscription{OrganizationID: uuid.New(), Plan: "pro", Status: subscription.StatusActive}
	assert.NoError(t, gate.CheckLimit(pro, subscription.ResourceFlocks, 10_000))
	assert.Contains(t, gate.AllowedModules(pro), subscription.ModuleTraceability)

	pastDue := &subscription.Subscription{OrganizationID: uuid.New(), Plan: "pro", Status: subscription.StatusPastDue}
	assert.False(t, gate.HasModule(pastDue, subscription.ModuleDashboard))
	assert.ErrorIs(t, gate.CheckLimit(pastDue, subscription.ResourceFarms, 0), subscription.ErrLimitExceeded)
	assert.Empty(t, gate.AllowedModules(pastDue))

	trial := subscription.NewTrial(uuid.New(), "enterprise", 30, t0)
	assert.True(t, gate.HasFeature(trial, subscription.FeatureAIPredictions))
	now = t0.AddDate(0, 0, 31)
	assert.False(t, gate.HasFeature(trial, subscription.FeatureAIPredictions), "expired trial grants nothing")

	unknown := &subscription.Subscription{OrganizationID: uuid.New(), Plan: "legacy", Status: subscription.StatusActive}
	assert.False(t, gate.HasModule(unknown, subscription.ModuleDashboard))
	assert.False(t, gate.HasFeature(nil, subscription.FeatureOffline))
}

func TestGate_Quota(t *testing.T) {
	t.Parallel()

	gate := subscription.NewGate(subscription.DefaultCatalog(), func() time.Time { return t0 })

	starter := &subscription.Subscription{OrganizationID: uuid.New(), Plan: "starter", Status: subscription.StatusActive}
	quota, err := gate.Quota(starter)
	require.NoError(t, err)
	assert.Equal(t, "starter", quota.ID)
	assert.Equal(t, int64(2), quota.Limit(subscription.ResourceFarms))
	assert.Equal(t, gate.HasFeature(starter, subscription.FeatureFCR), quota.HasFeature(subscription.FeatureFCR))

	err = gate.CheckLimit(starter, subscription.ResourceFarms, 2)
	require.ErrorIs(t, err, limits.ErrLimitExceeded)
	assert.Contains(t, err.Error(), "farms 2/2 on starter")

	enterprise := &subscription.Subscription{OrganizationID: uuid.New(), Plan: "enterprise", Status: subscription.StatusActive}
	quota, err = gate.Quota(enterprise)
	require.NoError(t, err)
	assert.Equal(t, limits.Unlimited, quota.Limit(subscription.ResourceUsers))

	suspended := &subscription.Subscription{OrganizationID: uuid.New(), Plan: "pro", Status: subscription.StatusSuspended}
	_, err = gate.Quota(suspended)
	assert.ErrorIs(t, err, subscription.ErrLimitExceeded)
}
