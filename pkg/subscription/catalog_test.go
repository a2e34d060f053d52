package subscription_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egglogu/billing/pkg/subscription"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c := subscription.DefaultCatalog()
	assert.Equal(t, "USD", c.Currency)
	assert.Equal(t, 30, c.TrialDays)
	assert.Equal(t, "enterprise", c.TrialPlan().Tier)

	var tiers []string
	for _, p := range c.Plans() {
		tiers = append(tiers, p.Tier)
	}
	assert.Equal(t, []string{"hobby", "starter", "pro", "enterprise"}, tiers)

	assert.Negative(t, c.Compare("hobby", "starter"))
	assert.Negative(t, c.Compare("starter", "pro"))
	assert.Positive(t, c.Compare("enterprise", "pro"))
	assert.Zero(t, c.Compare("pro", "pro"))
	assert.Negative(t, c.Compare("legacy", "hobby"))

	pro, ok := c.Plan("pro")
	require.True(t, ok)
	assert.Equal(t, int64(5), pro.Limit(subscription.ResourceFarms))
	assert.Equal(t, subscription.Unlimited, pro.Limit(subscription.ResourceFlocks))
	require.NotNil(t, pro.SupportSLAHours)
	assert.Equal(t, 12, *pro.SupportSLAHours)

	hobby, _ := c.Plan("hobby")
	assert.Nil(t, hobby.SupportSLAHours)
}

func TestLimit_MarshalJSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(map[string]subscription.Limit{
		"farms":  5,
		"flocks": subscription.Limit(subscription.Unlimited),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"farms":5,"flocks":null}`, string(data))
}

const validCatalog = `
version: test
trial_days: 14
trial_tier: pro
plans:
  - tier: basic
    rank: 1
    price_monthly: 500
    price_annual: 5000
    limits: {farms: 1}
    modules: [dashboard]
    features: [offline]
  - tier: pro
    rank: 2
    price_monthly: 1500
    price_annual: 15000
    limits: {farms: unlimited}
    modules: [dashboard, finance]
    features: [offline, finance]
`

func TestParseCatalog(t *testing.T) {
	t.Parallel()

	c, err := subscription.ParseCatalog([]byte(validCatalog))
	require.NoError(t, err)
	assert.Equal(t, "USD", c.Currency, "currency defaults to USD")
	assert.Equal(t, 14, c.TrialDays)
	assert.Equal(t, "pro", c.TrialPlan().Tier)

	tests := []struct {
		name    string
		mutate  func(string) string
		wantMsg string
	}{
		{"duplicate tier", func(s string) string { return strings.Replace(s, "- tier: pro", "- tier: basic", 1) }, "duplicate"},
		{"shared rank", func(s string) string { return strings.Replace(s, "rank: 2", "rank: 1", 1) }, "share rank"},
		{"negative price", func(s string) string { return strings.Replace(s, "price_monthly: 500", "price_monthly: -1", 1) }, "negative price"},
		{"feature not monotone", func(s string) string { return strings.Replace(s, "features: [offline, finance]", "features: [finance]", 1) }, "feature"},
		{"module not monotone", func(s string) string { return strings.Replace(s, "modules: [dashboard, finance]", "modules: [finance]", 1) }, "module"},
		{"unknown trial tier", func(s string) string { return strings.Replace(s, "trial_tier: pro", "trial_tier: gold", 1) }, "trial tier"},
		{"bad limit", func(s string) string { return strings.Replace(s, "farms: 1", "farms: lots", 1) }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := subscription.ParseCatalog([]byte(tt.mutate(validCatalog)))
			require.Error(t, err)
			if tt.wantMsg != "" {
				assert.ErrorIs(t, err, subscription.ErrInvalidCatalog)
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	c, err := subscription.LoadCatalog("")
	require.NoError(t, err)
	assert.Len(t, c.Plans(), 4)

	_, err = subscription.LoadCatalog("/does/not/exist.yaml")
	assert.ErrorIs(t, err, subscription.ErrFailedToLoadPlans)
}
