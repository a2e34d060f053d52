package subscription

import (
	"cmp"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is the versioned, read-only set of plans loaded at startup.
type Catalog struct {
	Version   string
	Currency  string
	TrialDays int
	TrialTier string

	plans  map[string]Plan
	ranked []Plan
}

type catalogFile struct {
	Version   string `yaml:"version"`
	Currency  string `yaml:"currency"`
	TrialDays int    `yaml:"trial_days"`
	TrialTier string `yaml:"trial_tier"`
	Plans     []Plan `yaml:"plans"`
}

// DefaultCatalog returns the catalog compiled into the binary.
// It panics if the embedded file is invalid, which tests guard against.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("subscription: embedded catalog: %v", err))
	}
	return c
}

// LoadCatalog reads a catalog file from path. An empty path selects the
// embedded default.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	c := &Catalog{
		Version:   f.Version,
		Currency:  f.Currency,
		TrialDays: f.TrialDays,
		TrialTier: f.TrialTier,
		plans:     make(map[string]Plan, len(f.Plans)),
		ranked:    slices.Clone(f.Plans),
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	sort.SliceStable(c.ranked, func(i, j int) bool { return c.ranked[i].Rank < c.ranked[j].Rank })
	for _, p := range c.ranked {
		c.plans[p.Tier] = p
	}

	if err := c.validate(len(f.Plans)); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) validate(declared int) error {
	if len(c.ranked) == 0 {
		return fmt.Errorf("%w: no plans defined", ErrInvalidCatalog)
	}
	if len(c.plans) != declared {
		return fmt.Errorf("%w: duplicate tier ids", ErrInvalidCatalog)
	}
	if c.TrialDays < 0 {
		return fmt.Errorf("%w: trial_days must not be negative", ErrInvalidCatalog)
	}
	if c.TrialTier != "" {
		if _, ok := c.plans[c.TrialTier]; !ok {
			return fmt.Errorf("%w: trial tier %q is not defined", ErrInvalidCatalog, c.TrialTier)
		}
	}

	for i, p := range c.ranked {
		if p.Tier == "" {
			return fmt.Errorf("%w: plan at rank %d has no tier id", ErrInvalidCatalog, p.Rank)
		}
		if p.PriceMonthly < 0 || p.PriceAnnual < 0 {
			return fmt.Errorf("%w: %s has a negative price", ErrInvalidCatalog, p.Tier)
		}
		if i == 0 {
			continue
		}
		prev := c.ranked[i-1]
		if prev.Rank == p.Rank {
			return fmt.Errorf("%w: %s and %s share rank %d", ErrInvalidCatalog, prev.Tier, p.Tier, p.Rank)
		}
		for _, f := range prev.Features {
			if !p.HasFeature(f) {
				return fmt.Errorf("%w: feature %q enabled on %s but not on higher tier %s", ErrInvalidCatalog, f, prev.Tier, p.Tier)
			}
		}
		for _, m := range prev.Modules {
			if !p.HasModule(m) {
				return fmt.Errorf("%w: module %q enabled on %s but not on higher tier %s", ErrInvalidCatalog, m, prev.Tier, p.Tier)
			}
		}
	}
	return nil
}

// Plan looks up a tier.
func (c *Catalog) Plan(tier string) (Plan, bool) {
	p, ok := c.plans[tier]
	return p, ok
}

// Plans returns every plan ordered from lowest to highest rank.
func (c *Catalog) Plans() []Plan {
	return slices.Clone(c.ranked)
}

// TrialPlan is the tier granted to new organizations during their trial.
// Defaults to the highest-ranked plan.
func (c *Catalog) TrialPlan() Plan {
	if p, ok := c.plans[c.TrialTier]; ok {
		return p
	}
	return c.ranked[len(c.ranked)-1]
}

// Compare orders two tiers by rank. Unknown tiers sort below every known one.
func (c *Catalog) Compare(a, b string) int {
	rank := func(t string) int {
		if p, ok := c.plans[t]; ok {
			return p.Rank
		}
		return math.MinInt
	}
	return cmp.Compare(rank(a), rank(b))
}
