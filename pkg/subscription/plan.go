package subscription

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/egglogu/billing/pkg/limits"
)

// Plan is one tier of the catalog. Tier is an open string key; Rank gives
// the strict capability order between tiers (higher rank, more capability).
type Plan struct {
	Tier            string             `yaml:"tier" json:"tier"`
	Name            string             `yaml:"name" json:"name"`
	Rank            int                `yaml:"rank" json:"rank"`
	PriceMonthly    int64              `yaml:"price_monthly" json:"price_monthly"`
	PriceAnnual     int64              `yaml:"price_annual" json:"price_annual"`
	Limits          map[Resource]Limit `yaml:"limits" json:"limits"`
	Modules         []Module           `yaml:"modules" json:"modules"`
	Features        []Feature          `yaml:"features" json:"features"`
	SupportSLAHours *int               `yaml:"support_sla_hours" json:"support_sla_hours"`
}

// BasePrice returns the undiscounted price for one billing period.
func (p Plan) BasePrice(interval BillingInterval) int64 {
	if interval == IntervalYear {
		return p.PriceAnnual
	}
	return p.PriceMonthly
}

// HasFeature reports whether the plan includes f.
func (p Plan) HasFeature(f Feature) bool {
	return slices.Contains(p.Features, f)
}

func (p Plan) HasModule(m Module) bool {
	return slices.Contains(p.Modules, m)
}

// Limit returns the cap for res. Resources missing from the plan are
// unlimited.
func (p Plan) Limit(res Resource) int64 {
	l, ok := p.Limits[res]
	if !ok {
		return Unlimited
	}
	return int64(l)
}

// Quota is the plan as the limits package sees it.
func (p Plan) Quota() limits.Plan {
	caps := make(map[Resource]int64, len(p.Limits))
	for res, l := range p.Limits {
		caps[res] = int64(l)
	}
	return limits.Plan{ID: p.Tier, Limits: caps, Features: p.Features}
}

// Limit is a resource cap that reads "unlimited" from YAML and
// writes null to JSON for uncapped resources.
type Limit int64

func (l *Limit) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" || node.Value == "unlimited" {
		*l = Limit(Unlimited)
		return nil
	}
	n, err := strconv.ParseInt(node.Value, 10, 64)
	if err != nil || n < 0 {
		return fmt.Errorf("limit must be a non-negative integer or \"unlimited\", got %q", node.Value)
	}
	*l = Limit(n)
	return nil
}

func (l Limit) MarshalJSON() ([]byte, error) {
	if int64(l) == Unlimited {
		return []byte("null"), nil
	}
	return json.Marshal(int64(l))
}
