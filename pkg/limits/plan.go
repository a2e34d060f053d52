package limits

import (
	"fmt"
	"slices"
)

// Plan is the quota view of a subscription plan.
type Plan struct {
	ID       string
	Limits   map[Resource]int64
	Features []Feature
}

// Limit returns the cap on res. A resource the plan does not list is not
// capped.
func (p Plan) Limit(res Resource) int64 {
	if limit, ok := p.Limits[res]; ok {
		return limit
	}
	return Unlimited
}

func (p Plan) HasFeature(f Feature) bool {
	return slices.Contains(p.Features, f)
}

// Allow reports whether one more res fits when current already exist.
func (p Plan) Allow(res Resource, current int64) error {
	limit := p.Limit(res)
	if limit == Unlimited || current < limit {
		return nil
	}
	return fmt.Errorf("%w: %s %d/%d on %s", ErrLimitExceeded, res, current, limit, p.ID)
}

// PlanComparison lists what changes when moving from one plan to another.
type PlanComparison struct {
	NewFeatures     []Feature
	LostFeatures    []Feature
	IncreasedLimits map[Resource]ResourceChange
	DecreasedLimits map[Resource]ResourceChange
}

// ResourceChange is a cap before and after a plan change.
type ResourceChange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// HasDecreases reports whether anything is taken away.
func (c PlanComparison) HasDecreases() bool {
	return len(c.LostFeatures) > 0 || len(c.DecreasedLimits) > 0
}

// ComparePlans diffs current against target. Resources missing from one
// side are treated as Unlimited there.
func ComparePlans(current, target Plan) PlanComparison {
	c := PlanComparison{
		IncreasedLimits: make(map[Resource]ResourceChange),
		DecreasedLimits: make(map[Resource]ResourceChange),
	}
	for _, f := range target.Features {
		if !current.HasFeature(f) {
			c.NewFeatures = append(c.NewFeatures, f)
		}
	}
	for _, f := range current.Features {
		if !target.HasFeature(f) {
			c.LostFeatures = append(c.LostFeatures, f)
		}
	}

	resources := make(map[Resource]struct{}, len(current.Limits)+len(target.Limits))
	for res := range current.Limits {
		resources[res] = struct{}{}
	}
	for res := range target.Limits {
		resources[res] = struct{}{}
	}
	for res := range resources {
		from, to := current.Limit(res), target.Limit(res)
		switch {
		case from == to:
		case grows(from, to):
			c.IncreasedLimits[res] = ResourceChange{From: from, To: to}
		default:
			c.DecreasedLimits[res] = ResourceChange{From: from, To: to}
		}
	}
	return c
}

func grows(from, to int64) bool {
	if to == Unlimited {
		return true
	}
	return from != Unlimited && to > from
}
