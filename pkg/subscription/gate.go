package subscription

import (
	"fmt"
	"time"

	"github.com/egglogu/billing/pkg/limits"
)

// Gate answers entitlement questions for a subscription. It never does I/O
// and is safe for concurrent use.
type Gate struct {
	catalog *Catalog
	now     func() time.Time
}

// NewGate returns a Gate reading plans from catalog. A nil clock means
// time.Now.
func NewGate(catalog *Catalog, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{catalog: catalog, now: now}
}

// Plan returns the plan sub is entitled to use, or false when it grants
// nothing: not active, trial expired, or an unknown tier.
func (g *Gate) Plan(sub *Subscription) (Plan, bool) {
	if sub == nil || sub.Status != StatusActive || sub.IsTrialExpired(g.now()) {
		return Plan{}, false
	}
	return g.catalog.Plan(sub.Plan)
}

// HasFeature reports whether sub's entitled plan includes f.
func (g *Gate) HasFeature(sub *Subscription, f Feature) bool {
	p, ok := g.Plan(sub)
	return ok && p.HasFeature(f)
}

// HasModule reports whether sub's entitled plan unlocks m.
func (g *Gate) HasModule(sub *Subscription, m Module) bool {
	p, ok := g.Plan(sub)
	return ok && p.HasModule(m)
}

// CheckLimit reports whether one more res can be created when current
// already exist. It returns ErrLimitExceeded when the cap is reached or
// the subscription grants no access.
func (g *Gate) CheckLimit(sub *Subscription, res Resource, current int64) error {
	quota, err := g.Quota(sub)
	if err != nil {
		return err
	}
	return quota.Allow(res, current)
}

// Quota resolves the limits plan sub is entitled to. It fails with
// ErrLimitExceeded when the subscription grants no access.
func (g *Gate) Quota(sub *Subscription) (limits.Plan, error) {
	p, ok := g.Plan(sub)
	if !ok {
		return limits.Plan{}, errNoAccess
	}
	return p.Quota(), nil
}

var errNoAccess = fmt.Errorf("%w: subscription grants no access", ErrLimitExceeded)

// AllowedModules lists the modules sub currently unlocks, in catalog order.
func (g *Gate) AllowedModules(sub *Subscription) []Module {
	p, ok := g.Plan(sub)
	if !ok {
		return []Module{}
	}
	out := make([]Module, len(p.Modules))
	copy(out, p.Modules)
	return out
}
