package subscription

import "fmt"

// Phase is the soft-landing discount phase of a subscription. Phase 0 is the
// free trial; phases 1 to 3 are the discounted quarters; phase 4 is full price.
type Phase int

const (
	PhaseTrial Phase = iota
	PhaseQ1
	PhaseQ2
	PhaseQ3
	PhaseFull
)

// MonthsPerPhase is the length of one discounted quarter.
const MonthsPerPhase = 3

var phasePercentOff = [...]int{
	PhaseTrial: 100,
	PhaseQ1:    40,
	PhaseQ2:    25,
	PhaseQ3:    15,
	PhaseFull:  0,
}

// PhaseForMonths maps completed paid months to a discount phase.
// The result is in [PhaseQ1, PhaseFull] and never decreases as months grow.
func PhaseForMonths(months int) Phase {
	switch {
	case months < MonthsPerPhase:
		return PhaseQ1
	case months < 2*MonthsPerPhase:
		return PhaseQ2
	case months < 3*MonthsPerPhase:
		return PhaseQ3
	default:
		return PhaseFull
	}
}

// Valid reports whether p is between PhaseTrial and PhaseFull.
func (p Phase) Valid() bool {
	return p >= PhaseTrial && p <= PhaseFull
}

// PercentOff is the phase discount. The trial's 100% is informational only;
// trials are never billed.
func (p Phase) PercentOff() int {
	if !p.Valid() {
		return 0
	}
	return phasePercentOff[p]
}

// Label is the human-readable phase name shown on the status page.
func (p Phase) Label() string {
	switch p {
	case PhaseTrial:
		return "Free trial"
	case PhaseFull:
		return "Full price"
	default:
		return fmt.Sprintf("Q%d: %d%% off", int(p), p.PercentOff())
	}
}

// Next returns the following phase, or false once full price is reached.
func (p Phase) Next() (Phase, bool) {
	if p >= PhaseFull {
		return PhaseFull, false
	}
	return p + 1, true
}

// CouponID is the provider coupon carrying this phase's discount. Full
// price and trial have no coupon.
func (p Phase) CouponID() string {
	if p <= PhaseTrial || p >= PhaseFull {
		return ""
	}
	return fmt.Sprintf("softlanding-phase-%d", int(p))
}

// DiscountPercent is the discount actually billed for a phase and interval.
// Soft landing only applies to monthly billing.
func DiscountPercent(phase Phase, interval BillingInterval) int {
	if interval != IntervalMonth {
		return 0
	}
	return phase.PercentOff()
}

// EffectivePrice is the amount billed for one period of plan at phase,
// in minor units, rounded half up.
func EffectivePrice(plan Plan, phase Phase, interval BillingInterval) int64 {
	return applyPercentOff(plan.BasePrice(interval), DiscountPercent(phase, interval))
}

func applyPercentOff(base int64, pct int) int64 {
	return (base*int64(100-pct) + 50) / 100
}
