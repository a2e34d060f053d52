// Package limits enforces per-organization resource quotas.
//
// A Plan carries numeric caps per Resource, with Unlimited (-1) meaning no
// cap, and the features it enables. Current usage comes from CounterFunc
// values registered per resource at startup; the package never counts
// anything itself. Service ties both together behind a PlanResolver so the
// caller decides where an organization's plan comes from:
//
//	counters := limits.NewRegistry()
//	counters.Register("farms", farmRepo.CountByOrganization)
//	svc := limits.NewService(counters, resolvePlan)
//	if err := svc.CanCreate(ctx, orgID, "farms"); err != nil {
//	    return err // wraps ErrLimitExceeded when the cap is reached
//	}
//
// ComparePlans describes what changes between two plans, which is used to
// report features gained or lost on an upgrade or downgrade.
package limits
