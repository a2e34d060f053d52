package limits

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// PlanResolver returns the plan whose quotas apply to an organization right
// now. Returning an error denies every capacity check.
type PlanResolver func(ctx context.Context, orgID uuid.UUID) (Plan, error)

// Service checks capacity against registered counters. It holds no state
// besides its inputs and is safe for concurrent use once counters are
// registered.
type Service struct {
	counters CounterRegistry
	resolve  PlanResolver
}

func NewService(counters CounterRegistry, resolve PlanResolver) *Service {
	if counters == nil {
		counters = NewRegistry()
	}
	return &Service{counters: counters, resolve: resolve}
}

// CanCreate returns nil when the organization may create one more res. It
// wraps ErrLimitExceeded when the cap is reached, and returns
// ErrNoCounterRegistered for a capped resource nobody counts.
func (s *Service) CanCreate(ctx context.Context, orgID uuid.UUID, res Resource) error {
	plan, err := s.resolve(ctx, orgID)
	if err != nil {
		return err
	}
	if plan.Limit(res) == Unlimited {
		return nil
	}
	current, err := s.count(ctx, orgID, res)
	if err != nil {
		return err
	}
	return plan.Allow(res, current)
}

// Usage returns the current usage of res.
func (s *Service) Usage(ctx context.Context, orgID uuid.UUID, res Resource) (UsageInfo, error) {
	plan, err := s.resolve(ctx, orgID)
	if err != nil {
		return UsageInfo{}, err
	}
	return s.usage(ctx, orgID, plan, res)
}

// AllUsage reports every resource the plan caps or a counter tracks.
// Resources without a counter are returned with Counted false.
func (s *Service) AllUsage(ctx context.Context, orgID uuid.UUID) (map[Resource]UsageInfo, error) {
	plan, err := s.resolve(ctx, orgID)
	if err != nil {
		return nil, err
	}

	out := make(map[Resource]UsageInfo, len(plan.Limits))
	for res := range plan.Limits {
		out[res] = UsageInfo{Limit: plan.Limit(res)}
	}
	for res := range s.counters {
		u, err := s.usage(ctx, orgID, plan, res)
		if err != nil {
			return nil, err
		}
		out[res] = u
	}
	return out, nil
}

// CanDowngrade returns ErrDowngradeNotPossible when counted usage exceeds
// any cap of target.
func (s *Service) CanDowngrade(ctx context.Context, orgID uuid.UUID, target Plan) error {
	for res, limit := range target.Limits {
		if limit == Unlimited {
			continue
		}
		if _, ok := s.counters[res]; !ok {
			continue
		}
		current, err := s.count(ctx, orgID, res)
		if err != nil {
			return err
		}
		if current > limit {
			return errors.Join(ErrDowngradeNotPossible, target.Allow(res, current))
		}
	}
	return nil
}

func (s *Service) usage(ctx context.Context, orgID uuid.UUID, p Plan, res Resource) (UsageInfo, error) {
	u := UsageInfo{Limit: p.Limit(res)}
	if _, ok := s.counters[res]; !ok {
		return u, nil
	}
	current, err := s.count(ctx, orgID, res)
	if err != nil {
		return UsageInfo{}, err
	}
	u.Current, u.Counted = current, true
	return u, nil
}

func (s *Service) count(ctx context.Context, orgID uuid.UUID, res Resource) (int64, error) {
	counter, ok := s.counters[res]
	if !ok {
		return 0, ErrNoCounterRegistered
	}
	current, err := counter(ctx, orgID)
	if err != nil {
		return 0, errors.Join(ErrFailedToCountResourceUsage, err)
	}
	return current, nil
}
