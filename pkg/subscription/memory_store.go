package subscription

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a Store kept in process memory, for tests and local runs.
type MemoryStore struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription
	events map[string]time.Time
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:   make(map[uuid.UUID]*Subscription),
		events: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, sub *Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.OrganizationID]; ok {
		return ErrSubscriptionAlreadyExists
	}
	m.subs[sub.OrganizationID] = sub.Clone()
	return nil
}

func (m *MemoryStore) GetByOrganization(_ context.Context, orgID uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[orgID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub.Clone(), nil
}

func (m *MemoryStore) GetByProviderSubscription(_ context.Context, id string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := m.findLocked(ByProviderSubscription(id))
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}
	return sub.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, key Lookup, eventID string, fn func(*Subscription) Transition) (*Subscription, Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if eventID != "" {
		if _, seen := m.events[eventID]; seen {
			return nil, Transition{}, ErrDuplicateEvent
		}
	}

	current := m.findLocked(key)
	if current == nil {
		return nil, Transition{}, ErrSubscriptionNotFound
	}

	working := current.Clone()
	t := fn(working)
	if t.Changed {
		if err := working.Validate(); err != nil {
			return nil, Transition{}, err
		}
		m.subs[working.OrganizationID] = working
	}
	if eventID != "" {
		m.events[eventID] = m.now()
	}
	return working.Clone(), t, nil
}

func (m *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Subscription, 0)
	for _, sub := range m.subs {
		if filter.DiscountOutOfSync && !sub.DiscountOutOfSync {
			continue
		}
		if filter.TrialExpiredBefore != nil &&
			(!sub.IsTrial || sub.TrialEnd == nil || !sub.TrialEnd.Before(*filter.TrialExpiredBefore)) {
			continue
		}
		out = append(out, sub.Clone())
	}
	slices.SortFunc(out, func(a, b *Subscription) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Cohorts(_ context.Context) ([]Cohort, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type cohortKey struct {
		plan     string
		interval BillingInterval
		status   Status
		trial    bool
		phase    Phase
	}
	counts := make(map[cohortKey]int)
	for _, s := range m.subs {
		counts[cohortKey{s.Plan, s.BillingInterval, s.Status, s.IsTrial, s.DiscountPhase}]++
	}

	out := make([]Cohort, 0, len(counts))
	for k, n := range counts {
		out = append(out, Cohort{Plan: k.plan, Interval: k.interval, Status: k.status, IsTrial: k.trial, Phase: k.phase, Count: n})
	}
	return out, nil
}

func (m *MemoryStore) CountSuspendedSince(_ context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.subs {
		if s.Status == StatusSuspended && !s.UpdatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) PruneProcessedEvents(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, at := range m.events {
		if at.Before(before) {
			delete(m.events, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) findLocked(key Lookup) *Subscription {
	if key.OrganizationID != uuid.Nil {
		return m.subs[key.OrganizationID]
	}
	if key.ProviderSubscriptionID == "" {
		return nil
	}
	for _, s := range m.subs {
		if s.ProviderSubscriptionID == key.ProviderSubscriptionID {
			return s
		}
	}
	return nil
}
