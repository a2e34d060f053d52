package subscription

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/egglogu/billing/pkg/limits"
	"github.com/egglogu/billing/pkg/logger"
)

// Config holds the billing settings that are not provider specific.
type Config struct {
	FrontendURL         string        `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	CatalogPath         string        `env:"BILLING_CATALOG_PATH"`
	CacheTTL            time.Duration `env:"BILLING_CACHE_TTL" envDefault:"10m"`
	DiscountSyncTimeout time.Duration `env:"DISCOUNT_SYNC_TIMEOUT" envDefault:"5s"`
	EventRetention      time.Duration `env:"BILLING_EVENT_RETENTION" envDefault:"2160h"`
	TrialSweepSchedule  string        `env:"BILLING_TRIAL_SWEEP_SCHEDULE" envDefault:"@every 15m"`
	ResyncSchedule      string        `env:"BILLING_RESYNC_SCHEDULE" envDefault:"@every 10m"`
	PruneSchedule       string        `env:"BILLING_PRUNE_SCHEDULE" envDefault:"@daily"`
}

// sweepBatch bounds how many rows one scheduled sweep touches.
const sweepBatch = 500

// Service is the application-facing side of billing: trials, checkout,
// portal access, status and revenue reporting.
type Service struct {
	store       Store
	provider    BillingProvider
	catalog     *Catalog
	gate        *Gate
	syncer      *DiscountSyncer
	metrics     *Metrics
	log         *slog.Logger
	now         func() time.Time
	frontendURL string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithFrontendURL is the base for checkout success, cancel and portal
// return URLs.
func WithFrontendURL(u string) ServiceOption {
	return func(s *Service) { s.frontendURL = strings.TrimRight(u, "/") }
}

// WithDiscountSyncer enables ResyncDiscounts.
func WithDiscountSyncer(d *DiscountSyncer) ServiceOption {
	return func(s *Service) { s.syncer = d }
}

func WithServiceMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service over store and provider. Plans and
// entitlements come from catalog.
func NewService(store Store, provider BillingProvider, catalog *Catalog, opts ...ServiceOption) *Service {
	s := &Service{
		store:       store,
		provider:    provider,
		catalog:     catalog,
		log:         slog.Default(),
		now:         time.Now,
		frontendURL: "http://localhost:3000",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.gate = NewGate(catalog, s.now)
	s.log = s.log.With(logger.Component("billing_service"))
	return s
}

func (s *Service) Catalog() *Catalog { return s.catalog }

func (s *Service) Gate() *Gate { return s.gate }

// StartTrial creates the trial subscription of a new organization.
func (s *Service) StartTrial(ctx context.Context, orgID uuid.UUID) (*Subscription, error) {
	sub := NewTrial(orgID, s.catalog.TrialPlan().Tier, s.catalog.TrialDays, s.now())
	if err := s.store.Create(ctx, sub); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "trial started",
		logger.OrganizationID(orgID),
		slog.String("plan", sub.Plan),
		slog.Time("trial_end", *sub.TrialEnd))
	return sub, nil
}

// Current returns an organization's subscription, suspending it first if
// its trial ran out. Every entitlement check goes through here.
func (s *Service) Current(ctx context.Context, orgID uuid.UUID) (*Subscription, error) {
	sub, err := s.store.GetByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !sub.IsTrialExpired(s.now()) || sub.ProviderSubscriptionID != "" {
		return sub, nil
	}

	updated, t, err := s.store.Update(ctx, ByOrganization(orgID), "", func(cur *Subscription) Transition {
		return cur.ExpireTrial(s.now())
	})
	if err != nil {
		return nil, err
	}
	if t.Changed {
		s.metrics.transition(t)
		s.log.InfoContext(ctx, "trial expired, subscription suspended", logger.OrganizationID(orgID))
	}
	return updated, nil
}

// Limits returns a quota service over counters that resolves plans through
// Current, so an expired trial is suspended before anything is counted.
func (s *Service) Limits(counters limits.CounterRegistry) *limits.Service {
	return limits.NewService(counters, func(ctx context.Context, orgID uuid.UUID) (limits.Plan, error) {
		sub, err := s.Current(ctx, orgID)
		if err != nil {
			return limits.Plan{}, err
		}
		return s.gate.Quota(sub)
	})
}

// CheckoutInput is a checkout request from an organization member.
type CheckoutInput struct {
	OrganizationID uuid.UUID
	Plan           string
	Interval       string
	Email          string
	SuccessURL     string
	CancelURL      string
}

// CreateCheckout opens a provider checkout for a trial or suspended
// organization. Organizations already on a paid subscription get
// ErrAlreadySubscribed and change plans through the portal.
func (s *Service) CreateCheckout(ctx context.Context, in CheckoutInput) (*CheckoutLink, error) {
	if _, ok := s.catalog.Plan(in.Plan); !ok {
		return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidPlan, in.Plan)
	}
	interval, err := ParseInterval(in.Interval)
	if err != nil {
		return nil, err
	}

	sub, err := s.Current(ctx, in.OrganizationID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		// organizations created before billing existed have no record yet
		sub, err = s.StartTrial(ctx, in.OrganizationID)
		if errors.Is(err, ErrSubscriptionAlreadyExists) {
			sub, err = s.Current(ctx, in.OrganizationID)
		}
	}
	if err != nil {
		return nil, err
	}
	if sub.IsPaid() {
		return nil, ErrAlreadySubscribed
	}

	req := CheckoutRequest{
		OrganizationID: in.OrganizationID,
		Plan:           in.Plan,
		Interval:       interval,
		CustomerID:     sub.ProviderCustomerID,
		Email:          in.Email,
		SuccessURL:     cmp.Or(in.SuccessURL, s.frontendURL+"/?billing=success"),
		CancelURL:      cmp.Or(in.CancelURL, s.frontendURL+"/?billing=cancel"),
	}
	link, err := s.provider.CreateCheckoutLink(ctx, req)
	if err != nil {
		return nil, err
	}

	s.metrics.checkout(in.Plan, interval)
	s.log.InfoContext(ctx, "checkout session created",
		logger.OrganizationID(in.OrganizationID),
		slog.String("plan", in.Plan),
		slog.String("interval", string(interval)),
		slog.String("session_id", link.SessionID))
	return link, nil
}

// PortalLink opens the provider's self-service portal. It needs a provider
// customer, which exists once the organization has completed a checkout.
func (s *Service) PortalLink(ctx context.Context, orgID uuid.UUID) (*PortalLink, error) {
	sub, err := s.store.GetByOrganization(ctx, orgID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, ErrNoBillingAccount
	}
	if err != nil {
		return nil, err
	}
	if sub.ProviderCustomerID == "" {
		return nil, ErrNoBillingAccount
	}
	return s.provider.CreatePortalLink(ctx, sub.ProviderCustomerID, s.frontendURL+"/?billing=portal")
}

// StatusView is what an organization sees about its own billing.
// Amounts are in minor units of Currency.
type StatusView struct {
	Plan              string
	Status            Status
	Entitled          bool
	Modules           []Module
	BillingInterval   BillingInterval
	CurrentPeriodEnd  *time.Time
	IsTrial           bool
	TrialEnd          *time.Time
	TrialDaysLeft     *int
	DiscountPhase     Phase
	MonthsSubscribed  int
	Currency          string
	CurrentPrice      int64
	BasePrice         int64
	NextPrice         *int64
	DiscountPercent   int
	DiscountLabel     string
	DiscountOutOfSync bool
}

// Status returns the organization's billing summary after applying any
// trial expiry.
func (s *Service) Status(ctx context.Context, orgID uuid.UUID) (*StatusView, error) {
	sub, err := s.Current(ctx, orgID)
	if err != nil {
		return nil, err
	}

	plan, entitled := s.gate.Plan(sub)
	if !entitled {
		plan, _ = s.catalog.Plan(sub.Plan)
	}

	v := &StatusView{
		Plan:              sub.Plan,
		Status:            sub.Status,
		Entitled:          entitled,
		Modules:           s.gate.AllowedModules(sub),
		BillingInterval:   sub.BillingInterval,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		IsTrial:           sub.IsTrial,
		TrialEnd:          sub.TrialEnd,
		DiscountPhase:     sub.DiscountPhase,
		MonthsSubscribed:  sub.MonthsSubscribed,
		Currency:          s.catalog.Currency,
		BasePrice:         plan.BasePrice(sub.BillingInterval),
		CurrentPrice:      EffectivePrice(plan, sub.DiscountPhase, sub.BillingInterval),
		DiscountPercent:   DiscountPercent(sub.DiscountPhase, sub.BillingInterval),
		DiscountLabel:     sub.DiscountPhase.Label(),
		DiscountOutOfSync: sub.DiscountOutOfSync,
	}
	if sub.IsTrial {
		days := sub.TrialDaysLeft(s.now())
		v.TrialDaysLeft = &days
	}
	if next, ok := sub.DiscountPhase.Next(); ok {
		if p := EffectivePrice(plan, next, sub.BillingInterval); p != v.CurrentPrice {
			v.NextPrice = &p
		}
	}
	return v, nil
}

// PlanPricing is one catalog tier as shown on the public pricing page.
type PlanPricing struct {
	Plan
	FirstQuarterMonthly int64
	AnnualMonthly       int64
}

type PricingView struct {
	Version             string
	Currency            string
	TrialDays           int
	FirstQuarterPercent int
	Tiers               []PlanPricing
}

// Pricing lists every tier with its monthly and annual base price.
func (s *Service) Pricing() PricingView {
	plans := s.catalog.Plans()
	v := PricingView{
		Version:             s.catalog.Version,
		Currency:            s.catalog.Currency,
		TrialDays:           s.catalog.TrialDays,
		FirstQuarterPercent: PhaseQ1.PercentOff(),
		Tiers:               make([]PlanPricing, 0, len(plans)),
	}
	for _, p := range plans {
		v.Tiers = append(v.Tiers, PlanPricing{
			Plan:                p,
			FirstQuarterMonthly: EffectivePrice(p, PhaseQ1, IntervalMonth),
			AnnualMonthly:       monthlyEquivalent(p.PriceAnnual),
		})
	}
	return v
}

// RevenueReport summarizes recurring revenue. Amounts are in minor units.
type RevenueReport struct {
	MRR              int64
	ARR              int64
	ARPU             int64
	Currency         string
	TotalActive      int
	TotalTrial       int
	TotalPastDue     int
	TotalSuspended   int
	ChurnedLast30d   int
	TierDistribution map[string]int
	GeneratedAt      time.Time
}

// Revenue computes MRR from paying active subscriptions at their current
// discounted price; annual plans count as a twelfth per month.
func (s *Service) Revenue(ctx context.Context) (*RevenueReport, error) {
	cohorts, err := s.store.Cohorts(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	r := &RevenueReport{Currency: s.catalog.Currency, TierDistribution: make(map[string]int), GeneratedAt: now}
	for _, c := range cohorts {
		switch {
		case c.Status == StatusActive && !c.IsTrial:
			r.TotalActive += c.Count
			r.TierDistribution[c.Plan] += c.Count
			plan, ok := s.catalog.Plan(c.Plan)
			if !ok {
				s.log.WarnContext(ctx, "revenue cohort with unknown plan", slog.String("plan", c.Plan))
				continue
			}
			price := EffectivePrice(plan, c.Phase, c.Interval)
			if c.Interval == IntervalYear {
				price = monthlyEquivalent(price)
			}
			r.MRR += price * int64(c.Count)
		case c.IsTrial:
			r.TotalTrial += c.Count
		case c.Status == StatusPastDue:
			r.TotalPastDue += c.Count
		case c.Status == StatusSuspended || c.Status == StatusCancelled:
			r.TotalSuspended += c.Count
		}
	}
	r.ARR = r.MRR * 12
	if r.TotalActive > 0 {
		r.ARPU = (r.MRR + int64(r.TotalActive)/2) / int64(r.TotalActive)
	}

	churned, err := s.store.CountSuspendedSince(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}
	r.ChurnedLast30d = churned
	return r, nil
}

// OutOfSync lists subscriptions whose provider coupon push is pending.
func (s *Service) OutOfSync(ctx context.Context) ([]*Subscription, error) {
	return s.store.List(ctx, ListFilter{DiscountOutOfSync: true, Limit: sweepBatch})
}

// ExpireTrials suspends trials that ended without a checkout and returns
// how many it suspended.
func (s *Service) ExpireTrials(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.store.List(ctx, ListFilter{TrialExpiredBefore: &now, Limit: sweepBatch})
	if err != nil {
		return 0, err
	}

	n := 0
	var errs []error
	for _, sub := range expired {
		_, t, err := s.store.Update(ctx, ByOrganization(sub.OrganizationID), "", func(cur *Subscription) Transition {
			return cur.ExpireTrial(now)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("expire trial %s: %w", sub.OrganizationID, err))
			continue
		}
		if t.Changed {
			n++
			s.metrics.transition(t)
		}
	}
	if n > 0 {
		s.log.InfoContext(ctx, "expired trials suspended", slog.Int("count", n))
	}
	return n, errors.Join(errs...)
}

// ResyncDiscounts re-enqueues a sync task for every out-of-sync
// subscription, covering tasks that reached the dead letter queue.
func (s *Service) ResyncDiscounts(ctx context.Context) (int, error) {
	subs, err := s.OutOfSync(ctx)
	if err != nil {
		return 0, err
	}
	s.metrics.setOutOfSync(len(subs))
	if s.syncer == nil || len(subs) == 0 {
		return 0, nil
	}

	var errs []error
	for _, sub := range subs {
		if err := s.syncer.Schedule(ctx, sub.OrganizationID); err != nil {
			errs = append(errs, err)
		}
	}
	return len(subs) - len(errs), errors.Join(errs...)
}

// PruneEvents forgets processed webhook event ids older than retention.
func (s *Service) PruneEvents(ctx context.Context, retention time.Duration) (int64, error) {
	return s.store.PruneProcessedEvents(ctx, s.now().Add(-retention))
}

func monthlyEquivalent(annual int64) int64 {
	return (annual + 6) / 12
}

