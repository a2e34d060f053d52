package subscription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/egglogu/billing/pkg/pg"
)

const subscriptionColumns = `organization_id, plan, status, is_trial, trial_end, discount_phase,
	months_subscribed, billing_interval, provider_customer_id, provider_subscription_id,
	current_period_end, last_invoice_id, provider_synced_at, discount_out_of_sync,
	created_at, updated_at`

// PGStore keeps subscriptions in Postgres. See migrations for the schema.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Create(ctx context.Context, sub *Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		subscriptionArgs(sub)...,
	)
	if pg.IsDuplicateKeyError(err) {
		return ErrSubscriptionAlreadyExists
	}
	return err
}

func (s *PGStore) GetByOrganization(ctx context.Context, orgID uuid.UUID) (*Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM billing_subscriptions WHERE organization_id = $1`, orgID)
	return scanOne(row)
}

func (s *PGStore) GetByProviderSubscription(ctx context.Context, id string) (*Subscription, error) {
	if id == "" {
		return nil, ErrSubscriptionNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM billing_subscriptions WHERE provider_subscription_id = $1`, id)
	return scanOne(row)
}

func (s *PGStore) Update(ctx context.Context, key Lookup, eventID string, fn func(*Subscription) Transition) (*Subscription, Transition, error) {
	var (
		out *Subscription
		tr  Transition
	)

	err := pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if eventID != "" {
			tag, err := tx.Exec(ctx,
				`INSERT INTO billing_webhook_events (event_id) VALUES ($1) ON CONFLICT (event_id) DO NOTHING`, eventID)
			if err != nil {
				return fmt.Errorf("record event: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return ErrDuplicateEvent
			}
		}

		var row pgx.Row
		switch {
		case key.OrganizationID != uuid.Nil:
			row = tx.QueryRow(ctx,
				`SELECT `+subscriptionColumns+` FROM billing_subscriptions WHERE organization_id = $1 FOR UPDATE`,
				key.OrganizationID)
		case key.ProviderSubscriptionID != "":
			row = tx.QueryRow(ctx,
				`SELECT `+subscriptionColumns+` FROM billing_subscriptions WHERE provider_subscription_id = $1 FOR UPDATE`,
				key.ProviderSubscriptionID)
		default:
			return ErrSubscriptionNotFound
		}

		sub, err := scanOne(row)
		if err != nil {
			return err
		}

		tr = fn(sub)
		out = sub
		if !tr.Changed {
			return nil
		}
		if err := sub.Validate(); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `UPDATE billing_subscriptions SET
			plan = $2, status = $3, is_trial = $4, trial_end = $5, discount_phase = $6,
			months_subscribed = $7, billing_interval = $8, provider_customer_id = $9,
			provider_subscription_id = $10, current_period_end = $11, last_invoice_id = $12,
			provider_synced_at = $13, discount_out_of_sync = $14, updated_at = $15
			WHERE organization_id = $1`,
			updateArgs(sub)...,
		)
		return err
	})
	if err != nil {
		return nil, Transition{}, err
	}
	return out, tr, nil
}

func (s *PGStore) List(ctx context.Context, filter ListFilter) ([]*Subscription, error) {
	var (
		where []string
		args  []any
	)
	if filter.DiscountOutOfSync {
		where = append(where, "discount_out_of_sync")
	}
	if filter.TrialExpiredBefore != nil {
		args = append(args, *filter.TrialExpiredBefore)
		where = append(where, fmt.Sprintf("is_trial AND trial_end < $%d", len(args)))
	}

	query := `SELECT ` + subscriptionColumns + ` FROM billing_subscriptions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *PGStore) Cohorts(ctx context.Context) ([]Cohort, error) {
	rows, err := s.pool.Query(ctx, `SELECT plan, billing_interval, status, is_trial, discount_phase, count(*)
		FROM billing_subscriptions
		GROUP BY plan, billing_interval, status, is_trial, discount_phase`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Cohort, 0)
	for rows.Next() {
		var (
			c                      Cohort
			plan, interval, status string
			phase                  int16
		)
		if err := rows.Scan(&plan, &interval, &status, &c.IsTrial, &phase, &c.Count); err != nil {
			return nil, err
		}
		c.Plan, c.Interval, c.Status, c.Phase = plan, BillingInterval(interval), Status(status), Phase(phase)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PGStore) CountSuspendedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM billing_subscriptions WHERE status = 'suspended' AND updated_at >= $1`, since,
	).Scan(&n)
	return n, err
}

func (s *PGStore) PruneProcessedEvents(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM billing_webhook_events WHERE processed_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func subscriptionArgs(s *Subscription) []any {
	return []any{
		s.OrganizationID, s.Plan, string(s.Status), s.IsTrial, s.TrialEnd, int16(s.DiscountPhase),
		s.MonthsSubscribed, string(s.BillingInterval), s.ProviderCustomerID, s.ProviderSubscriptionID,
		s.CurrentPeriodEnd, s.LastInvoiceID, s.ProviderSyncedAt, s.DiscountOutOfSync,
		s.CreatedAt, s.UpdatedAt,
	}
}

// updateArgs is subscriptionArgs without created_at, which never changes.
func updateArgs(s *Subscription) []any {
	args := subscriptionArgs(s)
	return append(args[:14:14], s.UpdatedAt)
}

func scanOne(row pgx.Row) (*Subscription, error) {
	sub, err := scanSubscription(row)
	if pg.IsNotFoundError(err) {
		return nil, ErrSubscriptionNotFound
	}
	return sub, err
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var (
		s                Subscription
		status, interval string
		phase            int16
	)
	err := row.Scan(
		&s.OrganizationID, &s.Plan, &status, &s.IsTrial, &s.TrialEnd, &phase,
		&s.MonthsSubscribed, &interval, &s.ProviderCustomerID, &s.ProviderSubscriptionID,
		&s.CurrentPeriodEnd, &s.LastInvoiceID, &s.ProviderSyncedAt, &s.DiscountOutOfSync,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = Status(status)
	s.BillingInterval = BillingInterval(interval)
	s.DiscountPhase = Phase(phase)
	return &s, nil
}

var (
	_ Store = (*PGStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
