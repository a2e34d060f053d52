package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/egglogu/billing/pkg/logger"
)

// DefaultCacheTTL bounds how stale a cached subscription read can be when an
// invalidation is lost.
const DefaultCacheTTL = 10 * time.Minute

// DefaultInvalidationHold is how long a write keeps readers from refilling
// an entry. A read-through that loaded its row before the write cannot land
// after it unless its database read took longer than this.
const DefaultInvalidationHold = 5 * time.Second

// tombstone marks a recently invalidated entry. Reads treat it as a miss and
// refills use SETNX, so a stale row loaded before the write is dropped.
const tombstone = "-"

// CachedStore puts a Redis read-through cache in front of a Store for
// GetByOrganization, the lookup on every gated request. Writes go to the
// underlying store and then replace the cached entry with a short-lived
// tombstone. Redis failures are logged and bypassed; the database stays
// authoritative.
type CachedStore struct {
	Store
	client redis.UniversalClient
	ttl    time.Duration
	log    *slog.Logger
}

func NewCachedStore(store Store, client redis.UniversalClient, ttl time.Duration, log *slog.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &CachedStore{Store: store, client: client, ttl: ttl, log: log.With(logger.Component("subscription_cache"))}
}

func cacheKey(orgID uuid.UUID) string {
	return "sub:" + orgID.String()
}

func (c *CachedStore) GetByOrganization(ctx context.Context, orgID uuid.UUID) (*Subscription, error) {
	key := cacheKey(orgID)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil && string(data) == tombstone:
		// recently written; read the database without refilling
	case err == nil:
		var sub Subscription
		if jsonErr := json.Unmarshal(data, &sub); jsonErr == nil {
			return &sub, nil
		}
		c.invalidate(ctx, orgID)
	case !errors.Is(err, redis.Nil):
		c.log.WarnContext(ctx, "subscription cache read failed", logger.OrganizationID(orgID), logger.Error(err))
	}

	sub, err := c.Store.GetByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(sub); err == nil {
		if err := c.client.SetNX(ctx, key, data, c.ttl).Err(); err != nil {
			c.log.WarnContext(ctx, "subscription cache write failed", logger.OrganizationID(orgID), logger.Error(err))
		}
	}
	return sub, nil
}

func (c *CachedStore) Create(ctx context.Context, sub *Subscription) error {
	if err := c.Store.Create(ctx, sub); err != nil {
		return err
	}
	c.invalidate(ctx, sub.OrganizationID)
	return nil
}

func (c *CachedStore) Update(ctx context.Context, key Lookup, eventID string, fn func(*Subscription) Transition) (*Subscription, Transition, error) {
	sub, t, err := c.Store.Update(ctx, key, eventID, fn)
	if err != nil {
		return nil, t, err
	}
	if t.Changed {
		c.invalidate(ctx, sub.OrganizationID)
	}
	return sub, t, nil
}

// Invalidate drops the cached copy for an organization. Reads go to the
// database until DefaultInvalidationHold has passed.
func (c *CachedStore) Invalidate(ctx context.Context, orgID uuid.UUID) {
	c.invalidate(ctx, orgID)
}

func (c *CachedStore) invalidate(ctx context.Context, orgID uuid.UUID) {
	if err := c.client.Set(ctx, cacheKey(orgID), tombstone, DefaultInvalidationHold).Err(); err != nil {
		c.log.WarnContext(ctx, "subscription cache invalidation failed", logger.OrganizationID(orgID), logger.Error(err))
	}
}
