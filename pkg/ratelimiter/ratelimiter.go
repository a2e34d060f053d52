package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/egglogu/billing/pkg/logger"
)

// RateLimiter defines the interface for rate limiting implementations.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (*Result, error)
}

// FixedWindow is a fixed-window counter limiter. It fails open: store
// errors are logged and the request is allowed.
type FixedWindow struct {
	store  Store
	config Config
	log    *slog.Logger
}

type Option func(*FixedWindow)

// WithLogger sets the logger used to report bypassed checks.
func WithLogger(l *slog.Logger) Option {
	return func(fw *FixedWindow) {
		if l != nil {
			fw.log = l
		}
	}
}

// New creates a fixed-window rate limiter.
func New(store Store, config Config, opts ...Option) (*FixedWindow, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	fw := &FixedWindow{
		store:  store,
		config: config,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(fw)
	}
	fw.log = fw.log.With(logger.Component("ratelimiter"))
	return fw, nil
}

func (fw *FixedWindow) Allow(ctx context.Context, key string) (*Result, error) {
	count, resetAt, err := fw.store.Increment(ctx, key, fw.config.Window)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fw.log.WarnContext(ctx, "rate limit bypassed, store unavailable",
			slog.String("key", key), logger.Error(err))
		return &Result{
			Limit:     fw.config.Limit,
			Remaining: fw.config.Limit,
			Bypassed:  true,
		}, nil
	}

	return &Result{
		Limit:     fw.config.Limit,
		Remaining: fw.config.Limit - int(count),
		ResetAt:   resetAt,
	}, nil
}

func (fw *FixedWindow) Reset(ctx context.Context, key string) error {
	return fw.store.Reset(ctx, key)
}

func (c Config) validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidConfig, c.Limit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %v", ErrInvalidConfig, c.Window)
	}
	return nil
}
