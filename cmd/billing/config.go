package main

import (
	"errors"
	"log/slog"

	"github.com/egglogu/billing/pkg/auth"
	"github.com/egglogu/billing/pkg/config"
	"github.com/egglogu/billing/pkg/httpserver"
	"github.com/egglogu/billing/pkg/logger"
	"github.com/egglogu/billing/pkg/pg"
	"github.com/egglogu/billing/pkg/queue"
	"github.com/egglogu/billing/pkg/ratelimiter"
	"github.com/egglogu/billing/pkg/redis"
	"github.com/egglogu/billing/pkg/requestid"
	"github.com/egglogu/billing/pkg/subscription"
)

type appConfig struct {
	Env             string `env:"APP_ENV" envDefault:"development"`
	LogLevel        string `env:"LOG_LEVEL"`
	MaxWebhookBytes int64  `env:"BILLING_WEBHOOK_MAX_BYTES" envDefault:"262144"`
}

// settings gathers every package config the service needs.
type settings struct {
	app     appConfig
	pg      pg.Config
	redis   redis.Config
	http    httpserver.Config
	auth    auth.Config
	limiter ratelimiter.Config
	queue   queue.Config
	billing subscription.Config
	stripe  subscription.StripeConfig
}

func loadSettings() (settings, error) {
	var s settings
	err := errors.Join(
		config.Load(&s.app),
		config.Load(&s.pg),
		config.Load(&s.redis),
		config.Load(&s.http),
		config.Load(&s.auth),
		config.Load(&s.limiter),
		config.Load(&s.queue),
		config.Load(&s.billing),
		config.Load(&s.stripe),
	)
	return s, err
}

func newLogger(cfg appConfig) *slog.Logger {
	opts := []logger.Option{
		logger.WithEnvironment(cfg.Env, "billing"),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	}
	if cfg.LogLevel != "" {
		opts = append(opts, logger.WithLevel(logger.ParseLevel(cfg.LogLevel)))
	}
	return logger.New(opts...)
}
