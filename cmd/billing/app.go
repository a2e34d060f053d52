package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/egglogu/billing/modules/billing"
	"github.com/egglogu/billing/pkg/auth"
	"github.com/egglogu/billing/pkg/httpserver"
	"github.com/egglogu/billing/pkg/logger"
	"github.com/egglogu/billing/pkg/pg"
	"github.com/egglogu/billing/pkg/queue"
	"github.com/egglogu/billing/pkg/ratelimiter"
	"github.com/egglogu/billing/pkg/redis"
	"github.com/egglogu/billing/pkg/requestid"
	"github.com/egglogu/billing/pkg/subscription"
)

const (
	healthTimeout   = 3 * time.Second
	pruneJobTimeout = 2 * time.Minute
)

// app is the wired service graph shared by serve and the operator commands.
type app struct {
	cfg settings
	log *slog.Logger

	pool     *pgxpool.Pool
	rdb      *goredis.Client
	registry *prometheus.Registry

	tasks      *queue.PGStorage
	syncer     *subscription.DiscountSyncer
	service    *subscription.Service
	reconciler *subscription.Reconciler
	verifier   *auth.Verifier
	limiter    ratelimiter.RateLimiter
}

func newApp(ctx context.Context, cfg settings, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	catalog, err := loadCatalog(cfg.billing.CatalogPath)
	if err != nil {
		return nil, err
	}
	prices, err := subscription.NewPriceTable(catalog, cfg.stripe.PriceIDs)
	if err != nil {
		return nil, fmt.Errorf("stripe price table: %w", err)
	}
	verifier, err := auth.NewVerifier(cfg.auth)
	if err != nil {
		return nil, fmt.Errorf("jwt verifier: %w", err)
	}
	a.verifier = verifier

	if a.pool, err = pg.Connect(ctx, cfg.pg); err != nil {
		return nil, err
	}
	if a.rdb, err = redis.Connect(ctx, cfg.redis); err != nil {
		a.pool.Close()
		return nil, err
	}

	limiter, err := ratelimiter.New(
		ratelimiter.NewRedisStore(a.rdb, cfg.limiter.Prefix),
		cfg.limiter,
		ratelimiter.WithLogger(log),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	a.limiter = limiter

	a.tasks = queue.NewPGStorage(a.pool)
	enqueuer, err := queue.NewEnqueuer(a.tasks, queue.WithDefaultMaxRetries(cfg.queue.MaxRetries))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("task enqueuer: %w", err)
	}

	metrics := subscription.NewMetrics(a.registry)
	store := subscription.NewCachedStore(subscription.NewPGStore(a.pool), a.rdb, cfg.billing.CacheTTL, log)
	provider := subscription.NewStripeProvider(
		subscription.NewStripeClient(cfg.stripe.SecretKey),
		cfg.stripe.WebhookSecret,
		prices,
		cfg.stripe.CouponCacheTTL,
	)

	a.syncer = subscription.NewDiscountSyncer(provider, store, enqueuer,
		subscription.WithSyncTimeout(cfg.billing.DiscountSyncTimeout),
		subscription.WithSyncerMetrics(metrics),
		subscription.WithSyncerLogger(log),
	)
	a.service = subscription.NewService(store, provider, catalog,
		subscription.WithFrontendURL(cfg.billing.FrontendURL),
		subscription.WithDiscountSyncer(a.syncer),
		subscription.WithServiceMetrics(metrics),
		subscription.WithServiceLogger(log),
	)
	a.reconciler = subscription.NewReconciler(provider, store, catalog, a.syncer,
		subscription.WithReconcilerMetrics(metrics),
		subscription.WithReconcilerLogger(log),
	)

	return a, nil
}

func loadCatalog(path string) (*subscription.Catalog, error) {
	if path == "" {
		return subscription.DefaultCatalog(), nil
	}
	c, err := subscription.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return c, nil
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware(), middleware.RealIP, middleware.Recoverer)

	r.Get("/health", httpserver.HealthCheckHandler(a.log, healthTimeout,
		httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(a.pool)},
		httpserver.Check{Name: "redis", Fn: redis.Healthcheck(a.rdb)},
	))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	r.Mount("/billing", billing.Router(billing.RouterOptions{
		Service:         a.service,
		Webhooks:        a.reconciler,
		Verifier:        a.verifier,
		Limiter:         a.limiter,
		Logger:          a.log,
		MaxWebhookBytes: a.cfg.app.MaxWebhookBytes,
	}))
	return r
}

func (a *app) worker() (*queue.Worker, error) {
	w, err := queue.NewWorker(a.tasks,
		queue.WithPullInterval(a.cfg.queue.PollInterval),
		queue.WithLockTimeout(a.cfg.queue.LockTimeout),
		queue.WithMaxConcurrentTasks(a.cfg.queue.MaxConcurrentTasks),
		queue.WithBackoff(a.cfg.queue.Backoff()),
		queue.WithWorkerLogger(a.log),
	)
	if err != nil {
		return nil, fmt.Errorf("task worker: %w", err)
	}
	if err := w.RegisterHandlers(queue.NewTaskHandler(a.syncer.HandleTask)); err != nil {
		return nil, fmt.Errorf("register task handlers: %w", err)
	}
	return w, nil
}

// scheduler returns a stopped cron with the billing sweeps and the task
// table cleanup registered.
func (a *app) scheduler() (*cron.Cron, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(slog.NewLogLogger(a.log.Handler(), slog.LevelError))),
	))
	if err := subscription.RegisterJobs(c, a.service, a.cfg.billing, a.log); err != nil {
		return nil, err
	}
	if spec := a.cfg.queue.PruneSchedule; spec != "" {
		if _, err := c.AddFunc(spec, a.pruneTasks); err != nil {
			return nil, fmt.Errorf("schedule prune_tasks (%q): %w", spec, err)
		}
	}
	return c, nil
}

func (a *app) pruneTasks() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneJobTimeout)
	defer cancel()

	n, err := a.tasks.PruneCompleted(ctx, time.Now().Add(-a.cfg.queue.CompletedRetention))
	if err != nil {
		a.log.ErrorContext(ctx, "prune completed tasks", logger.Error(err))
		return
	}
	a.log.DebugContext(ctx, "pruned completed tasks", slog.Int64("affected", n))
}

func (a *app) Close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn("close redis", logger.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
