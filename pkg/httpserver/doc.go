// Package httpserver wraps net/http with context-driven graceful shutdown
// and a JSON health check handler.
//
// Run binds the listener, serves until its context is cancelled and then
// drains in-flight requests for up to the shutdown timeout. Signal handling
// belongs to the caller, typically signal.NotifyContext in main:
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		return err
//	}
//
// HealthCheckHandler serves liveness without checks and readiness with them:
//
//	r.Get("/health", httpserver.HealthCheckHandler(log, 2*time.Second,
//		httpserver.Check{Name: "postgres", Fn: pool.Ping},
//		httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)},
//	))
//
// Listen and serve failures are wrapped in ErrStart, shutdown failures in
// ErrShutdown.
package httpserver
