// Package ratelimiter provides fixed-window rate limiting with Redis and
// in-memory stores and an HTTP middleware.
//
// Each key gets a counter that starts at the first request of a window and
// expires when the window ends. Requests beyond Config.Limit inside one
// window are denied until the counter expires.
//
// # Basic Usage
//
//	store := ratelimiter.NewRedisStore(redisClient, "rl:")
//	limiter, err := ratelimiter.New(store, ratelimiter.Config{
//		Limit:  20,
//		Window: time.Minute,
//	}, ratelimiter.WithLogger(log))
//	if err != nil {
//		return err
//	}
//
//	result, err := limiter.Allow(ctx, "checkout:"+orgID.String())
//	if err != nil {
//		return err
//	}
//	if !result.Allowed() {
//		// retry after result.RetryAfter()
//	}
//
// # Failing Open
//
// When the store cannot be reached the limiter lets the request through,
// logs a warning and marks the result as Bypassed. An outage of the limiter
// backend never takes the API down with it.
//
// # HTTP Middleware
//
//	r.With(ratelimiter.Middleware(limiter, keyFunc)).Post("/checkout", h)
//
// The middleware sets X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset on every limited response, plus Retry-After when the
// request is denied. Requests whose key function returns "" are not limited.
// Use WithDeniedHandler to render the 429 body.
package ratelimiter
