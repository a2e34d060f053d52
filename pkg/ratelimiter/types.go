package ratelimiter

import "time"

// Result contains the result of a rate limit check.
type Result struct {
	Limit     int       // requests allowed per window
	Remaining int       // requests left in the window; negative once exceeded
	ResetAt   time.Time // when the current window ends
	Bypassed  bool      // the store failed and the request was let through
}

// Allowed returns whether the request may proceed.
func (r *Result) Allowed() bool {
	return r.Bypassed || r.Remaining >= 0
}

// RetryAfter returns how long to wait before the next request.
// Returns 0 if the request was allowed.
func (r *Result) RetryAfter() time.Duration {
	if r.Allowed() {
		return 0
	}
	return max(0, time.Until(r.ResetAt))
}

// Config defines a fixed window.
type Config struct {
	Limit  int           `env:"RATE_LIMIT_REQUESTS" envDefault:"20"`
	Window time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	Prefix string        `env:"RATE_LIMIT_PREFIX" envDefault:"rl:"`
}
