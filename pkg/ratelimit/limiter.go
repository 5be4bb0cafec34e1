// Package ratelimit implements sliding-window rate limiting keyed by
// (client, limit class), backed by a store with one atomic window
// operation. The production store is Redis; an in-memory store covers
// single-process deployments and tests.
package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Limit is a (request count, window) pair for one class of routes.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Default limit classes. Numeric limits are configuration, not algorithm:
// any (requests, window) pair works per class.
const (
	ClassLogin           = "auth:login"
	ClassRegister        = "auth:register"
	ClassPasswordReset   = "auth:password_reset"
	ClassAuthenticated   = "api:authenticated"
	ClassUnauthenticated = "api:unauthenticated"
	ClassEmergency       = "emergency:access"
	ClassAdmin           = "admin:operations"
)

// DefaultLimits returns the stock per-class budgets. Login and credential
// endpoints are strict (brute-force), general API traffic is generous, and
// the emergency class exists so a clinician handling an emergency is never
// throttled below working speed.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		ClassLogin:           {Requests: 5, Window: 5 * time.Minute},
		ClassRegister:        {Requests: 3, Window: time.Hour},
		ClassPasswordReset:   {Requests: 3, Window: time.Hour},
		ClassAuthenticated:   {Requests: 1000, Window: time.Hour},
		ClassUnauthenticated: {Requests: 100, Window: time.Hour},
		ClassEmergency:       {Requests: 2000, Window: time.Hour},
		ClassAdmin:           {Requests: 500, Window: time.Hour},
	}
}

// Store is the atomic counter backend. Add must perform the whole
// prune-count-insert sequence atomically with respect to concurrent calls
// on the same key: a non-atomic check-then-insert lets two boundary
// requests both slip under the limit.
type Store interface {
	// Add prunes entries older than now-window, counts the remainder,
	// and inserts now if the count is below limit. It returns the count
	// AFTER the call and whether the request was admitted. The key
	// expires windowed so idle keys clean themselves up.
	Add(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (count int, allowed bool, err error)
}

// Result is the outcome of one rate-limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration // only meaningful when !Allowed, always >= 1s
}

// Limiter applies per-class sliding-window limits.
type Limiter struct {
	store  Store
	limits map[string]Limit
	logger *slog.Logger
}

// New builds a Limiter over the given store. Nil limits means
// DefaultLimits.
func New(store Store, limits map[string]Limit, logger *slog.Logger) *Limiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, limits: limits, logger: logger}
}

// Check records one request for (clientKey, class) and reports whether it is
// admitted. Unknown classes are unlimited.
//
// Fail-open: if the backing store is unreachable the request is allowed.
// Availability of the medical record system outweighs strict rate
// enforcement during an infrastructure failure; the degradation is logged
// so it is visible, not silent.
func (l *Limiter) Check(ctx context.Context, clientKey, class string) Result {
	limit, ok := l.limits[class]
	if !ok {
		return Result{Allowed: true}
	}

	now := time.Now()
	key := "rate_limit:" + clientKey + ":" + class

	count, allowed, err := l.store.Add(ctx, key, now, limit.Window, limit.Requests)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, failing open",
			"class", class, "err", err)
		return Result{Allowed: true, Limit: limit.Requests}
	}

	reset := now.Add(limit.Window)
	res := Result{
		Allowed:   allowed,
		Limit:     limit.Requests,
		Remaining: max(0, limit.Requests-count),
		Reset:     reset,
	}
	if !allowed {
		res.RetryAfter = max(time.Until(reset), time.Second)
	}
	return res
}
