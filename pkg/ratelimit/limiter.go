// Package ratelimit is a sliding-window rate limiter whose state lives in a
// store shared by every gateway instance.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/Skotchmaster/tunehub/pkg/logging"
	"github.com/Skotchmaster/tunehub/pkg/metrics"
)

const KeyPrefix = "rate_limit"

// Usage is what a store reports after recording one request.
type Usage struct {
	// Count of markers in the window, including the one just recorded.
	Count int64
	// RetryAfter is how long until a new request would be admitted. Zero
	// while the window still has room.
	RetryAfter time.Duration
}

// Store records a request marker for key. Pruning markers older than window,
// counting, inserting and refreshing the key expiry must happen as one atomic
// operation in the store.
type Store interface {
	Record(ctx context.Context, key string, limit int, window time.Duration) (Usage, error)
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	// FailedOpen is set when the store could not be reached and the request
	// was admitted without being counted.
	FailedOpen bool
}

type Limiter struct {
	store   Store
	timeout time.Duration
}

type Option func(*Limiter)

// WithTimeout bounds every store round trip.
func WithTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.timeout = d
		}
	}
}

func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{store: store, timeout: 200 * time.Millisecond}
	for _, o := range opts {
		o(l)
	}
	return l
}

func Key(resource, id string) string {
	return KeyPrefix + ":" + resource + ":" + id
}

// Allow records one request against key and admits it iff the window holds
// no more than limit markers afterwards. When the store fails the request is
// admitted and the failure is logged.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Result {
	if limit <= 0 || window <= 0 {
		return Result{Allowed: false, Limit: limit, RetryAfter: window}
	}

	// accounting is not rolled back when the caller goes away
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	usage, err := l.store.Record(sctx, key, limit, window)
	if err != nil {
		reason := "store_error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "store_timeout"
		}
		logging.FromContext(ctx).Warn("rate_limit_fail_open", "key", key, "reason", reason, "error", err)
		return Result{Allowed: true, Limit: limit, Remaining: limit, FailedOpen: true}
	}

	res := Result{
		Allowed: usage.Count <= int64(limit),
		Limit:   limit,
	}
	if rem := int64(limit) - usage.Count; rem > 0 {
		res.Remaining = int(rem)
	}
	if !res.Allowed {
		res.RetryAfter = usage.RetryAfter
		if res.RetryAfter <= 0 {
			res.RetryAfter = window
		}
	}
	return res
}

// AllowResource checks id against a named resource rule and records the
// decision in metrics.
func (l *Limiter) AllowResource(ctx context.Context, resource, id string, rule Rule) Result {
	res := l.Allow(ctx, Key(resource, id), rule.Limit, rule.Window)
	outcome := "allowed"
	switch {
	case res.FailedOpen:
		outcome = "fail_open"
	case !res.Allowed:
		outcome = "rejected"
	}
	metrics.RateLimitDecisions.WithLabelValues(resource, outcome).Inc()
	return res
}
