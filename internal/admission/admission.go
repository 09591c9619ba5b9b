// Package admission decides whether a request may proceed before any job
// exists. Rate limiting is per (identity, class) over fixed windows; denial
// is a first-class value, never an error. Queue-capacity backpressure is
// separate and lives in the job store's admission ceiling.
package admission

import (
	"context"
	"time"
)

// Class separates cheap read-ish traffic from expensive job creation.
type Class string

const (
	ClassRead  Class = "read"
	ClassWrite Class = "write"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// CounterStore increments the rolling counter for a key and reports the new
// count plus the time left in the current window.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)
}

type ClassLimit struct {
	Limit  int64
	Window time.Duration
}

type Limiter struct {
	counters CounterStore
	limits   map[Class]ClassLimit
}

func NewLimiter(counters CounterStore, read, write ClassLimit) *Limiter {
	return &Limiter{
		counters: counters,
		limits: map[Class]ClassLimit{
			ClassRead:  read,
			ClassWrite: write,
		},
	}
}

// Check increments the counter for (identity, class) and compares it to the
// class threshold. Over the threshold the decision carries the seconds
// until the window resets. An error means the backing store is down, not
// that the request was denied; the caller decides fail-open vs fail-closed.
func (l *Limiter) Check(ctx context.Context, identity string, class Class) (Decision, error) {
	limit, ok := l.limits[class]
	if !ok || limit.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	count, remaining, err := l.counters.Incr(ctx, string(class)+":"+identity, limit.Window)
	if err != nil {
		return Decision{}, err
	}
	if count > limit.Limit {
		if remaining <= 0 {
			remaining = time.Second
		}
		return Decision{RetryAfter: remaining}, nil
	}
	return Decision{Allowed: true}, nil
}
