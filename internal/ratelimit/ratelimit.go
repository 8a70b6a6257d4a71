// Package ratelimit provides the process-wide gate in front of the external
// catalog API.
//
// A Limiter grants at most one permit per interval. Waiters are served in the
// order they called Wait. Build one Limiter per configured rate at startup
// and pass it to every client that shares the ceiling.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces permits at least interval apart. The spacing applies to
// the scheduled grant times: a waiter that wakes late still holds its slot,
// so the gap observed between it and the next waiter can be shorter.
type Limiter struct {
	lim      *rate.Limiter
	interval time.Duration
}

// New returns a limiter granting one permit per interval. The first permit
// is immediate. A non-positive interval disables limiting.
func New(interval time.Duration) *Limiter {
	if interval <= 0 {
		return &Limiter{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{lim: rate.NewLimiter(rate.Every(interval), 1), interval: interval}
}

// PerMinute returns a limiter for n requests per minute.
func PerMinute(n int) *Limiter {
	if n <= 0 {
		return New(0)
	}
	return New(time.Minute / time.Duration(n))
}

// Interval is the minimum spacing between permits.
func (l *Limiter) Interval() time.Duration { return l.interval }

// Wait blocks until a permit is available or ctx is done. A permit reserved
// by a cancelled waiter is returned to the limiter.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.lim.Wait(ctx)
}
