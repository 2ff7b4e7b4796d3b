// Package ratelimit gates all outbound CRM API calls behind one shared
// token bucket so the worker pool and the polling scheduler together respect
// a single upstream quota.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket with capacity burst and a refill rate derived
// from perMinute. Wait blocks only the calling goroutine.
type Limiter struct {
	bucket *rate.Limiter
}

func New(perMinute, burst int) *Limiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst),
	}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}

// Allow reports whether a token is available right now, without blocking.
func (l *Limiter) Allow() bool {
	return l.bucket.Allow()
}

// Backoff computes capped exponential delays for throttled calls: Base,
// 2*Base, 4*Base, ... for MaxAttempts retries. It sleeps only the caller,
// never other holders of the shared Limiter.
type Backoff struct {
	Base        time.Duration
	MaxAttempts int
}

// DefaultBackoff matches the upstream API's throttling guidance.
var DefaultBackoff = Backoff{Base: time.Second, MaxAttempts: 3}

// Delay returns the delay before retry number attempt (starting at 1).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return b.Base << (attempt - 1)
}

// Sleep waits out the delay for the given retry attempt, honoring ctx.
func (b Backoff) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(b.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
