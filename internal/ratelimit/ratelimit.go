// Package ratelimit throttles outbound notification sends so a
// misbehaving chain of events (each emitting notify_email) cannot
// flood the configured SMTP relay.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter bounds the rate of outbound SMTP sends.
type Limiter struct {
	limiter *rate.Limiter
	mu      sync.RWMutex
}

// New creates a Limiter. perSecond is the steady-state send rate (0 =
// unlimited); burst is the maximum immediate burst, defaulting to
// perSecond when non-positive.
func New(perSecond int, burst int) *Limiter {
	if perSecond <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = perSecond
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a send is permitted or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.RLock()
	limiter := l.limiter
	l.mu.RUnlock()
	return limiter.Wait(ctx)
}

// Allow reports whether a send is permitted right now, without blocking.
func (l *Limiter) Allow() bool {
	l.mu.RLock()
	limiter := l.limiter
	l.mu.RUnlock()
	return limiter.Allow()
}

// SetRate updates the limiter's steady-state rate and burst size.
func (l *Limiter) SetRate(perSecond int, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if perSecond <= 0 {
		l.limiter.SetLimit(rate.Inf)
		l.limiter.SetBurst(0)
		return
	}
	if burst <= 0 {
		burst = perSecond
	}
	l.limiter.SetLimit(rate.Limit(perSecond))
	l.limiter.SetBurst(burst)
}

// Current returns the limiter's current rate and burst settings.
func (l *Limiter) Current() (perSecond float64, burst int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return float64(l.limiter.Limit()), l.limiter.Burst()
}
