package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps rate.Limiter with a name for logging/debugging.
type Limiter struct {
	limiter *rate.Limiter
	name    string
}

// New creates a new rate limiter with the given requests per second.
// The burst size equals the rate, allowing short bursts up to the rate limit.
func New(name string, requestsPerSecond int) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		name:    name,
	}
}

// Every creates a limiter that admits one request per interval with no burst.
// Use it for providers that want a fixed delay between calls.
func Every(name string, interval time.Duration) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		name:    name,
	}
}

// Wait blocks until the rate limiter allows a request to proceed.
// Returns an error if the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", l.name, err)
	}
	return nil
}

// Allow reports whether a request can proceed without blocking.
// Use this for non-blocking checks; prefer Wait for most cases.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Name returns the name of this rate limiter.
func (l *Limiter) Name() string {
	return l.name
}

var (
	sharedMu sync.Mutex
	shared   = map[string]*Limiter{}
)

// Shared returns the process-wide limiter for a provider, creating it with
// the given interval on first use. Later calls ignore interval.
func Shared(name string, interval time.Duration) *Limiter {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if l, ok := shared[name]; ok {
		return l
	}
	l := Every(name, interval)
	shared[name] = l
	return l
}

// ResetShared drops all process-wide limiters. Useful for testing.
func ResetShared() {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	shared = map[string]*Limiter{}
}
