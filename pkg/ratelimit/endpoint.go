package ratelimit

import "sync"

// EndpointLimiter holds one Limiter per endpoint key, created lazily from a
// default config on first use (spec.md §4.1, "Multi-endpoint variant").
// Writes to the map are serialized by a single mutex; once a Limiter exists,
// callers can Acquire/Wait on it without touching the map lock again.
type EndpointLimiter struct {
	mu       sync.Mutex
	defaults Config
	limiters map[string]*Limiter
}

// NewEndpointLimiter creates an EndpointLimiter; defaults configures every
// per-endpoint bucket created on first use.
func NewEndpointLimiter(defaults Config) *EndpointLimiter {
	return &EndpointLimiter{
		defaults: defaults,
		limiters: make(map[string]*Limiter),
	}
}

// For returns the Limiter for key, creating it from the default config if
// this is the first time key has been seen.
func (e *EndpointLimiter) For(key string) *Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[key]
	if !ok {
		l = New(e.defaults)
		e.limiters[key] = l
	}
	return l
}
