// Package breaker implements a per-service circuit breaker with
// closed/open/half-open states (spec.md §4.3).
//
// State transitions follow the teacher's original Python CircuitBreaker
// (original_source/feed_processor/error_handling.py): a closed breaker
// counts failures and opens at the threshold; an open breaker rejects calls
// until reset_timeout elapses, at which point the *next* can_proceed() call
// both returns true and flips the breaker to half-open; a half-open breaker
// closes on success or re-opens on failure.
package breaker

import (
	"sync"
	"time"
)

// Clock abstracts time so tests can control cooldown expiry deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// State is the externally observable breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	Clock            Clock // optional, defaults to wall-clock
}

// Breaker is a single per-service circuit breaker. All state transitions are
// guarded by one mutex (spec.md §5, "Shared resources and locking discipline").
type Breaker struct {
	mu               sync.Mutex
	failureThreshold int
	resetTimeout     time.Duration
	clock            Clock

	state        State
	failureCount int
	openedAt     time.Time
}

// New creates a Breaker, starting Closed.
func New(cfg Config) *Breaker {
	clk := cfg.Clock
	if clk == nil {
		clk = systemClock{}
	}
	threshold := cfg.FailureThreshold
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		failureThreshold: threshold,
		resetTimeout:     cfg.ResetTimeout,
		clock:            clk,
		state:            StateClosed,
	}
}

// CanProceed reports whether a call may proceed. A call at or after
// opened_at+reset_timeout on an Open breaker transitions it to HalfOpen and
// returns true (spec.md §4.3, property 9).
func (b *Breaker) CanProceed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) >= b.resetTimeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess transitions HalfOpen -> Closed and resets the failure count.
// A success recorded while Closed simply resets the counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.state = StateClosed
}

// RecordFailure increments the failure counter on Closed, opening the
// breaker once the threshold is reached; on HalfOpen it re-opens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.clock.Now()
		b.failureCount = 0
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.state = StateOpen
			b.openedAt = b.clock.Now()
			b.failureCount = 0
		}
	case StateOpen:
		// already open; refresh nothing, a failure mid-cooldown changes nothing.
	}
}

// State returns the breaker's current externally-observable state without
// evaluating cooldown expiry (use CanProceed for that).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to Closed with a zeroed failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.openedAt = time.Time{}
}
