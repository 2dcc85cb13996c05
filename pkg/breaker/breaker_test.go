package breaker

import (
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time   { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestOpensAfterThreshold(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := New(Config{FailureThreshold: 3, ResetTimeout: 2 * time.Second, Clock: clk})

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("expected still closed before threshold reached")
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after %d consecutive failures", 3)
	}
}

func TestHalfOpensAfterResetTimeout(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := New(Config{FailureThreshold: 3, ResetTimeout: 2 * time.Second, Clock: clk})
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	clk.advance(time.Second)
	if b.CanProceed() {
		t.Fatalf("expected can_proceed=false before reset_timeout elapses")
	}

	clk.advance(1100 * time.Millisecond) // now t=2.1s
	if !b.CanProceed() {
		t.Fatalf("expected can_proceed=true at/after reset_timeout")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open after the triggering can_proceed call")
	}
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := New(Config{FailureThreshold: 1, ResetTimeout: time.Second, Clock: clk})
	b.RecordFailure()
	clk.advance(2 * time.Second)
	b.CanProceed() // -> half open
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after success in half_open")
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := New(Config{FailureThreshold: 1, ResetTimeout: time.Second, Clock: clk})
	b.RecordFailure()
	clk.advance(2 * time.Second)
	b.CanProceed() // -> half open
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected re-opened after failure in half_open")
	}
}

// Scenario C from spec.md §8.
func TestScenarioC(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := New(Config{FailureThreshold: 3, ResetTimeout: 2 * time.Second, Clock: clk})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open at t=0")
	}

	clk.now = time.Unix(1, 0)
	if b.CanProceed() {
		t.Fatalf("expected can_proceed=false at t=1")
	}

	clk.now = time.Unix(2, 100_000_000)
	if !b.CanProceed() {
		t.Fatalf("expected can_proceed=true at t=2.1")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open at t=2.1")
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after success")
	}

	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open again after 3 more failures")
	}
}
