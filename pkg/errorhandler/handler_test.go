package errorhandler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ap3pp3rs94/streamline/pkg/model"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) {
	c.now = c.now.Add(d)
}

// Property 11 (spec.md §8): redacted output never contains the secret value.
func TestRedactStripsSensitiveValues(t *testing.T) {
	cases := []string{
		"request failed: api_key=SECRET123 rejected",
		"auth error token=abcDEF456 expired",
		"login failed password=hunter2hunter",
	}
	for _, in := range cases {
		out := Redact(in)
		if containsSecret(out) {
			t.Fatalf("expected secret stripped from %q, got %q", in, out)
		}
		if !containsRedactedMarker(out) {
			t.Fatalf("expected [REDACTED] marker in %q", out)
		}
	}
}

func containsSecret(s string) bool {
	for _, needle := range []string{"SECRET123", "abcDEF456", "hunter2hunter"} {
		if contains(s, needle) {
			return true
		}
	}
	return false
}

func containsRedactedMarker(s string) bool { return contains(s, "[REDACTED]") }

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestHandleSucceedsOnFirstRetryAttempt(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	h := New(Options{Clock: clk, RandSource: func(n int64) int64 { return 0 }})
	h.Configure("source-client", ServiceConfig{
		FailureThreshold:     3,
		ResetTimeout:         time.Second,
		MaxRetriesByCategory: map[model.Category]int{model.CategoryNetwork: 3},
	})

	calls := 0
	result, err := Handle(context.Background(), h, errors.New("dial failed"), model.CategoryNetwork, model.SeverityMedium, "source-client", nil,
		func(ctx context.Context) (string, error) {
			calls++
			return "ok", nil
		})
	if err != nil || result != "ok" {
		t.Fatalf("expected success, got result=%q err=%v", result, err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one retry attempt, got %d", calls)
	}
}

func TestHandleExhaustsRetriesThenReturnsLastError(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	h := New(Options{Clock: clk, RandSource: func(n int64) int64 { return 0 }})
	h.Configure("source-client", ServiceConfig{
		FailureThreshold:     10,
		ResetTimeout:         time.Second,
		MaxRetriesByCategory: map[model.Category]int{model.CategoryNetwork: 2},
	})

	calls := 0
	_, err := Handle(context.Background(), h, errors.New("dial failed"), model.CategoryNetwork, model.SeverityMedium, "source-client", nil,
		func(ctx context.Context) (string, error) {
			calls++
			return "", errors.New("still failing")
		})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if calls != 2 {
		t.Fatalf("expected exactly MaxRetriesByCategory=2 attempts, got %d", calls)
	}
}

func TestHandleRejectsWhenCircuitOpen(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	h := New(Options{Clock: clk, RandSource: func(n int64) int64 { return 0 }})
	h.Configure("webhook", ServiceConfig{
		FailureThreshold:     1,
		ResetTimeout:         time.Hour,
		MaxRetriesByCategory: map[model.Category]int{model.CategoryDelivery: 0},
	})

	// First call: no retryFn, records a breaker failure and opens it.
	_, err := Handle[string](context.Background(), h, errors.New("boom"), model.CategoryDelivery, model.SeverityHigh, "webhook", nil, nil)
	if err == nil {
		t.Fatalf("expected first call to return the original error")
	}

	_, err = Handle(context.Background(), h, errors.New("boom again"), model.CategoryDelivery, model.SeverityHigh, "webhook", nil,
		func(ctx context.Context) (string, error) { return "unreachable", nil })
	var openErr ErrCircuitOpen
	if !errors.As(err, &openErr) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestSnapshotTracksCountsAndBoundedHistory(t *testing.T) {
	h := New(Options{MaxHistory: 2, RandSource: func(n int64) int64 { return 0 }})
	h.Configure("svc", ServiceConfig{FailureThreshold: 100, ResetTimeout: time.Second})

	for i := 0; i < 5; i++ {
		Handle[string](context.Background(), h, errors.New("e"), model.CategoryAPI, model.SeverityLow, "svc", nil, nil)
	}

	snap := h.Snapshot()
	if snap.HistorySize != 2 {
		t.Fatalf("expected history bounded to 2, got %d", snap.HistorySize)
	}
	if snap.CountsByCategory[model.CategoryAPI] != 5 {
		t.Fatalf("expected category count 5 despite bounded history, got %d", snap.CountsByCategory[model.CategoryAPI])
	}
}
