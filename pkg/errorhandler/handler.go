// Package errorhandler classifies errors, decides whether and how to retry,
// records a bounded history, and drives each service's circuit breaker
// (spec.md §4.3, §7).
//
// The category/severity taxonomy and the retry-with-backoff loop follow
// original_source/feed_processor/error_handling.py's ErrorHandler; the
// bounded, sanitized history record follows the teacher's
// pkg/errors.ErrorBody (sanitize-then-bound, never let raw error text
// escape uncapped).
package errorhandler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"sync"
	"time"

	"github.com/Ap3pp3rs94/streamline/pkg/breaker"
	"github.com/Ap3pp3rs94/streamline/pkg/model"
	"github.com/Ap3pp3rs94/streamline/pkg/telemetry"
)

const (
	DefaultMaxHistory = 100
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultMaxDelay   = 60 * time.Second
)

// ErrCircuitOpen is raised when a service's breaker refuses a call.
type ErrCircuitOpen struct {
	Service string
}

func (e ErrCircuitOpen) Error() string {
	return fmt.Sprintf("errorhandler: circuit open for service %q", e.Service)
}

// ServiceConfig is the per-service breaker + retry configuration
// (spec.md §4.3, "Service configs").
type ServiceConfig struct {
	FailureThreshold     int
	ResetTimeout         time.Duration
	MaxRetriesByCategory map[model.Category]int
}

// Clock abstracts time for deterministic backoff tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
func (systemClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Options configures a Handler.
type Options struct {
	MaxHistory int
	Logger     *telemetry.Logger
	Meter      telemetry.Meter
	Clock      Clock
	NotifyTeam func(model.ErrorContext) // Critical-severity hook
	// RandSource, when set, replaces crypto/rand for jitter (tests only).
	RandSource func(n int64) int64
}

// Handler owns per-service breakers, service configs, a bounded history
// ring, and category counters (spec.md §4.3).
type Handler struct {
	mu sync.Mutex

	breakers map[string]*breaker.Breaker
	configs  map[string]ServiceConfig

	history    []model.ErrorContext
	maxHistory int
	counts     map[model.Category]int64

	logger     *telemetry.Logger
	meter      telemetry.Meter
	clock      Clock
	notifyTeam func(model.ErrorContext)
	randN      func(n int64) int64

	idSeq int64
}

var redactPattern = regexp.MustCompile(`(?i)(api_key|token|password)\s*=\s*\S+`)

// Redact replaces `api_key=...`, `token=...`, `password=...` substrings with
// a `[REDACTED]` value, keeping the field name (spec.md §7).
func Redact(s string) string {
	return redactPattern.ReplaceAllString(s, "$1=[REDACTED]")
}

// New creates a Handler.
func New(opts Options) *Handler {
	maxHistory := opts.MaxHistory
	if maxHistory < 1 {
		maxHistory = DefaultMaxHistory
	}
	clk := opts.Clock
	if clk == nil {
		clk = systemClock{}
	}
	randN := opts.RandSource
	if randN == nil {
		randN = cryptoRandN
	}
	return &Handler{
		breakers:   make(map[string]*breaker.Breaker),
		configs:    make(map[string]ServiceConfig),
		maxHistory: maxHistory,
		counts:     make(map[model.Category]int64),
		logger:     opts.Logger,
		meter:      opts.Meter,
		clock:      clk,
		notifyTeam: opts.NotifyTeam,
		randN:      randN,
	}
}

func cryptoRandN(n int64) int64 {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0
	}
	return v.Int64()
}

// Configure registers (or replaces) a service's breaker + retry policy.
func (h *Handler) Configure(service string, cfg ServiceConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.configs[service] = cfg
	h.breakers[service] = breaker.New(breaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
	})
}

func (h *Handler) breakerFor(service string) *breaker.Breaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.breakers[service]
	if !ok {
		b = breaker.New(breaker.Config{FailureThreshold: 5, ResetTimeout: 30 * time.Second})
		h.breakers[service] = b
	}
	return b
}

func (h *Handler) maxRetries(service string, category model.Category) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	cfg, ok := h.configs[service]
	if !ok {
		return 0
	}
	return cfg.MaxRetriesByCategory[category]
}

// MaxRetriesFor reports the service's configured retry count for category
// and whether that count was explicitly configured. Callers that drive
// their own retry loop (e.g. the Webhook Deliverer) use this to decide
// whether a per-category policy overrides a locally configured default:
// spec.md §9 treats max_retries_by_category as authoritative whenever it
// is present.
func (h *Handler) MaxRetriesFor(service string, category model.Category) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cfg, ok := h.configs[service]
	if !ok {
		return 0, false
	}
	n, ok := cfg.MaxRetriesByCategory[category]
	return n, ok
}

func (h *Handler) nextID(now time.Time) string {
	h.idSeq++
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%d-%s", now.UnixNano(), hex.EncodeToString(suffix))
}

func (h *Handler) record(ec model.ErrorContext) {
	h.mu.Lock()
	h.counts[ec.Category]++
	h.history = append(h.history, ec)
	if len(h.history) > h.maxHistory {
		h.history = h.history[len(h.history)-h.maxHistory:]
	}
	h.mu.Unlock()

	_ = telemetry.IncCounter(h.meter, context.Background(), "errors_total", 1, telemetry.Labels{
		"category": string(ec.Category),
	})
}

// observeBreakerState publishes a service's current breaker state
// (spec.md §6's circuit_breaker_state{service}) as a gauge: 0 closed, 1
// open, 2 half-open, matching breaker.State's iota order.
func (h *Handler) observeBreakerState(service string, state breaker.State) {
	_ = telemetry.SetGauge(h.meter, context.Background(), "circuit_breaker_state", float64(state), telemetry.Labels{
		"service": service,
	})
}

// dropLast removes the most recently appended history entry (used when a
// circuit-open rejection must not count as a fresh error per spec.md §4.3
// step 4).
func (h *Handler) dropLast() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.history) == 0 {
		return
	}
	last := h.history[len(h.history)-1]
	h.counts[last.Category]--
	h.history = h.history[:len(h.history)-1]
}

func (h *Handler) logSeverity(ec model.ErrorContext) {
	if h.logger == nil {
		return
	}
	ctx := context.Background()
	fields := map[string]any{
		"error_id": ec.ID,
		"category": string(ec.Category),
		"severity": string(ec.Severity),
		"service":  ec.Service,
		"message":  ec.RedactedMessage,
		"attempt":  ec.RetryCount,
	}
	switch ec.Severity {
	case model.SeverityCritical:
		h.logger.Error(ctx, "error_handled_critical", fields)
		if h.notifyTeam != nil {
			h.notifyTeam(ec)
		}
	case model.SeverityHigh:
		h.logger.Error(ctx, "error_handled", fields)
	case model.SeverityMedium:
		h.logger.Warn(ctx, "error_handled", fields)
	default:
		h.logger.Info(ctx, "error_handled", fields)
	}
}

// backoff computes a jittered delay: uniform(0, min(base*2^attempt, maxDelay)).
func backoff(base, maxDelay time.Duration, attempt int, randN func(int64) int64) time.Duration {
	shift := attempt
	if shift > 20 {
		shift = 20
	}
	ceiling := time.Duration(float64(base) * float64(int64(1)<<uint(shift)))
	if ceiling > maxDelay || ceiling <= 0 {
		ceiling = maxDelay
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(randN(int64(ceiling)))
}

// CanProceed reports whether service's circuit breaker currently admits a
// call, without recording anything. Callers that own their own retry loop
// (e.g. the Webhook Deliverer) consult this before attempting a send.
func (h *Handler) CanProceed(service string) bool {
	return h.breakerFor(service).CanProceed()
}

// RecordSuccess notifies service's breaker of a successful call.
func (h *Handler) RecordSuccess(service string) {
	b := h.breakerFor(service)
	b.RecordSuccess()
	h.observeBreakerState(service, b.State())
}

// RecordFailure notifies service's breaker of a failed call and appends a
// history entry, without running any retry loop. Used by callers that drive
// their own retry/backoff (e.g. the Webhook Deliverer) but still want the
// Error Handler's history and circuit-breaker bookkeeping.
func (h *Handler) RecordFailure(service string, err error, category model.Category, severity model.Severity, details map[string]string) {
	now := h.clock.Now()
	ec := model.ErrorContext{
		ID:              h.nextID(now),
		Timestamp:       now,
		Category:        category,
		Severity:        severity,
		Service:         service,
		RedactedMessage: Redact(err.Error()),
		Details:         details,
		MaxRetries:      h.maxRetries(service, category),
	}
	h.record(ec)
	h.logSeverity(ec)
	b := h.breakerFor(service)
	b.RecordFailure()
	h.observeBreakerState(service, b.State())
}

// Handle implements spec.md §4.3's algorithm. retryFn may be nil, meaning the
// caller has no retriable operation: the breaker records a failure and the
// original error is returned as-is.
func Handle[T any](
	ctx context.Context,
	h *Handler,
	err error,
	category model.Category,
	severity model.Severity,
	service string,
	details map[string]string,
	retryFn func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	now := h.clock.Now()

	ec := model.ErrorContext{
		ID:              h.nextID(now),
		Timestamp:       now,
		Category:        category,
		Severity:        severity,
		Service:         service,
		RedactedMessage: Redact(err.Error()),
		Details:         details,
		MaxRetries:      h.maxRetries(service, category),
	}
	h.record(ec)
	h.logSeverity(ec)

	b := h.breakerFor(service)
	if !b.CanProceed() {
		h.dropLast()
		return zero, ErrCircuitOpen{Service: service}
	}

	if retryFn == nil {
		b.RecordFailure()
		h.observeBreakerState(service, b.State())
		return zero, err
	}

	maxRetries := h.maxRetries(service, category)
	var lastErr = err
	for attempt := 0; attempt < maxRetries; attempt++ {
		delay := backoff(DefaultBaseDelay, DefaultMaxDelay, attempt, h.randN)
		h.clock.Sleep(ctx, delay)
		if ctx.Err() != nil {
			b.RecordFailure()
			h.observeBreakerState(service, b.State())
			return zero, ctx.Err()
		}

		result, rerr := retryFn(ctx)
		if rerr == nil {
			b.RecordSuccess()
			h.observeBreakerState(service, b.State())
			return result, nil
		}
		lastErr = rerr
		ec.RetryCount = attempt + 1
		h.record(model.ErrorContext{
			ID:              h.nextID(h.clock.Now()),
			Timestamp:       h.clock.Now(),
			Category:        category,
			Severity:        severity,
			Service:         service,
			RedactedMessage: Redact(rerr.Error()),
			Details:         details,
			RetryCount:      ec.RetryCount,
			MaxRetries:      maxRetries,
		})
	}

	b.RecordFailure()
	h.observeBreakerState(service, b.State())
	return zero, lastErr
}

// Snapshot reports counts by category, current history size, and each
// breaker's state -- the metrics spec.md §4.3 asks the handler to expose.
type Snapshot struct {
	CountsByCategory map[model.Category]int64
	HistorySize      int
	BreakerStates    map[string]breaker.State
	History          []model.ErrorContext
}

func (h *Handler) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	counts := make(map[model.Category]int64, len(h.counts))
	for k, v := range h.counts {
		counts[k] = v
	}
	states := make(map[string]breaker.State, len(h.breakers))
	for svc, b := range h.breakers {
		states[svc] = b.State()
	}
	hist := make([]model.ErrorContext, len(h.history))
	copy(hist, h.history)
	return Snapshot{
		CountsByCategory: counts,
		HistorySize:      len(hist),
		BreakerStates:    states,
		History:          hist,
	}
}

// Reset clears history and counters (administrative, mirrors the Python
// ErrorHandler.clear_history()). Breakers are left untouched.
func (h *Handler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = nil
	h.counts = make(map[model.Category]int64)
}

// ErrorsOfService reports whether service is known to the handler.
func (h *Handler) ErrorsOfService(service string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.configs[service]
	return ok
}
