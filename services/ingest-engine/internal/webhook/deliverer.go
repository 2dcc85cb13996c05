// Package webhook implements the Webhook Deliverer (spec.md §4.6): batch
// validation, rate limiting, HMAC-signed delivery, response interpretation,
// and exponential backoff with circuit-breaker consultation through the
// error handler.
//
// The backoff schedule and HMAC-SHA256 request signing
// (X-Webhook-Signature) are grounded on other_examples' webhook-delivery-
// system-with-retry-queue (generateSignature/calculateBackoff); batch
// envelope shape and per-item validation rules follow spec.md §4.6
// directly.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Ap3pp3rs94/streamline/pkg/errorhandler"
	"github.com/Ap3pp3rs94/streamline/pkg/model"
	"github.com/Ap3pp3rs94/streamline/pkg/ratelimit"
	"github.com/Ap3pp3rs94/streamline/pkg/telemetry"
)

const ServiceName = "webhook-deliverer"

// ErrorKind classifies a terminal delivery failure.
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "Validation"
	ErrorKindClient     ErrorKind = "Client"
	ErrorKindTransient  ErrorKind = "Transient"
)

// DeliveryResponse is the Deliverer's return value (spec.md §4.6).
type DeliveryResponse struct {
	Success    bool
	StatusCode int
	RetryCount int
	ErrorKind  ErrorKind
	Duration   time.Duration
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

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Deliverer.
type Config struct {
	URL               string
	AuthToken         string
	SigningSecret     string // falls back to AuthToken when empty
	RatePerSecond     float64
	Burst             int
	MaxRetries        int
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	BackoffFactor     float64
	BatchSize         int
	Timeout           time.Duration

	HTTPClient   Doer
	Limiter      *ratelimit.Limiter
	ErrorHandler *errorhandler.Handler
	Logger       *telemetry.Logger
	Meter        telemetry.Meter
	Clock        Clock
}

// Deliverer posts DeliveryBatch envelopes to a configured webhook URL.
type Deliverer struct {
	url               string
	authToken         string
	signingSecret     string
	maxRetries        int
	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
	backoffFactor     float64
	batchSize         int
	timeout           time.Duration

	httpClient Doer
	limiter    *ratelimit.Limiter
	errHandler *errorhandler.Handler
	logger     *telemetry.Logger
	meter      telemetry.Meter
	clock      Clock
}

func defaultTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   3 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       60 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// New creates a Deliverer.
func New(cfg Config) *Deliverer {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: defaultTransport()}
	}
	limiter := cfg.Limiter
	if limiter == nil {
		rate := cfg.RatePerSecond
		if rate <= 0 {
			rate = 5
		}
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = ratelimit.New(ratelimit.Config{RatePerSecond: rate, Burst: burst})
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	initial := cfg.InitialRetryDelay
	if initial <= 0 {
		initial = time.Second
	}
	maxDelay := cfg.MaxRetryDelay
	if maxDelay <= 0 {
		maxDelay = 8 * time.Second
	}
	factor := cfg.BackoffFactor
	if factor <= 0 {
		factor = 2
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	signingSecret := cfg.SigningSecret
	if signingSecret == "" {
		signingSecret = cfg.AuthToken
	}
	clk := cfg.Clock
	if clk == nil {
		clk = systemClock{}
	}

	h := cfg.ErrorHandler
	if h == nil {
		// No shared handler: Config.MaxRetries governs retries for this
		// Deliverer, so MaxRetriesByCategory is left empty here -- see
		// Deliver's maxRetriesFor, which only overrides maxRetries when the
		// category is explicitly configured on a shared handler.
		h = errorhandler.New(errorhandler.Options{Logger: cfg.Logger, Meter: cfg.Meter, Clock: clk})
		h.Configure(ServiceName, errorhandler.ServiceConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		})
	}

	meter := cfg.Meter
	if meter == nil {
		meter = telemetry.NopMeterInstance
	}

	return &Deliverer{
		url:               cfg.URL,
		authToken:         cfg.AuthToken,
		signingSecret:     signingSecret,
		maxRetries:        maxRetries,
		initialRetryDelay: initial,
		maxRetryDelay:     maxDelay,
		backoffFactor:     factor,
		batchSize:         batchSize,
		timeout:           timeout,
		httpClient:        httpClient,
		limiter:           limiter,
		errHandler:        h,
		logger:            cfg.Logger,
		meter:             meter,
		clock:             clk,
	}
}

// maxRetriesFor resolves the authoritative retry bound for this delivery:
// the Error Handler's MaxRetriesByCategory[CategoryDelivery] wins over the
// Deliverer's own Config.MaxRetries whenever the category has been
// explicitly configured (spec.md §9).
func (d *Deliverer) maxRetriesFor() int {
	if n, ok := d.errHandler.MaxRetriesFor(ServiceName, model.CategoryDelivery); ok {
		return n
	}
	return d.maxRetries
}

// envelope is the wire shape POSTed to the sink (spec.md §4.6 step 3).
type envelope struct {
	BatchID   string     `json:"batch_id"`
	Timestamp string     `json:"timestamp"`
	Items     []wireItem `json:"items"`
}

type wireItem struct {
	Title        string   `json:"title"`
	Brief        string   `json:"brief"`
	URL          string   `json:"url"`
	Author       string   `json:"author,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	ContentTypes []string `json:"content_types"`
}

var validContentTypes = map[string]struct{}{
	string(model.ContentBlog):    {},
	string(model.ContentVideo):   {},
	string(model.ContentSocial):  {},
	string(model.ContentNews):    {},
	string(model.ContentGeneral): {},
}

// validate implements spec.md §4.6 step 1.
func validate(batch model.DeliveryBatch, batchSize int, contentTypes map[string][]string) error {
	if len(batch.Items) == 0 {
		return fmt.Errorf("batch is empty")
	}
	if len(batch.Items) > batchSize {
		return fmt.Errorf("batch size %d exceeds configured batch_size %d", len(batch.Items), batchSize)
	}
	for _, it := range batch.Items {
		if it.Title == "" {
			return fmt.Errorf("item %q missing title", it.SourceID)
		}
		if len(it.Brief) > model.MaxBriefLen {
			return fmt.Errorf("item %q brief exceeds %d characters", it.SourceID, model.MaxBriefLen)
		}
		types := contentTypes[it.SourceID]
		if len(types) == 0 {
			return fmt.Errorf("item %q has no content type", it.SourceID)
		}
		for _, ct := range types {
			if _, ok := validContentTypes[ct]; !ok {
				return fmt.Errorf("item %q has invalid content type %q", it.SourceID, ct)
			}
		}
	}
	return nil
}

func sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature recomputes the HMAC over body and compares it to
// signature in constant time. Exported for the receiver side of
// integration tests.
func VerifySignature(body []byte, signature, secret string) bool {
	expected := sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// backoff implements spec.md §4.6 step 5:
// delay(attempt) = min(initial * factor^attempt, max_retry_delay).
func (d *Deliverer) backoff(attempt int) time.Duration {
	delay := float64(d.initialRetryDelay) * pow(d.backoffFactor, attempt)
	if delay > float64(d.maxRetryDelay) || delay <= 0 {
		return d.maxRetryDelay
	}
	return time.Duration(delay)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// ContentTypesOf derives the list-valued content type spec.md §9 mandates
// ("list-valued to the webhook sink") from a single classified ContentType.
func ContentTypesOf(ct model.ContentType) []string {
	if ct == "" {
		return []string{string(model.ContentGeneral)}
	}
	return []string{string(ct)}
}

// Deliver implements spec.md §4.6's deliver(batch) algorithm. contentTypes
// maps each item's SourceID to its classified content type list; callers
// populate this from the Classifier's per-item output before building the
// batch.
func (d *Deliverer) Deliver(ctx context.Context, batch model.DeliveryBatch, contentTypes map[string][]string) DeliveryResponse {
	start := d.clock.Now()

	if err := validate(batch, d.batchSize, contentTypes); err != nil {
		_ = telemetry.IncCounter(d.meter, ctx, "webhook_attempts", 1, telemetry.Labels{"status": "validation"})
		return DeliveryResponse{Success: false, ErrorKind: ErrorKindValidation, Duration: d.clock.Now().Sub(start)}
	}

	items := make([]wireItem, 0, len(batch.Items))
	for _, it := range batch.Items {
		items = append(items, wireItem{
			Title:        it.Title,
			Brief:        it.Brief,
			URL:          it.URL,
			Author:       it.Author,
			Tags:         it.Tags,
			ContentTypes: contentTypes[it.SourceID],
		})
	}
	body, err := json.Marshal(envelope{
		BatchID:   batch.BatchID,
		Timestamp: d.clock.Now().UTC().Format(time.RFC3339Nano),
		Items:     items,
	})
	if err != nil {
		return DeliveryResponse{Success: false, ErrorKind: ErrorKindValidation, Duration: d.clock.Now().Sub(start)}
	}

	if !d.errHandler.CanProceed(ServiceName) {
		return DeliveryResponse{Success: false, ErrorKind: ErrorKindTransient, Duration: d.clock.Now().Sub(start)}
	}

	maxRetries := d.maxRetriesFor()

	var lastStatus int
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if !d.limiter.Acquire(ctx, 1, d.timeout) {
			return DeliveryResponse{Success: false, RetryCount: attempt, ErrorKind: ErrorKindTransient, Duration: d.clock.Now().Sub(start)}
		}

		status, retryAfter, transportErr := d.send(ctx, body)
		lastStatus = status

		if transportErr == nil && status >= 200 && status < 300 {
			d.errHandler.RecordSuccess(ServiceName)
			d.observeAttempt(ctx, "success", attempt, d.clock.Now().Sub(start))
			return DeliveryResponse{Success: true, StatusCode: status, RetryCount: attempt, Duration: d.clock.Now().Sub(start)}
		}

		if transportErr == nil && status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			d.errHandler.RecordFailure(ServiceName, fmt.Errorf("client error status %d", status), model.CategoryClient, model.SeverityMedium, nil)
			d.observeAttempt(ctx, "client_error", attempt, d.clock.Now().Sub(start))
			return DeliveryResponse{Success: false, StatusCode: status, RetryCount: attempt, ErrorKind: ErrorKindClient, Duration: d.clock.Now().Sub(start)}
		}

		deliveryErr := transportErr
		if deliveryErr == nil {
			deliveryErr = fmt.Errorf("transient status %d", status)
		}

		if attempt == maxRetries {
			d.errHandler.RecordFailure(ServiceName, deliveryErr, model.CategoryDelivery, model.SeverityHigh, nil)
			d.observeAttempt(ctx, "transient", attempt, d.clock.Now().Sub(start))
			break
		}

		d.observeAttempt(ctx, "retry", attempt, d.clock.Now().Sub(start))
		_ = telemetry.IncCounter(d.meter, ctx, "webhook_retries", 1, nil)

		delay := d.backoff(attempt)
		if status == http.StatusTooManyRequests && retryAfter > 0 {
			delay = retryAfter
		}
		d.clock.Sleep(ctx, delay)
	}

	return DeliveryResponse{
		Success:    false,
		StatusCode: lastStatus,
		RetryCount: maxRetries,
		ErrorKind:  ErrorKindTransient,
		Duration:   d.clock.Now().Sub(start),
	}
}

// observeAttempt records spec.md §6's webhook_attempts{status} counter and,
// on a terminal attempt, webhook_latency_seconds.
func (d *Deliverer) observeAttempt(ctx context.Context, status string, attempt int, elapsed time.Duration) {
	_ = telemetry.IncCounter(d.meter, ctx, "webhook_attempts", 1, telemetry.Labels{"status": status})
	if status != "retry" {
		_ = telemetry.ObserveHistogram(d.meter, ctx, "webhook_latency_seconds", elapsed.Seconds(), telemetry.DefaultHistogramBuckets(), nil)
	}
}

// send performs one signed POST, returning the status code, any
// server-provided Retry-After hint, and a transport-level error.
func (d *Deliverer) send(ctx context.Context, body []byte) (status int, retryAfter time.Duration, err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", sign(body, d.signingSecret))
	req.Header.Set("X-Request-Id", uuid.NewString())
	if d.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.authToken)
	}

	resp, derr := d.httpClient.Do(req)
	if derr != nil {
		return 0, 0, derr
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, convErr := strconv.Atoi(ra); convErr == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
	}
	return resp.StatusCode, retryAfter, nil
}
