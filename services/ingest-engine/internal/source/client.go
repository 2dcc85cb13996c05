// Package source implements the upstream feed client (spec.md §4.4): an
// authenticated, rate-limited, paginated HTTP reader that translates raw
// provider JSON into model.Item values.
//
// The request/response shape (continuation-token pagination, canonical
// link extraction, epoch-seconds published timestamps, tag-label
// flattening) is grounded on
// original_source/feed_processor/inoreader/client.py's get_stream_contents.
// The hardened HTTP transport (bounded dial/idle timeouts) is grounded on
// the teacher's services/connector-hub/internal/connectors/http_rest.go.
// New accepts only an http or https base URL with a host; it does not
// reject private or loopback addresses.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Ap3pp3rs94/streamline/pkg/errorhandler"
	"github.com/Ap3pp3rs94/streamline/pkg/model"
	"github.com/Ap3pp3rs94/streamline/pkg/ratelimit"
	"github.com/Ap3pp3rs94/streamline/pkg/telemetry"
)

const ServiceName = "source-client"

// ErrAuthFailed wraps a 401/403 response. It is never retried by the
// Error Handler: callers must surface it immediately (spec.md §4.4).
type ErrAuthFailed struct {
	StatusCode int
	Body       string
}

func (e ErrAuthFailed) Error() string {
	return fmt.Sprintf("source: authentication failed (status %d): %s", e.StatusCode, e.Body)
}

// Doer is satisfied by *http.Client; accepting the interface lets tests
// substitute a fake transport.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	BaseURL       string
	Token         string
	RatePerSecond float64 // default 5, per spec.md §4.4
	Burst         int
	RequestCount  int // "n" query param, items per page
	HTTPClient    Doer
	Limiter       *ratelimit.Limiter
	ErrorHandler  *errorhandler.Handler
	Logger        *telemetry.Logger
	Meter         telemetry.Meter
}

// Client fetches paginated batches from the upstream feed API.
type Client struct {
	baseURL string
	token   string
	count   int

	httpClient Doer
	limiter    *ratelimit.Limiter
	errHandler *errorhandler.Handler
	logger     *telemetry.Logger
	meter      telemetry.Meter
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

// New creates a Client.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("source: invalid base_url %q", cfg.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("source: non-http scheme denied: %s", u.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: defaultTransport(), Timeout: 30 * time.Second}
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

	count := cfg.RequestCount
	if count <= 0 {
		count = 20
	}

	h := cfg.ErrorHandler
	if h == nil {
		h = errorhandler.New(errorhandler.Options{Logger: cfg.Logger})
		h.Configure(ServiceName, errorhandler.ServiceConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			MaxRetriesByCategory: map[model.Category]int{
				model.CategoryAPI:       3,
				model.CategoryNetwork:   3,
				model.CategoryRateLimit: 3,
			},
		})
	}

	meter := cfg.Meter
	if meter == nil {
		meter = telemetry.NopMeterInstance
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		count:      count,
		httpClient: httpClient,
		limiter:    limiter,
		errHandler: h,
		logger:     cfg.Logger,
		meter:      meter,
	}, nil
}

// fetchResult is the internal attempt result, before it is surfaced to the
// caller as (items, continuation).
type fetchResult struct {
	Items        []model.Item
	Continuation string
}

// rawItem mirrors the upstream provider's item shape closely enough to
// support the normalization rules in spec.md §4.4; fields outside this shape
// are dropped, and normalize leaves Item.RawExtra empty.
type rawItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Published int64  `json:"published"`
	Author    string `json:"author"`
	Summary   struct {
		Content string `json:"content"`
	} `json:"summary"`
	Canonical []struct {
		Href string `json:"href"`
	} `json:"canonical"`
	Tags []struct {
		Label string `json:"label"`
	} `json:"tags"`
}

type rawResponse struct {
	Items        []rawItem `json:"items"`
	Continuation string    `json:"continuation"`
}

// FetchBatch implements the Source Client contract: fetch_batch(continuation?)
// -> {items, continuation?} (spec.md §4.4). Transient errors are retried
// through the Error Handler; authentication failures surface immediately.
func (c *Client) FetchBatch(ctx context.Context, continuation string) ([]model.Item, string, error) {
	if !c.limiter.Acquire(ctx, 1, 30*time.Second) {
		return nil, "", fmt.Errorf("source: rate limiter timeout waiting to fetch")
	}

	result, category, err := c.attempt(ctx, continuation)
	if err == nil {
		_ = telemetry.IncCounter(c.meter, ctx, "items_fetched", int64(len(result.Items)), nil)
		return result.Items, result.Continuation, nil
	}

	var authErr ErrAuthFailed
	if errors.As(err, &authErr) {
		return nil, "", err
	}

	severity := model.SeverityMedium
	if category == model.CategoryRateLimit {
		severity = model.SeverityLow
	}

	final, herr := errorhandler.Handle(ctx, c.errHandler, err, category, severity, ServiceName, map[string]string{
		"continuation": continuation,
	}, func(ctx context.Context) (fetchResult, error) {
		r, _, aerr := c.attempt(ctx, continuation)
		return r, aerr
	})
	if herr != nil {
		return nil, "", herr
	}
	_ = telemetry.IncCounter(c.meter, ctx, "items_fetched", int64(len(final.Items)), nil)
	return final.Items, final.Continuation, nil
}

// attempt performs exactly one HTTP round trip and classifies any error per
// spec.md §4.4 (API default, RateLimit on 429, Network on connection
// errors, Authentication on 401/403).
func (c *Client) attempt(ctx context.Context, continuation string) (fetchResult, model.Category, error) {
	q := url.Values{}
	q.Set("n", strconv.Itoa(c.count))
	if continuation != "" {
		q.Set("c", continuation)
	}
	endpoint := c.baseURL + "/stream/contents?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fetchResult{}, model.CategorySystem, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "streamline-ingest-engine/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fetchResult{}, model.CategoryNetwork, fmt.Errorf("source: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fetchResult{}, model.CategoryAuthentication, ErrAuthFailed{StatusCode: resp.StatusCode, Body: string(body)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return fetchResult{}, model.CategoryRateLimit, fmt.Errorf("source: rate limited (429): %s", string(body))
	case resp.StatusCode >= 500:
		return fetchResult{}, model.CategoryAPI, fmt.Errorf("source: upstream server error (%d): %s", resp.StatusCode, string(body))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fetchResult{}, model.CategoryAPI, fmt.Errorf("source: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed rawResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fetchResult{}, model.CategoryProcessing, fmt.Errorf("source: malformed response body: %w", err)
	}

	items := make([]model.Item, 0, len(parsed.Items))
	for _, ri := range parsed.Items {
		it := normalize(ri)
		if verr := it.Validate(); verr != nil {
			c.errHandler.RecordFailure(ServiceName, verr, model.CategoryValidation, model.SeverityLow, map[string]string{"source_id": ri.ID})
			_ = telemetry.IncCounter(c.meter, ctx, "items_dropped", 1, telemetry.Labels{"reason": "validation"})
			continue
		}
		items = append(items, it)
	}
	return fetchResult{Items: items, Continuation: parsed.Continuation}, "", nil
}

// normalize translates one raw provider item into a model.Item per spec.md
// §4.4's normalization duties: canonical URL, epoch-seconds timestamp,
// tag labels, default empty author.
func normalize(ri rawItem) model.Item {
	link := ""
	if len(ri.Canonical) > 0 {
		link = ri.Canonical[0].Href
	}

	tags := make([]string, 0, len(ri.Tags))
	for _, t := range ri.Tags {
		if strings.TrimSpace(t.Label) != "" {
			tags = append(tags, t.Label)
		}
	}

	brief := ri.Summary.Content
	if len(brief) > model.MaxBriefLen {
		brief = brief[:model.MaxBriefLen]
	}

	published := time.Unix(ri.Published, 0).UTC()

	return model.Item{
		SourceID:    ri.ID,
		Title:       ri.Title,
		Brief:       brief,
		URL:         link,
		PublishedAt: published,
		Author:      ri.Author,
		Tags:        tags,
	}
}
