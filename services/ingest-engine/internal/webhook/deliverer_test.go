package webhook

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/Ap3pp3rs94/streamline/pkg/model"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) {
	c.now = c.now.Add(d)
}

type scriptedDoer struct {
	statuses []int
	calls    int
	bodies   [][]byte
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)
	d.bodies = append(d.bodies, body)
	status := d.statuses[d.calls]
	if d.calls < len(d.statuses)-1 {
		d.calls++
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(nil)),
		Header:     make(http.Header),
	}, nil
}

func testBatch() (model.DeliveryBatch, map[string][]string) {
	batch := model.DeliveryBatch{
		BatchID: "b1",
		Items: []model.Item{
			{SourceID: "a", Title: "Hello", Brief: "brief", URL: "https://example.com/a"},
		},
	}
	return batch, map[string][]string{"a": {"BLOG"}}
}

// Scenario D from spec.md §8.
func TestScenarioD_WebhookBackoff(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	doer := &scriptedDoer{statuses: []int{500, 500, 500, 200}}
	d := New(Config{
		URL:               "https://sink.example.com/hook",
		MaxRetries:        3,
		InitialRetryDelay: time.Second,
		MaxRetryDelay:     8 * time.Second,
		BackoffFactor:     2,
		HTTPClient:        doer,
		Clock:             clk,
	})

	batch, contentTypes := testBatch()
	start := clk.now
	resp := d.Deliver(context.Background(), batch, contentTypes)
	elapsed := clk.now.Sub(start)

	if !resp.Success {
		t.Fatalf("expected eventual success, got %+v", resp)
	}
	if resp.RetryCount != 3 {
		t.Fatalf("expected retry_count=3, got %d", resp.RetryCount)
	}
	if elapsed < 7*time.Second {
		t.Fatalf("expected total backoff wall time >= 7s (1+2+4), got %v", elapsed)
	}
}

func TestValidationFailureNeverRetries(t *testing.T) {
	doer := &scriptedDoer{statuses: []int{200}}
	d := New(Config{URL: "https://sink.example.com/hook", HTTPClient: doer})

	batch := model.DeliveryBatch{} // empty: fails validation
	resp := d.Deliver(context.Background(), batch, nil)
	if resp.Success || resp.ErrorKind != ErrorKindValidation {
		t.Fatalf("expected terminal validation failure, got %+v", resp)
	}
	if len(doer.bodies) != 0 {
		t.Fatalf("expected no HTTP attempts on validation failure, got %d", len(doer.bodies))
	}
}

func TestPermanentClientErrorDoesNotRetry(t *testing.T) {
	doer := &scriptedDoer{statuses: []int{404}}
	d := New(Config{URL: "https://sink.example.com/hook", HTTPClient: doer, MaxRetries: 3})

	batch, contentTypes := testBatch()
	resp := d.Deliver(context.Background(), batch, contentTypes)
	if resp.Success || resp.ErrorKind != ErrorKindClient {
		t.Fatalf("expected terminal client failure, got %+v", resp)
	}
	if len(doer.bodies) != 1 {
		t.Fatalf("expected a single attempt for a permanent 4xx, got %d attempts", len(doer.bodies))
	}
}

// Property 12 (spec.md §8): one 5xx then one 2xx delivers exactly the
// originally enqueued item set (duplicates acceptable, no losses) -- the
// request body sent on the successful attempt still carries the full batch.
func TestAtLeastOnceDeliveryOnTransientError(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	doer := &scriptedDoer{statuses: []int{500, 200}}
	d := New(Config{
		URL:               "https://sink.example.com/hook",
		MaxRetries:        3,
		InitialRetryDelay: 10 * time.Millisecond,
		HTTPClient:        doer,
		Clock:             clk,
	})

	batch, contentTypes := testBatch()
	resp := d.Deliver(context.Background(), batch, contentTypes)
	if !resp.Success {
		t.Fatalf("expected success after one transient failure, got %+v", resp)
	}
	if len(doer.bodies) != 2 {
		t.Fatalf("expected 2 request bodies recorded, got %d", len(doer.bodies))
	}
	for i, b := range doer.bodies {
		if !bytes.Contains(b, []byte(`"title":"Hello"`)) {
			t.Fatalf("expected attempt %d body to contain the original item, got %s", i, b)
		}
	}
}

func TestHMACSignatureVerifies(t *testing.T) {
	body := []byte(`{"batch_id":"x"}`)
	secret := "shh"
	sig := sign(body, secret)
	if !VerifySignature(body, sig, secret) {
		t.Fatalf("expected signature to verify")
	}
	if VerifySignature(body, sig, "wrong-secret") {
		t.Fatalf("expected signature to fail verification with wrong secret")
	}
}
