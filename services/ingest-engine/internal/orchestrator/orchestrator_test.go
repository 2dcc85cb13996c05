package orchestrator

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Ap3pp3rs94/streamline/pkg/model"
	"github.com/Ap3pp3rs94/streamline/pkg/pqueue"
	"github.com/Ap3pp3rs94/streamline/services/ingest-engine/internal/source"
	"github.com/Ap3pp3rs94/streamline/services/ingest-engine/internal/webhook"
)

type nopDoer struct {
	mu      sync.Mutex
	reached int
}

func (d *nopDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.reached++
	d.mu.Unlock()
	return &http.Response{
		StatusCode: 200,
		Body:       http.NoBody,
		Header:     make(http.Header),
	}, nil
}

// Scenario F from spec.md §8: orchestrator running with a non-empty queue,
// shutdown signaled, both loops exit within one iteration, no panic.
func TestGracefulShutdownDrainsWithoutPanic(t *testing.T) {
	q := pqueue.New(pqueue.Config{Capacity: 100})
	for i := 0; i < 5; i++ {
		q.Enqueue(model.Item{
			SourceID:    string(rune('a' + i)),
			Title:       "t",
			URL:         "https://example.com/x",
			PublishedAt: time.Unix(0, 0).UTC(),
		}, model.PriorityNormal)
	}

	sourceDoer := &nopDoer{}
	srcClient, err := source.New(source.Config{BaseURL: "https://upstream.example.com", Token: "tok", HTTPClient: sourceDoer})
	if err != nil {
		t.Fatalf("unexpected error constructing source client: %v", err)
	}

	webhookDoer := &nopDoer{}
	deliverer := webhook.New(webhook.Config{URL: "https://sink.example.com/hook", HTTPClient: webhookDoer})

	o := New(Config{
		FetchInterval:   10 * time.Millisecond,
		BatchSize:       2,
		Source:          srcClient,
		Queue:           q,
		Deliverer:       deliverer,
		EmptyBackoffMin: 5 * time.Millisecond,
		EmptyBackoffMax: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- o.Run(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("orchestrator did not shut down within timeout")
	}

	snap := o.Stats()
	if snap.DeliverySuccess == 0 {
		t.Fatalf("expected at least some items delivered before shutdown, got %+v", snap)
	}
}
