// Package orchestrator owns the long-lived fetch and drain loops that tie
// the Source Client, Classifier, Priority Queue, and Webhook Deliverer
// together (spec.md §4.7).
//
// The two-goroutine, context-cancelable loop shape is grounded on the
// teacher's pkg/queue.Runner (pkg/queue/consumer.go): one goroutine per
// activity, a WaitGroup joining them at shutdown, and an empty-backoff ramp
// (doubling from EmptyBackoffMin to EmptyBackoffMax, without jitter) rather
// than a busy spin.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ap3pp3rs94/streamline/pkg/classify"
	"github.com/Ap3pp3rs94/streamline/pkg/model"
	"github.com/Ap3pp3rs94/streamline/pkg/pqueue"
	"github.com/Ap3pp3rs94/streamline/pkg/telemetry"
	"github.com/Ap3pp3rs94/streamline/services/ingest-engine/internal/source"
	"github.com/Ap3pp3rs94/streamline/services/ingest-engine/internal/webhook"
)

// Clock abstracts time for deterministic loop tests.
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

// Config configures an Orchestrator.
type Config struct {
	FetchInterval    time.Duration
	BatchSize        int
	MaxRetriesGlobal int
	BreakingTags     map[string]struct{}
	EmptyBackoffMin  time.Duration
	EmptyBackoffMax  time.Duration

	Source    *source.Client
	Queue     *pqueue.Queue
	Deliverer *webhook.Deliverer
	Logger    *telemetry.Logger
	Meter     telemetry.Meter
	Clock     Clock
}

// Stats are cumulative counters exposed for tests and the admin surface;
// production metrics flow through Meter, these are a convenience snapshot.
type Stats struct {
	mu sync.Mutex

	ItemsFetched      int64
	ItemsQueued       int64
	ItemsDuplicate    int64
	ItemsRejected     int64
	DeliverySuccess   int64
	DeliveryExhausted int64
	DeliveryRejected  int64
}

func (s *Stats) addFetched(n int64)   { s.mu.Lock(); s.ItemsFetched += n; s.mu.Unlock() }
func (s *Stats) addQueued(n int64)    { s.mu.Lock(); s.ItemsQueued += n; s.mu.Unlock() }
func (s *Stats) addDuplicate(n int64) { s.mu.Lock(); s.ItemsDuplicate += n; s.mu.Unlock() }
func (s *Stats) addRejected(n int64)  { s.mu.Lock(); s.ItemsRejected += n; s.mu.Unlock() }
func (s *Stats) addSuccess(n int64)   { s.mu.Lock(); s.DeliverySuccess += n; s.mu.Unlock() }
func (s *Stats) addExhausted(n int64) { s.mu.Lock(); s.DeliveryExhausted += n; s.mu.Unlock() }
func (s *Stats) addDeliveryRejected(n int64) {
	s.mu.Lock()
	s.DeliveryRejected += n
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ItemsFetched:      s.ItemsFetched,
		ItemsQueued:       s.ItemsQueued,
		ItemsDuplicate:    s.ItemsDuplicate,
		ItemsRejected:     s.ItemsRejected,
		DeliverySuccess:   s.DeliverySuccess,
		DeliveryExhausted: s.DeliveryExhausted,
		DeliveryRejected:  s.DeliveryRejected,
	}
}

// Orchestrator runs the fetch loop and drain loop concurrently until its
// context is canceled (spec.md §4.7's "shutdown" behavior: cancellation is
// observed at loop heads, both loops finish their current iteration, Run
// returns only after both have exited).
type Orchestrator struct {
	cfg   Config
	clock Clock
	stats Stats

	continuation string
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.FetchInterval <= 0 {
		cfg.FetchInterval = 60 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.EmptyBackoffMin <= 0 {
		cfg.EmptyBackoffMin = 200 * time.Millisecond
	}
	if cfg.EmptyBackoffMax <= 0 {
		cfg.EmptyBackoffMax = 5 * time.Second
	}
	clk := cfg.Clock
	if clk == nil {
		clk = systemClock{}
	}
	return &Orchestrator{cfg: cfg, clock: clk}
}

// Stats returns a snapshot of cumulative pipeline counters.
func (o *Orchestrator) Stats() Stats { return o.stats.Snapshot() }

// Run starts the fetch loop and drain loop, blocking until ctx is canceled
// and both loops have completed their current iteration.
func (o *Orchestrator) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		o.fetchLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		o.drainLoop(ctx)
	}()

	wg.Wait()
	return ctx.Err()
}

func (o *Orchestrator) logf(ctx context.Context, msg string, fields map[string]any) {
	if o.cfg.Logger != nil {
		o.cfg.Logger.Info(ctx, msg, fields)
	}
}

// observeQueueSize publishes spec.md §6's queue_size{priority} gauge for
// each priority level.
func (o *Orchestrator) observeQueueSize(ctx context.Context) {
	for _, pr := range model.Priorities() {
		_ = telemetry.SetGauge(o.cfg.Meter, ctx, "queue_size", float64(o.cfg.Queue.SizeByPriority(pr)), telemetry.Labels{
			"priority": pr.String(),
		})
	}
}

// fetchLoop implements spec.md §4.7's fetch loop: every FetchInterval, page
// through the Source Client and enqueue each classified item.
func (o *Orchestrator) fetchLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		items, next, err := o.cfg.Source.FetchBatch(ctx, o.continuation)
		if err != nil {
			o.logf(ctx, "fetch_failed", map[string]any{"error": err.Error()})
		} else {
			o.continuation = next
			o.stats.addFetched(int64(len(items)))
			_ = telemetry.IncCounter(o.cfg.Meter, ctx, "items_fetched", int64(len(items)), nil)

			now := o.clock.Now()
			for _, it := range items {
				_, pr := classify.Classify(it, o.cfg.BreakingTags, now)
				if o.cfg.Queue.Enqueue(it, pr) {
					o.stats.addQueued(1)
					_ = telemetry.IncCounter(o.cfg.Meter, ctx, "items_queued", 1, nil)
				} else {
					o.stats.addDuplicate(1)
					_ = telemetry.IncCounter(o.cfg.Meter, ctx, "items_dropped", 1, telemetry.Labels{"reason": "duplicate"})
				}
			}
			o.observeQueueSize(ctx)
		}

		if ctx.Err() != nil {
			return
		}
		o.clock.Sleep(ctx, o.cfg.FetchInterval)
	}
}

// drainLoop implements spec.md §4.7's drain loop: while the queue is
// non-empty, dequeue up to BatchSize items and deliver them; on transient
// failure, requeue at LOW priority with retry_count incremented (dropping
// permanently past MaxRetriesGlobal); on permanent failure, drop.
func (o *Orchestrator) drainLoop(ctx context.Context) {
	backoff := o.cfg.EmptyBackoffMin

	for {
		if ctx.Err() != nil {
			return
		}

		batch, types, items := o.assembleBatch()
		o.observeQueueSize(ctx)
		if len(items) == 0 {
			o.clock.Sleep(ctx, backoff)
			backoff *= 2
			if backoff > o.cfg.EmptyBackoffMax {
				backoff = o.cfg.EmptyBackoffMax
			}
			continue
		}
		backoff = o.cfg.EmptyBackoffMin

		resp := o.cfg.Deliverer.Deliver(ctx, batch, types)
		switch {
		case resp.Success:
			o.stats.addSuccess(int64(len(items)))
		case resp.ErrorKind == webhook.ErrorKindClient || resp.ErrorKind == webhook.ErrorKindValidation:
			o.stats.addDeliveryRejected(int64(len(items)))
			o.logf(ctx, "delivery_rejected", map[string]any{"batch_id": batch.BatchID, "kind": string(resp.ErrorKind)})
		default:
			o.requeueOrDrop(ctx, items)
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// assembleBatch dequeues up to BatchSize items, respecting priority order,
// and builds the DeliveryBatch plus its per-item content-type map.
func (o *Orchestrator) assembleBatch() (model.DeliveryBatch, map[string][]string, []model.QueueItem) {
	queueItems := make([]model.QueueItem, 0, o.cfg.BatchSize)
	for len(queueItems) < o.cfg.BatchSize {
		qi, ok := o.cfg.Queue.Dequeue()
		if !ok {
			break
		}
		queueItems = append(queueItems, qi)
	}
	if len(queueItems) == 0 {
		return model.DeliveryBatch{}, nil, nil
	}

	items := make([]model.Item, 0, len(queueItems))
	types := make(map[string][]string, len(queueItems))
	now := o.clock.Now()
	for _, qi := range queueItems {
		items = append(items, qi.Item)
		ct, _ := classify.Classify(qi.Item, o.cfg.BreakingTags, now)
		types[qi.Item.SourceID] = webhook.ContentTypesOf(ct)
	}

	batch := model.DeliveryBatch{
		BatchID:   uuid.NewString(),
		CreatedAt: now,
		Items:     items,
		Attempts:  1,
	}
	return batch, types, queueItems
}

// requeueOrDrop implements the transient-failure path of spec.md §4.7: each
// item is requeued at LOW priority with retry_count incremented, unless it
// has exceeded MaxRetriesGlobal, in which case it is dropped permanently
// and a delivery_exhausted event is logged.
func (o *Orchestrator) requeueOrDrop(ctx context.Context, items []model.QueueItem) {
	for _, qi := range items {
		qi.RetryCount++
		if o.cfg.MaxRetriesGlobal > 0 && qi.RetryCount > o.cfg.MaxRetriesGlobal {
			o.stats.addExhausted(1)
			o.logf(ctx, "delivery_exhausted", map[string]any{
				"source_id":   qi.Item.SourceID,
				"retry_count": fmt.Sprint(qi.RetryCount),
			})
			continue
		}
		if o.cfg.Queue.EnqueueRetry(qi.Item, model.PriorityLow, qi.RetryCount) {
			o.stats.addQueued(1)
		}
	}
}
