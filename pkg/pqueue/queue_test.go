package pqueue

import (
	"testing"
	"time"

	"github.com/Ap3pp3rs94/streamline/pkg/model"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func item(sourceID, title string) model.Item {
	return model.Item{
		SourceID:    sourceID,
		Title:       title,
		URL:         "https://example.com/" + sourceID,
		PublishedAt: time.Unix(0, 0).UTC(),
	}
}

// Scenario A from spec.md §8.
func TestScenarioA_PriorityDisplacement(t *testing.T) {
	q := New(Config{Capacity: 2})

	if !q.Enqueue(item("L1", "low"), model.PriorityLow) {
		t.Fatalf("expected L1 enqueue to succeed")
	}
	if !q.Enqueue(item("N1", "normal"), model.PriorityNormal) {
		t.Fatalf("expected N1 enqueue to succeed")
	}
	if !q.Enqueue(item("H1", "high"), model.PriorityHigh) {
		t.Fatalf("expected H1 enqueue to displace L1 and succeed")
	}
	if q.Size() != 2 {
		t.Fatalf("expected size 2 after displacement, got %d", q.Size())
	}

	first, ok := q.Dequeue()
	if !ok || first.Item.SourceID != "H1" {
		t.Fatalf("expected H1 first, got %+v ok=%v", first, ok)
	}
	second, ok := q.Dequeue()
	if !ok || second.Item.SourceID != "N1" {
		t.Fatalf("expected N1 second, got %+v ok=%v", second, ok)
	}
}

// Scenario B from spec.md §8.
func TestScenarioB_Dedup(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	q := New(Config{Capacity: 10, DedupWindow: 60 * time.Second, Clock: clk})

	it := item("X", "t")
	if !q.Enqueue(it, model.PriorityNormal) {
		t.Fatalf("expected first enqueue at t=0 to succeed")
	}

	clk.advance(10 * time.Second)
	if q.Enqueue(it, model.PriorityNormal) {
		t.Fatalf("expected duplicate enqueue at t=10 to be rejected")
	}
	if q.Size() != 1 {
		t.Fatalf("expected size unchanged by rejected duplicate, got %d", q.Size())
	}

	clk.advance(51 * time.Second) // now t=61
	if !q.Enqueue(it, model.PriorityNormal) {
		t.Fatalf("expected enqueue at t=61 (window expired) to succeed")
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	q := New(Config{Capacity: 3})
	for i := 0; i < 10; i++ {
		q.Enqueue(item(string(rune('a'+i)), "x"), model.PriorityNormal)
		if q.Size() > 3 {
			t.Fatalf("capacity exceeded: size=%d", q.Size())
		}
	}
}

func TestStrictPriorityOrdering(t *testing.T) {
	q := New(Config{Capacity: 100})
	q.Enqueue(item("n1", "n"), model.PriorityNormal)
	q.Enqueue(item("h1", "h"), model.PriorityHigh)
	q.Enqueue(item("l1", "l"), model.PriorityLow)

	qi, ok := q.Dequeue()
	if !ok || qi.Priority != model.PriorityHigh {
		t.Fatalf("expected HIGH item dequeued first, got %+v", qi)
	}
}

func TestFIFOWithinPriority(t *testing.T) {
	q := New(Config{Capacity: 100})
	q.Enqueue(item("a", "a"), model.PriorityNormal)
	q.Enqueue(item("b", "b"), model.PriorityNormal)

	first, _ := q.Dequeue()
	second, _ := q.Dequeue()
	if first.Item.SourceID != "a" || second.Item.SourceID != "b" {
		t.Fatalf("expected FIFO order a,b; got %s,%s", first.Item.SourceID, second.Item.SourceID)
	}
}

func TestNonHighRejectedWhenFull(t *testing.T) {
	q := New(Config{Capacity: 1})
	q.Enqueue(item("a", "a"), model.PriorityHigh)
	if q.Enqueue(item("b", "b"), model.PriorityNormal) {
		t.Fatalf("expected non-HIGH enqueue on full queue to be rejected")
	}
}

func TestHighRejectedWhenNoDisplaceableEntry(t *testing.T) {
	q := New(Config{Capacity: 1})
	q.Enqueue(item("a", "a"), model.PriorityHigh)
	if q.Enqueue(item("b", "b"), model.PriorityHigh) {
		t.Fatalf("expected HIGH enqueue to fail when only HIGH items occupy the queue")
	}
}

func TestDisplacedItemNeverResurfaces(t *testing.T) {
	q := New(Config{Capacity: 1})
	q.Enqueue(item("low", "l"), model.PriorityLow)
	q.Enqueue(item("high", "h"), model.PriorityHigh)

	qi, ok := q.Dequeue()
	if !ok || qi.Item.SourceID != "high" {
		t.Fatalf("expected only the HIGH item to remain, got %+v ok=%v", qi, ok)
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatalf("expected queue empty after draining the surviving item")
	}
}

func TestPruneOlderThan(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100, 0)}
	q := New(Config{Capacity: 10, Clock: clk})
	q.Enqueue(item("old", "o"), model.PriorityNormal)

	clk.advance(time.Hour)
	q.Enqueue(item("new", "n"), model.PriorityNormal)

	removed := q.PruneOlderThan(time.Unix(100, 0).Add(time.Minute))
	if removed != 1 {
		t.Fatalf("expected exactly 1 item pruned, got %d", removed)
	}
	if q.Size() != 1 {
		t.Fatalf("expected 1 item remaining, got %d", q.Size())
	}
}
