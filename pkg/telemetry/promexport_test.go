package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromMeterIncCounterAccumulates(t *testing.T) {
	m := NewPromMeter(prometheus.NewRegistry())
	ctx := context.Background()

	if err := m.IncCounter(ctx, "items_fetched_total", 3, Labels{"source": "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.IncCounter(ctx, "items_fetched_total", 2, Labels{"source": "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := testutil.ToFloat64(m.counterFor("items_fetched_total", Labels{"source": "a"}).With(prometheus.Labels{"source": "a"}))
	if got != 5 {
		t.Fatalf("expected counter=5, got %v", got)
	}
}

func TestPromMeterSetGaugeOverwrites(t *testing.T) {
	m := NewPromMeter(prometheus.NewRegistry())
	ctx := context.Background()

	_ = m.SetGauge(ctx, "queue_size", 10, Labels{"priority": "high"})
	_ = m.SetGauge(ctx, "queue_size", 4, Labels{"priority": "high"})

	got := testutil.ToFloat64(m.gaugeFor("queue_size", Labels{"priority": "high"}).With(prometheus.Labels{"priority": "high"}))
	if got != 4 {
		t.Fatalf("expected gauge=4, got %v", got)
	}
}
