package model

import (
	"testing"
	"time"
)

func sampleItem() Item {
	return Item{
		SourceID:    "src-1",
		Title:       "t",
		Brief:       "b",
		URL:         "https://example.com/a",
		PublishedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Tags:        []string{"go", "news"},
		Signals: Signals{
			Likes:      10,
			Categories: []string{"tech", "ai"},
		},
	}
}

func TestContentHashStableAcrossMapReordering(t *testing.T) {
	a := sampleItem()
	a.RawExtra = map[string]string{"z": "1", "a": "2"}
	b := sampleItem()
	b.RawExtra = map[string]string{"a": "2", "z": "1"}

	if ContentHash(a) != ContentHash(b) {
		t.Fatalf("expected identical hashes regardless of map key insertion order")
	}
}

func TestContentHashStableAcrossCategoryOrdering(t *testing.T) {
	a := sampleItem()
	a.Signals.Categories = []string{"tech", "ai"}
	b := sampleItem()
	b.Signals.Categories = []string{"ai", "tech"}

	if ContentHash(a) != ContentHash(b) {
		t.Fatalf("expected identical hashes regardless of category ordering")
	}
}

func TestContentHashDiffersOnContentChange(t *testing.T) {
	a := sampleItem()
	b := sampleItem()
	b.Title = "different"

	if ContentHash(a) == ContentHash(b) {
		t.Fatalf("expected different hashes for different content")
	}
}

func TestItemValidate(t *testing.T) {
	it := sampleItem()
	if err := it.Validate(); err != nil {
		t.Fatalf("expected valid item, got %v", err)
	}

	bad := it
	bad.SourceID = ""
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for empty source id")
	}

	bad = it
	bad.URL = "not-a-url"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for invalid url")
	}
}
