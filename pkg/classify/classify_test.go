package classify

import (
	"testing"
	"time"

	"github.com/Ap3pp3rs94/streamline/pkg/model"
)

func baseItem() model.Item {
	return model.Item{
		SourceID:    "s1",
		Title:       "t",
		URL:         "https://example.com/article",
		PublishedAt: time.Unix(0, 0).UTC(),
	}
}

func TestClassifyVideoBySignal(t *testing.T) {
	it := baseItem()
	it.Signals.VideoURL = "https://cdn.example.com/clip.mp4"
	ct, _ := Classify(it, nil, time.Unix(0, 0).UTC())
	if ct != model.ContentVideo {
		t.Fatalf("expected VIDEO, got %s", ct)
	}
}

func TestClassifyVideoByHost(t *testing.T) {
	it := baseItem()
	it.URL = "https://www.youtube.com/watch?v=abc"
	ct, _ := Classify(it, nil, time.Unix(0, 0).UTC())
	if ct != model.ContentVideo {
		t.Fatalf("expected VIDEO from host match, got %s", ct)
	}
}

func TestClassifySocialBySignal(t *testing.T) {
	it := baseItem()
	it.Signals.Likes = 42
	ct, _ := Classify(it, nil, time.Unix(0, 0).UTC())
	if ct != model.ContentSocial {
		t.Fatalf("expected SOCIAL, got %s", ct)
	}
}

func TestClassifyNewsBySignal(t *testing.T) {
	it := baseItem()
	it.Signals.NewsScore = 0.9
	ct, _ := Classify(it, nil, time.Unix(0, 0).UTC())
	if ct != model.ContentNews {
		t.Fatalf("expected NEWS, got %s", ct)
	}
}

func TestClassifyDefaultsToBlog(t *testing.T) {
	ct, _ := Classify(baseItem(), nil, time.Unix(0, 0).UTC())
	if ct != model.ContentBlog {
		t.Fatalf("expected BLOG default, got %s", ct)
	}
}

func TestClassifyVideoRuleTakesPrecedenceOverSocial(t *testing.T) {
	it := baseItem()
	it.Signals.VideoURL = "https://cdn.example.com/clip.mp4"
	it.Signals.Likes = 9999
	ct, _ := Classify(it, nil, time.Unix(0, 0).UTC())
	if ct != model.ContentVideo {
		t.Fatalf("expected VIDEO rule to win over SOCIAL, got %s", ct)
	}
}

func TestPriorityBaselineIsNormal(t *testing.T) {
	_, p := Classify(baseItem(), nil, time.Unix(0, 0).UTC())
	if p != model.PriorityNormal {
		t.Fatalf("expected base 5 + 2 recency = 7 -> NORMAL, got %s", p)
	}
}

func TestPriorityEscalatesWithEngagementAndRecency(t *testing.T) {
	it := baseItem()
	it.Signals.Likes = 6000  // +2
	it.Signals.Shares = 3000 // +2
	it.Signals.Comments = 200 // +1
	now := it.PublishedAt.Add(30 * time.Minute) // +2 recency
	// base 5 + 2 + 2 + 1 + 1(social content type) + 2(recency) = 13 -> clamp 10 -> HIGH
	_, p := Classify(it, nil, now)
	if p != model.PriorityHigh {
		t.Fatalf("expected HIGH after escalation, got %s", p)
	}
}

func TestBreakingTagForcesHighRegardlessOfScore(t *testing.T) {
	it := baseItem()
	it.Tags = []string{"Breaking"}
	breaking := map[string]struct{}{"breaking": {}}
	_, p := Classify(it, breaking, time.Unix(0, 0).UTC())
	if p != model.PriorityHigh {
		t.Fatalf("expected breaking tag to force HIGH, got %s", p)
	}
}

func TestOldPublishedAtGetsNoRecencyBoost(t *testing.T) {
	it := baseItem()
	now := it.PublishedAt.Add(48 * time.Hour)
	_, p := Classify(it, nil, now)
	if p != model.PriorityNormal {
		t.Fatalf("expected no recency boost for a stale item, got %s", p)
	}
}
