// Package classify implements the pure content-type and priority
// classification rules (spec.md §4.5). Classify performs no I/O and is
// deterministic given the same item, breaking-tag set, and reference time --
// grounded on the teacher's preference for small, injectable-clock pure
// functions over module-scope singletons (pkg/queue's StableEnvelopeHash and
// NormalizeEnvelope follow the same shape: one pure function, no package
// state).
package classify

import (
	"strings"
	"time"

	"github.com/Ap3pp3rs94/streamline/pkg/model"
)

var videoHosts = map[string]struct{}{
	"youtube.com":     {},
	"vimeo.com":       {},
	"dailymotion.com": {},
}

var socialHosts = map[string]struct{}{
	"twitter.com":   {},
	"facebook.com":  {},
	"linkedin.com":  {},
	"instagram.com": {},
}

func hostMatches(host string, set map[string]struct{}) bool {
	host = strings.ToLower(host)
	if _, ok := set[host]; ok {
		return true
	}
	for h := range set {
		if strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// contentType applies the first-match-wins rules of spec.md §4.5.
func contentType(it model.Item) model.ContentType {
	s := it.Signals
	host := it.URLHost()

	if s.VideoURL != "" || s.YouTubeID != "" || s.VimeoID != "" {
		return model.ContentVideo
	}
	if hostMatches(host, videoHosts) {
		return model.ContentVideo
	}
	if s.SocialSignals || s.Likes > 0 || s.Shares > 0 {
		return model.ContentSocial
	}
	if hostMatches(host, socialHosts) {
		return model.ContentSocial
	}
	if s.NewsScore != 0 || s.ArticleText != "" {
		return model.ContentNews
	}
	return model.ContentBlog
}

func clampScore(score int) int {
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}

func scoreToPriority(score int) model.Priority {
	switch {
	case score <= 3:
		return model.PriorityLow
	case score <= 7:
		return model.PriorityNormal
	default:
		return model.PriorityHigh
	}
}

// priority applies the additive scoring rules of spec.md §4.5. now is the
// reference instant against which publication recency is measured.
func priority(it model.Item, ct model.ContentType, breaking map[string]struct{}, now time.Time) model.Priority {
	for _, tag := range it.Tags {
		for b := range breaking {
			if strings.EqualFold(tag, b) {
				return model.PriorityHigh
			}
		}
	}

	score := 5
	s := it.Signals

	if s.Likes > 1000 {
		score++
	}
	if s.Likes > 5000 {
		score++
	}
	if s.Shares > 500 {
		score++
	}
	if s.Shares > 2000 {
		score++
	}
	if s.Comments > 100 {
		score++
	}

	switch ct {
	case model.ContentVideo:
		score += 2
	case model.ContentNews, model.ContentSocial:
		score++
	}

	if !it.PublishedAt.IsZero() {
		age := now.Sub(it.PublishedAt)
		if age >= 0 {
			if age <= time.Hour {
				score += 2
			} else if age <= 6*time.Hour {
				score++
			}
		}
	}

	return scoreToPriority(clampScore(score))
}

// Classify returns the item's content type and delivery priority. breaking
// is the configured set of tags that force HIGH priority regardless of
// score (case-insensitive); now is the reference instant for recency
// scoring (inject the orchestrator's clock, never time.Now, to keep this
// deterministic).
func Classify(it model.Item, breaking map[string]struct{}, now time.Time) (model.ContentType, model.Priority) {
	ct := contentType(it)
	return ct, priority(it, ct, breaking, now)
}
