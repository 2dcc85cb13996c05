// Package model defines the shared data types that flow through the
// ingestion-and-delivery pipeline: Item, ContentType, Priority, QueueItem,
// DeliveryBatch, ErrorContext and BreakerState.
package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	MaxTitleLen  = 255
	MaxBriefLen  = 2000
	MaxURLLen    = 2048
	MaxAuthorLen = 99
	MaxTags      = 10
	MaxTagLen    = 50
)

var (
	ErrTitleTooLong  = errors.New("model: title exceeds max length")
	ErrBriefTooLong  = errors.New("model: brief exceeds max length")
	ErrURLTooLong    = errors.New("model: url exceeds max length")
	ErrURLInvalid    = errors.New("model: url is not an absolute http(s) url")
	ErrAuthorTooLong = errors.New("model: author exceeds max length")
	ErrTooManyTags   = errors.New("model: too many tags")
	ErrTagTooLong    = errors.New("model: tag exceeds max length")
	ErrSourceIDEmpty = errors.New("model: source_id is required")
)

// Signals is the typed subset of upstream attributes the Classifier consults.
// Item.RawExtra is an opaque extension bag that takes part in the content
// hash; the Source Client does not fill it and the Webhook Deliverer does
// not send it.
type Signals struct {
	Likes         int      `json:"likes,omitempty"`
	Shares        int      `json:"shares,omitempty"`
	Comments      int      `json:"comments,omitempty"`
	VideoURL      string   `json:"video_url,omitempty"`
	YouTubeID     string   `json:"youtube_id,omitempty"`
	VimeoID       string   `json:"vimeo_id,omitempty"`
	SocialSignals bool     `json:"social_signals,omitempty"`
	NewsScore     float64  `json:"news_score,omitempty"`
	ArticleText   string   `json:"article_text,omitempty"`
	Categories    []string `json:"categories,omitempty"`
}

// Item is a normalized inbound record (spec.md §3).
type Item struct {
	SourceID    string            `json:"source_id"`
	Title       string            `json:"title"`
	Brief       string            `json:"brief"`
	URL         string            `json:"url"`
	PublishedAt time.Time         `json:"published_at"`
	Author      string            `json:"author,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Signals     Signals           `json:"signals,omitempty"`
	RawExtra    map[string]string `json:"raw_extra,omitempty"`
}

// Validate enforces the field bounds of spec.md §3.
func (it Item) Validate() error {
	if strings.TrimSpace(it.SourceID) == "" {
		return ErrSourceIDEmpty
	}
	if len(it.Title) > MaxTitleLen {
		return fmt.Errorf("%w: %d > %d", ErrTitleTooLong, len(it.Title), MaxTitleLen)
	}
	if len(it.Brief) > MaxBriefLen {
		return fmt.Errorf("%w: %d > %d", ErrBriefTooLong, len(it.Brief), MaxBriefLen)
	}
	if len(it.URL) > MaxURLLen {
		return fmt.Errorf("%w: %d > %d", ErrURLTooLong, len(it.URL), MaxURLLen)
	}
	u, err := url.Parse(it.URL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrURLInvalid, it.URL)
	}
	if len(it.Author) > MaxAuthorLen {
		return fmt.Errorf("%w: %d > %d", ErrAuthorTooLong, len(it.Author), MaxAuthorLen)
	}
	if len(it.Tags) > MaxTags {
		return fmt.Errorf("%w: %d > %d", ErrTooManyTags, len(it.Tags), MaxTags)
	}
	for _, t := range it.Tags {
		if len(t) > MaxTagLen {
			return fmt.Errorf("%w: %q", ErrTagTooLong, t)
		}
	}
	return nil
}

// URLHost returns the lowercased host of the item's URL, or "" if unparsable.
func (it Item) URLHost() string {
	u, err := url.Parse(it.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// HasTag reports whether any of it.Tags case-insensitively matches one of set.
func (it Item) HasTag(set map[string]struct{}) bool {
	for _, t := range it.Tags {
		if _, ok := set[strings.ToLower(strings.TrimSpace(t))]; ok {
			return true
		}
	}
	return false
}
