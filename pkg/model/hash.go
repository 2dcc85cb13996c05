package model

import (
	"crypto/sha256"
	"sort"
	"strconv"
)

// ContentHash returns a deterministic sha256 digest of the item, stable
// across reordering of any nested map keys (spec.md §4.2/§4.4, property 6).
//
// Mirrors the write-ordered-fields-with-separators approach the teacher uses
// in pkg/queue.StableEnvelopeHash: every field is written with an explicit
// label and a NUL separator so that "a"+"b" never collides with "ab".
func ContentHash(it Item) [32]byte {
	h := sha256.New()
	write := func(s string) {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}

	write("source_id")
	write(it.SourceID)
	write("title")
	write(it.Title)
	write("brief")
	write(it.Brief)
	write("url")
	write(it.URL)
	write("published_at")
	write(it.PublishedAt.UTC().Format("2006-01-02T15:04:05.000000000Z"))
	write("author")
	write(it.Author)

	write("tags")
	for _, t := range it.Tags {
		write(t)
	}

	write("signals.likes")
	write(strconv.Itoa(it.Signals.Likes))
	write("signals.shares")
	write(strconv.Itoa(it.Signals.Shares))
	write("signals.comments")
	write(strconv.Itoa(it.Signals.Comments))
	write("signals.video_url")
	write(it.Signals.VideoURL)
	write("signals.youtube_id")
	write(it.Signals.YouTubeID)
	write("signals.vimeo_id")
	write(it.Signals.VimeoID)
	write("signals.social_signals")
	write(strconv.FormatBool(it.Signals.SocialSignals))
	write("signals.news_score")
	write(strconv.FormatFloat(it.Signals.NewsScore, 'g', -1, 64))
	write("signals.article_text")
	write(it.Signals.ArticleText)

	write("signals.categories")
	cats := append([]string(nil), it.Signals.Categories...)
	sort.Strings(cats)
	for _, c := range cats {
		write(c)
	}

	if len(it.RawExtra) > 0 {
		keys := make([]string, 0, len(it.RawExtra))
		for k := range it.RawExtra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		write("raw_extra")
		for _, k := range keys {
			write(k)
			write(it.RawExtra[k])
		}
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
