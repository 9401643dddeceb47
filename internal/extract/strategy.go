// Package extract turns loaded pages into raw records. Each Strategy is one
// way of reading a page; Chain tries them in a fixed order.
package extract

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"jobcrawl_nexus/internal/model"
	"jobcrawl_nexus/internal/session"
)

// ErrNoRecords is returned by strategies that found nothing to extract.
var ErrNoRecords = errors.New("extract: no records")

// RawRecord maps field names to values. Single values are one-element slices.
type RawRecord map[string][]string

func (r RawRecord) Set(key, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	r[key] = []string{value}
}

func (r RawRecord) Append(key string, values ...string) {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			r[key] = append(r[key], v)
		}
	}
}

// Get returns the first value for key.
func (r RawRecord) Get(key string) (string, bool) {
	vs := r[key]
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

func (r RawRecord) Has(key string) bool {
	return len(r[key]) > 0
}

// Titled reports whether the record has a non-blank title.
func (r RawRecord) Titled() bool {
	t, ok := r.Get("title")
	return ok && strings.TrimSpace(t) != ""
}

// PaginationHint tells the orchestrator where the next page is. NextURL
// wins over NextPage.
type PaginationHint struct {
	NextURL  string
	NextPage int
}

// Batch is what one strategy produced for one page.
type Batch struct {
	Records []RawRecord
	Hint    *PaginationHint
}

// Page is the unit of work handed to strategies.
type Page struct {
	Index   int // 1-based
	URL     string
	Outcome *model.PageOutcome
}

// Strategy is one way of extracting records.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, sc *session.Context, page Page) (*Batch, error)
}

// Query is the search the crawl is running.
type Query struct {
	Keyword    string
	Experience string // "2-5", "3" or empty
}

// ExperienceBounds splits Experience into min and max.
func (q Query) ExperienceBounds() (min, max string) {
	parts := strings.SplitN(q.Experience, "-", 2)
	min = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		max = strings.TrimSpace(parts[1])
	} else {
		max = min
	}
	return min, max
}

// Render fills a URL template. Values are query-escaped; {keyword_slug} is
// the lower-case, hyphen-joined keyword used in path segments.
func (q Query) Render(tmpl string, page int) string {
	min, max := q.ExperienceBounds()
	return strings.NewReplacer(
		"{keyword}", url.QueryEscape(q.Keyword),
		"{keyword_slug}", slug(q.Keyword),
		"{experience}", url.QueryEscape(q.Experience),
		"{exp_min}", url.QueryEscape(min),
		"{exp_max}", url.QueryEscape(max),
		"{page}", strconv.Itoa(page),
	).Replace(tmpl)
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
