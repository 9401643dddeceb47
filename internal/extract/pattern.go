package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"jobcrawl_nexus/internal/session"
)

// PatternStrategy scans raw HTML with regular expressions. It is the last
// resort for markup goquery's selectors no longer match.
type PatternStrategy struct {
	card   *regexp.Regexp
	fields map[string][]*regexp.Regexp
	next   []*regexp.Regexp
	idRe   *regexp.Regexp
}

// NewPatternStrategy compiles the rules. Each field and next-link pattern
// must have at least one capture group; the first one is used.
func NewPatternStrategy(rules PatternRules, idRe *regexp.Regexp) (*PatternStrategy, error) {
	if rules.Card == "" {
		return nil, fmt.Errorf("pattern rules: card pattern is required")
	}
	card, err := regexp.Compile(rules.Card)
	if err != nil {
		return nil, fmt.Errorf("pattern rules: card: %w", err)
	}
	s := &PatternStrategy{card: card, fields: make(map[string][]*regexp.Regexp), idRe: idRe}
	for field, patterns := range rules.Fields {
		for _, p := range patterns {
			re, err := compileCapturing(p)
			if err != nil {
				return nil, fmt.Errorf("pattern rules: field %s: %w", field, err)
			}
			s.fields[field] = append(s.fields[field], re)
		}
	}
	for _, p := range rules.Next {
		re, err := compileCapturing(p)
		if err != nil {
			return nil, fmt.Errorf("pattern rules: next: %w", err)
		}
		s.next = append(s.next, re)
	}
	return s, nil
}

func compileCapturing(p string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("%q has no capture group", p)
	}
	return re, nil
}

func (s *PatternStrategy) Name() string { return "pattern" }

func (s *PatternStrategy) Extract(_ context.Context, _ *session.Context, page Page) (*Batch, error) {
	if page.Outcome == nil || page.Outcome.Content == "" {
		return nil, ErrNoRecords
	}
	content := page.Outcome.Content
	base := pageBase(page)

	var records []RawRecord
	for _, cardHTML := range s.card.FindAllString(content, -1) {
		rec := make(RawRecord)
		for field, patterns := range s.fields {
			v, _, ok := FirstMatch(patterns, func(re *regexp.Regexp) (string, bool) {
				m := re.FindStringSubmatch(cardHTML)
				if len(m) < 2 {
					return "", false
				}
				v := StripTags(m[1])
				return v, v != ""
			})
			if ok {
				rec.Set(field, v)
			}
		}
		if u, ok := rec.Get("url"); ok {
			if abs, err := resolve(base, u); err == nil {
				rec.Set("url", abs)
			}
			if s.idRe != nil && !rec.Has("jobId") {
				if m := s.idRe.FindStringSubmatch(u); len(m) > 1 {
					rec.Set("jobId", m[1])
				}
			}
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	batch := &Batch{Records: records}
	next, _, ok := FirstMatch(s.next, func(re *regexp.Regexp) (string, bool) {
		m := re.FindStringSubmatch(content)
		if len(m) < 2 || strings.TrimSpace(m[1]) == "" {
			return "", false
		}
		abs, err := resolve(base, m[1])
		return abs, err == nil
	})
	if ok {
		batch.Hint = &PaginationHint{NextURL: next}
	}
	return batch, nil
}
