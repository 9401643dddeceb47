package extract

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"jobcrawl_nexus/internal/session"
	"jobcrawl_nexus/internal/shared/logger"
)

// DOMStrategy reads job cards out of the rendered page with CSS selectors.
type DOMStrategy struct {
	rules DOMRules
	idRe  *regexp.Regexp
}

func NewDOMStrategy(rules DOMRules, idRe *regexp.Regexp) *DOMStrategy {
	return &DOMStrategy{rules: rules, idRe: idRe}
}

func (s *DOMStrategy) Name() string { return "dom" }

func (s *DOMStrategy) Extract(_ context.Context, _ *session.Context, page Page) (*Batch, error) {
	if page.Outcome == nil || strings.TrimSpace(page.Outcome.Content) == "" {
		return nil, ErrNoRecords
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Outcome.Content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	cards, selector, ok := FirstMatch(s.rules.CardSelectors, func(sel string) (*goquery.Selection, bool) {
		found := doc.Find(sel)
		return found, found.Length() > 0
	})
	if !ok {
		return nil, ErrNoRecords
	}

	l := logger.WithComponent("Extract/DOM")
	l.Debug().Str("selector", selector).Int("cards", cards.Length()).Msg("Found job cards.")

	base := pageBase(page)
	var records []RawRecord
	cards.Each(func(i int, card *goquery.Selection) {
		rec, err := s.card(card, base)
		if err != nil {
			l.Warn().Err(err).Int("card", i).Msg("Skipping card.")
			return
		}
		records = append(records, rec)
	})

	batch := &Batch{Records: records}
	if next, ok := s.nextURL(doc, base); ok {
		batch.Hint = &PaginationHint{NextURL: next}
	}
	return batch, nil
}

func (s *DOMStrategy) card(card *goquery.Selection, base *url.URL) (RawRecord, error) {
	rec := make(RawRecord)
	applyFieldRules(card, s.rules.FieldRules, rec)

	if raw, ok := rec.Get("url"); ok {
		abs, err := resolve(base, raw)
		if err != nil {
			return nil, fmt.Errorf("bad url %q: %w", raw, err)
		}
		rec.Set("url", abs)
	}

	if !rec.Has("jobId") {
		id, _, ok := FirstMatch(s.rules.IDAttributes, func(attr string) (string, bool) {
			v, exists := card.Attr(attr)
			return strings.TrimSpace(v), exists && strings.TrimSpace(v) != ""
		})
		if !ok && s.idRe != nil {
			if u, has := rec.Get("url"); has {
				if m := s.idRe.FindStringSubmatch(u); len(m) > 1 {
					id, ok = m[1], true
				}
			}
		}
		if ok {
			rec.Set("jobId", id)
		}
	}
	return rec, nil
}

func (s *DOMStrategy) nextURL(doc *goquery.Document, base *url.URL) (string, bool) {
	href, _, ok := FirstMatch(s.rules.NextSelectors, func(sel string) (string, bool) {
		v, exists := doc.Find(sel).First().Attr("href")
		v = strings.TrimSpace(v)
		return v, exists && v != "" && !strings.HasPrefix(v, "javascript:")
	})
	if !ok {
		return "", false
	}
	abs, err := resolve(base, href)
	if err != nil {
		return "", false
	}
	return abs, true
}

// applyFieldRules fills rec from sel using the first selector per field
// that yields a non-empty value.
func applyFieldRules(sel *goquery.Selection, rules FieldRules, rec RawRecord) {
	for field, candidates := range rules.Fields {
		list := rules.isList(field)
		values, _, ok := FirstMatch(candidates, func(c Selector) ([]string, bool) {
			found := sel.Find(c.Selector)
			if !list {
				found = found.First()
			}
			var vs []string
			found.Each(func(_ int, n *goquery.Selection) {
				if v := selectionValue(n, c.Attr); v != "" {
					vs = append(vs, v)
				}
			})
			return vs, len(vs) > 0
		})
		if !ok {
			continue
		}
		if list {
			rec.Append(field, values...)
		} else {
			rec.Set(field, values[0])
		}
	}
}

func selectionValue(n *goquery.Selection, attr string) string {
	if attr != "" {
		v, _ := n.Attr(attr)
		return strings.TrimSpace(v)
	}
	if t, ok := n.Attr("title"); ok && strings.TrimSpace(t) != "" && strings.TrimSpace(n.Text()) == "" {
		return strings.TrimSpace(t)
	}
	return collapseSpace(n.Text())
}

func pageBase(page Page) *url.URL {
	raw := page.URL
	if page.Outcome != nil && page.Outcome.URL != "" {
		raw = page.Outcome.URL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	return u
}

func resolve(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	if base == nil {
		return u.String(), nil
	}
	return base.ResolveReference(u).String(), nil
}
