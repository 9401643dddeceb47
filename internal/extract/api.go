package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"jobcrawl_nexus/internal/session"
)

// APIStrategy calls the site's JSON search endpoint through the session's
// egress, so it shares the proxy, cookies and identity of the page session.
type APIStrategy struct {
	rules    APIRules
	template string
	query    Query
}

func NewAPIStrategy(rules APIRules, urlTemplate string, q Query) *APIStrategy {
	if rules.LabelKey == "" {
		rules.LabelKey = "label"
	}
	return &APIStrategy{rules: rules, template: urlTemplate, query: q}
}

func (s *APIStrategy) Name() string { return "api" }

func (s *APIStrategy) Extract(ctx context.Context, sc *session.Context, page Page) (*Batch, error) {
	if s.template == "" {
		return nil, fmt.Errorf("api strategy: no url template configured")
	}
	if sc == nil {
		return nil, fmt.Errorf("api strategy: no session")
	}

	apiURL := s.query.Render(s.template, page.Index)
	resp, err := sc.Fetch(ctx, session.Request{URL: apiURL, Headers: s.rules.Headers})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("api strategy: status %d", resp.StatusCode)
	}

	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("api strategy: decode: %w", err)
	}

	items, _ := lookup(doc, s.rules.RecordsPath).([]any)
	if len(items) == 0 {
		return nil, ErrNoRecords
	}

	records := make([]RawRecord, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rec := make(RawRecord)
		s.flatten(rec, "", obj)
		records = append(records, rec)
	}

	batch := &Batch{Records: records}
	if s.hasMore(doc, page.Index, len(items)) {
		batch.Hint = &PaginationHint{NextPage: page.Index + 1}
	}
	return batch, nil
}

func (s *APIStrategy) hasMore(doc map[string]any, pageIndex, got int) bool {
	if n, ok := lookup(doc, s.rules.TotalPath).(json.Number); ok && s.rules.PageSize > 0 {
		if total, err := n.Int64(); err == nil {
			return int64(pageIndex*s.rules.PageSize) < total
		}
	}
	return s.rules.PageSize > 0 && got >= s.rules.PageSize
}

// flatten copies scalars, lists of scalars, and lists of labelled objects
// into rec. Objects carrying both "type" and the label key also become a
// field named after their type (e.g. placeholders of type "salary").
func (s *APIStrategy) flatten(rec RawRecord, prefix string, obj map[string]any) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case string:
			rec.Set(key, val)
		case json.Number:
			rec.Set(key, val.String())
		case bool:
			rec.Set(key, fmt.Sprint(val))
		case []any:
			for _, el := range val {
				switch e := el.(type) {
				case string:
					rec.Append(key, e)
				case json.Number:
					rec.Append(key, e.String())
				case map[string]any:
					label, ok := e[s.rules.LabelKey].(string)
					if !ok {
						continue
					}
					rec.Append(key, label)
					if typ, ok := e["type"].(string); ok && typ != "" && !rec.Has(typ) {
						rec.Set(typ, label)
					}
				}
			}
		case map[string]any:
			if prefix == "" {
				s.flatten(rec, key, val)
			}
		}
	}
}

func lookup(doc map[string]any, path string) any {
	if path == "" {
		return nil
	}
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}
