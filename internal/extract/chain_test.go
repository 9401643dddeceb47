package extract

import (
	"context"
	"errors"
	"testing"

	"jobcrawl_nexus/internal/session"
)

type mockStrategy struct {
	name    string
	records []RawRecord
	hint    *PaginationHint
	err     error
	calls   int
}

func (m *mockStrategy) Name() string { return m.name }

func (m *mockStrategy) Extract(context.Context, *session.Context, Page) (*Batch, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &Batch{Records: m.records, Hint: m.hint}, nil
}

func titled(titles ...string) []RawRecord {
	out := make([]RawRecord, 0, len(titles))
	for _, t := range titles {
		r := make(RawRecord)
		r.Set("title", t)
		out = append(out, r)
	}
	return out
}

func TestChain_StopsAtFirstSuccess(t *testing.T) {
	first := &mockStrategy{name: "api"}
	second := &mockStrategy{name: "dom", records: titled("Go Engineer"), hint: &PaginationHint{NextPage: 2}}
	third := &mockStrategy{name: "pattern", records: titled("Should not be used")}

	out := NewChain(first, second, third).Run(context.Background(), nil, Page{Index: 1})

	if out.Used != "dom" {
		t.Fatalf("expected dom to win, got %q", out.Used)
	}
	if len(out.Records) != 1 || out.Records[0]["title"][0] != "Go Engineer" {
		t.Errorf("unexpected records: %v", out.Records)
	}
	if out.Hint == nil || out.Hint.NextPage != 2 {
		t.Errorf("hint not carried: %+v", out.Hint)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("expected first two strategies invoked once, got %d and %d", first.calls, second.calls)
	}
	if third.calls != 0 {
		t.Errorf("third strategy must not be invoked, got %d calls", third.calls)
	}
	if len(out.Attempts) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(out.Attempts))
	}
}

func TestChain_UntitledRecordsFallThrough(t *testing.T) {
	untitled := RawRecord{"company": {"Acme"}}
	first := &mockStrategy{name: "api", records: []RawRecord{untitled}}
	second := &mockStrategy{name: "dom", err: errors.New("selector drift")}
	third := &mockStrategy{name: "pattern", records: titled("Backend Dev")}

	out := NewChain(first, second, third).Run(context.Background(), nil, Page{Index: 1})
	if out.Used != "pattern" {
		t.Fatalf("expected pattern, got %q", out.Used)
	}
	if out.Attempts[0].Records != 1 || out.Attempts[0].Titled != 0 {
		t.Errorf("unexpected first attempt: %+v", out.Attempts[0])
	}
	if out.Attempts[1].Err == nil {
		t.Error("error of second strategy not recorded")
	}
}

func TestChain_AllFail(t *testing.T) {
	out := NewChain(
		&mockStrategy{name: "api", err: ErrNoRecords},
		&mockStrategy{name: "dom"},
	).Run(context.Background(), nil, Page{Index: 3})

	if out.Used != "" || len(out.Records) != 0 || out.Hint != nil {
		t.Errorf("expected empty outcome, got %+v", out)
	}
	if len(out.Attempts) != 2 {
		t.Errorf("expected both strategies attempted, got %d", len(out.Attempts))
	}
}

func TestChain_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &mockStrategy{name: "api", records: titled("x")}
	out := NewChain(s).Run(ctx, nil, Page{Index: 1})
	if s.calls != 0 || out.Used != "" {
		t.Errorf("strategy ran on cancelled context: calls=%d used=%q", s.calls, out.Used)
	}
}

func TestSelect(t *testing.T) {
	api := &mockStrategy{name: "api"}
	dom := &mockStrategy{name: "dom"}
	pat := &mockStrategy{name: "pattern"}

	got, err := Select([]string{"pattern", " DOM ", "pattern"}, api, dom, pat)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != pat || got[1] != dom {
		t.Errorf("unexpected order: %v", got)
	}

	if _, err := Select([]string{"xpath"}, api); err == nil {
		t.Error("expected error for unknown strategy")
	}
	if _, err := Select(nil, api); err == nil {
		t.Error("expected error for empty selection")
	}
}

func TestFirstMatch(t *testing.T) {
	res, winner, ok := FirstMatch([]int{1, 3, 4, 6}, func(n int) (string, bool) {
		return "even", n%2 == 0
	})
	if !ok || winner != 4 || res != "even" {
		t.Errorf("got %q %d %v", res, winner, ok)
	}
	_, _, ok = FirstMatch([]int{1, 3}, func(n int) (string, bool) { return "", false })
	if ok {
		t.Error("expected no match")
	}
}

func TestQueryRender(t *testing.T) {
	q := Query{Keyword: "Node.js Developer", Experience: "2-5"}
	got := q.Render("https://x.test/{keyword_slug}-jobs-{page}?k={keyword}&e={exp_min}to{exp_max}", 3)
	want := "https://x.test/node-js-developer-jobs-3?k=Node.js+Developer&e=2to5"
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}
