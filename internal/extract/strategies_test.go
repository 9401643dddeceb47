package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"jobcrawl_nexus/internal/model"
	"jobcrawl_nexus/internal/session"
)

var testIDRe = regexp.MustCompile(`job-listings-([\w-]+)`)

const listingHTML = `<html><head><title>Go jobs</title></head><body>
<div class="list">
  <article class="jobTuple">
    <a class="title" href="/job-listings-go-dev-111">Go Developer</a>
    <a class="subTitle">Acme Corp</a>
    <li class="experience"><span>2-5 Yrs</span></li>
    <li class="location"><span>Pune, Remote</span></li>
    <ul class="tags"><li>Go</li><li>gRPC</li></ul>
  </article>
  <article class="jobTuple" data-job-id="222">
    <a class="title" href="https://jobs.test/job-listings-sre-222">SRE</a>
    <span class="company">Beta Ltd</span>
  </article>
</div>
<a rel="next" href="/go-jobs-2">Next</a>
</body></html>`

func testDOMRules() DOMRules {
	return DOMRules{
		FieldRules: FieldRules{
			Fields: map[string][]Selector{
				"title":      {{Selector: ".jobTitleText a"}, {Selector: "a.title"}},
				"company":    {{Selector: ".companyInfo a"}, {Selector: "a.subTitle"}, {Selector: ".company"}},
				"experience": {{Selector: ".experience span"}},
				"location":   {{Selector: ".location span"}},
				"url":        {{Selector: "a.title", Attr: "href"}},
				"skills":     {{Selector: "ul.tags li"}},
			},
			ListFields: []string{"skills"},
		},
		CardSelectors: []string{"div[data-job-id]", "article.jobTuple"},
		IDAttributes:  []string{"data-job-id"},
		NextSelectors: []string{".pagination a.next", "a[rel='next']"},
	}
}

func listingPage() Page {
	return Page{
		Index: 1,
		URL:   "https://jobs.test/go-jobs",
		Outcome: &model.PageOutcome{
			Status:  model.PageOk,
			URL:     "https://jobs.test/go-jobs",
			Content: listingHTML,
		},
	}
}

func TestDOMStrategy_Extract(t *testing.T) {
	s := NewDOMStrategy(testDOMRules(), testIDRe)
	b, err := s.Extract(context.Background(), nil, listingPage())
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(b.Records))
	}

	first := b.Records[0]
	checks := map[string]string{
		"title":      "Go Developer",
		"company":    "Acme Corp",
		"experience": "2-5 Yrs",
		"location":   "Pune, Remote",
		"url":        "https://jobs.test/job-listings-go-dev-111",
		"jobId":      "go-dev-111",
	}
	for k, want := range checks {
		if got, _ := first.Get(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
	if skills := first["skills"]; len(skills) != 2 || skills[1] != "gRPC" {
		t.Errorf("skills: %v", skills)
	}

	second := b.Records[1]
	if id, _ := second.Get("jobId"); id != "222" {
		t.Errorf("expected id from data attribute, got %q", id)
	}
	if c, _ := second.Get("company"); c != "Beta Ltd" {
		t.Errorf("company fallback selector not used: %q", c)
	}

	if b.Hint == nil || b.Hint.NextURL != "https://jobs.test/go-jobs-2" {
		t.Errorf("unexpected hint %+v", b.Hint)
	}
}

func TestDOMStrategy_NoCards(t *testing.T) {
	s := NewDOMStrategy(testDOMRules(), testIDRe)
	page := listingPage()
	page.Outcome = &model.PageOutcome{Content: "<html><body>nothing here</body></html>"}
	if _, err := s.Extract(context.Background(), nil, page); err != ErrNoRecords {
		t.Errorf("expected ErrNoRecords, got %v", err)
	}
}

func TestPatternStrategy_Extract(t *testing.T) {
	html := `<div class="jobTuple"><div><a class="title" href="/job-listings-abc-1">Senior <b>Go</b> Dev</a>
<a class="companyName">Gamma</a><li class="salary">10-20 LPA</li></div></div></div>
<div class="jobTuple"><div><span>no title here</span></div></div></div>`

	s, err := NewPatternStrategy(PatternRules{
		Card: `(?s)<div[^>]*class="[^"]*jobTuple[^"]*"[^>]*>(.*?)</div>\s*</div>\s*</div>`,
		Fields: map[string][]string{
			"title":   {`(?s)<a[^>]*class="[^"]*title[^"]*"[^>]*>(.*?)</a>`},
			"url":     {`<a[^>]*class="[^"]*title[^"]*"[^>]*href="([^"]*)"`},
			"company": {`(?s)<span class="company">(.*?)</span>`, `(?s)<a[^>]*class="[^"]*companyName[^"]*"[^>]*>(.*?)</a>`},
			"salary":  {`(?s)<li[^>]*class="[^"]*salary[^"]*"[^>]*>(.*?)</li>`},
		},
	}, testIDRe)
	if err != nil {
		t.Fatal(err)
	}

	b, err := s.Extract(context.Background(), nil, Page{
		Index:   1,
		URL:     "https://jobs.test/search",
		Outcome: &model.PageOutcome{Content: html, URL: "https://jobs.test/search"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Records) != 1 {
		t.Fatalf("expected 1 record with fields, got %d", len(b.Records))
	}
	r := b.Records[0]
	if title, _ := r.Get("title"); title != "Senior Go Dev" {
		t.Errorf("title: %q", title)
	}
	if c, _ := r.Get("company"); c != "Gamma" {
		t.Errorf("company: %q", c)
	}
	if id, _ := r.Get("jobId"); id != "abc-1" {
		t.Errorf("jobId: %q", id)
	}
	if b.Hint != nil {
		t.Errorf("expected no hint, got %+v", b.Hint)
	}
}

func TestNewPatternStrategy_RequiresCaptureGroup(t *testing.T) {
	_, err := NewPatternStrategy(PatternRules{Card: "x", Fields: map[string][]string{"title": {"no-group"}}}, nil)
	if err == nil {
		t.Fatal("expected error for pattern without capture group")
	}
}

func openTestSession(t *testing.T) *session.Context {
	t.Helper()
	s, err := (&session.HTTPOpener{Fingerprint: session.FingerprintGo, Timeout: 5 * time.Second}).
		Open(context.Background(), nil, session.Identity{UserAgent: "extract-test"})
	if err != nil {
		t.Fatal(err)
	}
	sc := session.NewContext(s, nil, session.Identity{}, nil)
	t.Cleanup(func() { sc.Close() })
	return sc
}

func TestAPIStrategy_Extract(t *testing.T) {
	var gotPage, gotAppID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPage = r.URL.Query().Get("pageNo")
		gotAppID = r.Header.Get("appid")
		w.Write([]byte(`{"noOfJobs": 45, "jobDetails": [
			{"title": "Go Dev", "companyName": "Acme", "jobId": "101", "minExp": 2, "maxExp": 5,
			 "placeholders": [{"type": "location", "label": "Pune"}, {"type": "salary", "label": "Not disclosed"}],
			 "tagsAndSkills": "go,grpc", "jdURL": "/job-listings-go-dev-101",
			 "ambitionBoxData": {"Url": "x"}},
			{"title": "", "companyName": "Nobody"}
		]}`))
	}))
	defer srv.Close()

	s := NewAPIStrategy(APIRules{
		RecordsPath: "jobDetails",
		TotalPath:   "noOfJobs",
		PageSize:    20,
		Headers:     map[string]string{"appid": "109"},
	}, srv.URL+"/search?k={keyword}&pageNo={page}", Query{Keyword: "golang"})

	b, err := s.Extract(context.Background(), openTestSession(t), Page{Index: 2})
	if err != nil {
		t.Fatal(err)
	}
	if gotPage != "2" || gotAppID != "109" {
		t.Errorf("request not built from template/headers: page=%q appid=%q", gotPage, gotAppID)
	}
	if len(b.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(b.Records))
	}
	r := b.Records[0]
	if v, _ := r.Get("minExp"); v != "2" {
		t.Errorf("numbers should be kept as text, got %q", v)
	}
	if v, _ := r.Get("location"); v != "Pune" {
		t.Errorf("placeholder type not flattened, got %q", v)
	}
	if v := r["placeholders"]; len(v) != 2 {
		t.Errorf("placeholder labels: %v", v)
	}
	if v, _ := r.Get("ambitionBoxData.Url"); v != "x" {
		t.Errorf("nested object not flattened: %q", v)
	}
	if b.Records[1].Titled() {
		t.Error("blank title must not count as titled")
	}
	// page 2 of 45 results at 20 per page: page 3 exists
	if b.Hint == nil || b.Hint.NextPage != 3 {
		t.Errorf("unexpected hint %+v", b.Hint)
	}
}

func TestAPIStrategy_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewAPIStrategy(APIRules{RecordsPath: "jobDetails"}, srv.URL+"/?p={page}", Query{})
	if _, err := s.Extract(context.Background(), openTestSession(t), Page{Index: 1}); err == nil {
		t.Fatal("expected error on 403")
	}
}

type noSleep struct{ calls int }

func (n *noSleep) Sleep(context.Context, time.Duration, time.Duration) error {
	n.calls++
	return nil
}

func TestDetailEnricher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/broken") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`<html><body><div class="key-skill"><a>Go</a><a>Kafka</a></div>
<div class="job-desc"> Build   services </div><span class="time">2 days ago</span></body></html>`))
	}))
	defer srv.Close()

	inner := &mockStrategy{name: "dom", records: []RawRecord{
		{"title": {"A"}, "url": {srv.URL + "/job/1"}},
		{"title": {"B"}, "url": {srv.URL + "/broken"}},
		{"title": {"C"}, "url": {srv.URL + "/job/3"}, "skills": {"Rust"}, "description": {"x"}, "postedDate": {"today"}},
	}}
	pacer := &noSleep{}
	d := NewDetailEnricher(inner, FieldRules{
		Fields: map[string][]Selector{
			"skills":      {{Selector: ".key-skill a"}},
			"description": {{Selector: ".job-desc"}},
			"postedDate":  {{Selector: "span.time"}},
		},
		ListFields: []string{"skills"},
	}, pacer, 0, 0, 10)

	b, err := d.Extract(context.Background(), openTestSession(t), Page{Index: 1})
	if err != nil {
		t.Fatal(err)
	}
	if d.Name() != "dom" {
		t.Errorf("enricher must keep the inner name, got %q", d.Name())
	}

	a := b.Records[0]
	if len(a["skills"]) != 2 || a["skills"][1] != "Kafka" {
		t.Errorf("skills not enriched: %v", a["skills"])
	}
	if desc, _ := a.Get("description"); desc != "Build services" {
		t.Errorf("description: %q", desc)
	}
	if b.Records[1].Has("skills") {
		t.Error("failed detail fetch must leave the record untouched")
	}
	if s := b.Records[2]["skills"]; len(s) != 1 || s[0] != "Rust" {
		t.Errorf("complete record must not be refetched: %v", s)
	}
	if pacer.calls != 1 {
		t.Errorf("expected one pause between two fetches, got %d", pacer.calls)
	}
}
