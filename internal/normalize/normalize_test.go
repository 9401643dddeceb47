package normalize

import (
	"errors"
	"regexp"
	"testing"

	"github.com/google/go-cmp/cmp"

	"jobcrawl_nexus/internal/extract"
	"jobcrawl_nexus/internal/model"
)

var idRe = regexp.MustCompile(`job-listings-([\w-]+)`)

func newNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := New("https://jobs.test/", "https://jobs.test/job-listings-{job_id}", idRe)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

// cmp cannot see model.Field's unexported fields, so compare rendered text.
type flat struct {
	Title, Company, Experience, Location, Salary string
	Skills                                       []string
	Description, Posted, URL, ID                 string
}

func flatten(l model.Listing) flat {
	return flat{
		Title:       l.Title.String(),
		Company:     l.Company.String(),
		Experience:  l.ExperienceRange.String(),
		Location:    l.Location.String(),
		Salary:      l.Salary.String(),
		Skills:      l.Skills,
		Description: l.Description.String(),
		Posted:      l.PostedDate.String(),
		URL:         l.SourceURL,
		ID:          l.JobID.String(),
	}
}

func TestNormalize_DOMRecord(t *testing.T) {
	rec := extract.RawRecord{
		"title":      {"Go Developer"},
		"company":    {"Acme"},
		"experience": {"2-5 Yrs"},
		"location":   {"Pune", "Remote"},
		"skills":     {"Go", "gRPC", "go"},
		"url":        {"/job-listings-go-dev-111"},
	}
	got, err := newNormalizer(t).Normalize(rec)
	if err != nil {
		t.Fatal(err)
	}
	want := flat{
		Title:       "Go Developer",
		Company:     "Acme",
		Experience:  "2-5 Yrs",
		Location:    "Pune, Remote",
		Salary:      "N/A",
		Skills:      []string{"Go", "gRPC"},
		Description: "N/A",
		Posted:      "N/A",
		URL:         "https://jobs.test/job-listings-go-dev-111",
		ID:          "go-dev-111",
	}
	if diff := cmp.Diff(want, flatten(got)); diff != "" {
		t.Errorf("listing mismatch (-want +got):\n%s", diff)
	}
	if got.Salary.Present() {
		t.Error("missing salary must be the sentinel")
	}
}

func TestNormalize_APIRecord(t *testing.T) {
	rec := extract.RawRecord{
		"title":                  {"SRE"},
		"companyName":            {"Beta"},
		"minExp":                 {"3"},
		"maxExp":                 {"6"},
		"salary":                 {"Not disclosed"},
		"tagsAndSkills":          {"Kubernetes, Go,,Terraform"},
		"jobDescription":         {"<p>Run &amp; scale <b>clusters</b></p>"},
		"footerPlaceholderLabel": {"3 Days Ago"},
		"jobId":                  {"240101"},
	}
	got, err := newNormalizer(t).Normalize(rec)
	if err != nil {
		t.Fatal(err)
	}
	want := flat{
		Title:       "SRE",
		Company:     "Beta",
		Experience:  "3-6 years",
		Location:    "N/A",
		Salary:      "Not disclosed",
		Skills:      []string{"Kubernetes", "Go", "Terraform"},
		Description: "Run & scale clusters",
		Posted:      "3 Days Ago",
		URL:         "https://jobs.test/job-listings-240101",
		ID:          "240101",
	}
	if diff := cmp.Diff(want, flatten(got)); diff != "" {
		t.Errorf("listing mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_RejectsRecordWithoutSource(t *testing.T) {
	n, err := New("", "", idRe)
	if err != nil {
		t.Fatal(err)
	}
	_, err = n.Normalize(extract.RawRecord{"title": {"Orphan"}})
	if !errors.Is(err, ErrNoSourceURL) {
		t.Fatalf("expected ErrNoSourceURL, got %v", err)
	}
}

func TestNormalize_SkillsUnknownIsNil(t *testing.T) {
	got, err := newNormalizer(t).Normalize(extract.RawRecord{"url": {"https://x.test/a"}})
	if err != nil {
		t.Fatal(err)
	}
	if got.Skills != nil {
		t.Errorf("expected nil skills, got %#v", got.Skills)
	}
	if got.JobID.Present() {
		t.Errorf("expected no job id, got %q", got.JobID.String())
	}
	if got.Title.String() != model.NotAvailableText {
		t.Errorf("title should render N/A, got %q", got.Title.String())
	}
}

func TestExperience_SingleBound(t *testing.T) {
	f := experience(extract.RawRecord{"minExp": {"4"}, "maxExp": {"4"}})
	if f.String() != "4 years" {
		t.Errorf("got %q", f.String())
	}
	if experience(extract.RawRecord{}).Present() {
		t.Error("expected sentinel")
	}
}
