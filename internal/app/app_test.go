package app

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobcrawl_nexus/internal/crawl"
	"jobcrawl_nexus/internal/session"
	"jobcrawl_nexus/internal/shared/types"
)

// newJobSite serves three cards per search page for the first three pages.
func newJobSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/golang-developer-jobs-"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		var b strings.Builder
		b.WriteString("<html><head><title>Golang Developer Jobs</title></head><body>")
		if n <= 3 {
			for i := 0; i < 3; i++ {
				id := fmt.Sprintf("p%d-%d", n, i)
				fmt.Fprintf(&b, `<div data-job-id="%s"><a class="title" href="/job-listings-%s">Go Engineer %s</a><a class="comp-name">Acme</a></div>`, id, id, id)
			}
		}
		b.WriteString("</body></html>")
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, b.String())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, siteURL string) *types.Config {
	cfg := types.Default()
	cfg.Keywords = []string{"Golang Developer"}
	cfg.TargetResultCount = 5
	cfg.StrategyPriority = []string{"dom", "pattern"}
	cfg.EnrichDetails = false
	cfg.BaseURL = siteURL
	cfg.SearchURLTemplate = siteURL + "/{keyword_slug}-jobs-{page}"
	cfg.APIURLTemplate = ""
	cfg.ListingURLTemplate = siteURL + "/job-listings-{job_id}"
	cfg.TLSFingerprint = session.FingerprintGo
	cfg.ValidationTarget = ""
	cfg.PageDelayMin, cfg.PageDelayMax = 0, 0
	cfg.ActionDelayMin, cfg.ActionDelayMax = 0, 0
	cfg.CSVPath = filepath.Join(t.TempDir(), "out", "jobs.csv")
	cfg.WebConf.Port = 0
	return cfg
}

func TestAppRunCollectsTarget(t *testing.T) {
	site := newJobSite(t)
	cfg := testConfig(t, site.URL)

	a, err := New(cfg, t.TempDir())
	require.NoError(t, err)

	results, err := a.Run(context.Background(), nil)
	require.NoError(t, err)
	a.Stop()

	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, crawl.StatusCompleted, res.Summary.Status)
	assert.Equal(t, crawl.ReasonTargetReached, res.Summary.Reason)
	assert.Len(t, res.Listings, 5)
	assert.Equal(t, 5, res.Summary.StrategyCounts["dom"])

	require.Len(t, a.Summaries(), 1)
	assert.Equal(t, res.Summary.RunID, a.Summaries()[0].RunID)
	runs := a.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, crawl.PhaseCompleted, runs[0].Phase)
	assert.Empty(t, a.Proxies())

	f, err := os.Open(cfg.CSVPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, "Go Engineer p1-0", rows[1][0])
	assert.Equal(t, "Acme", rows[1][1])
	assert.Equal(t, site.URL+"/job-listings-p1-0", rows[1][8])
}

func TestAppRunsEveryKeyword(t *testing.T) {
	site := newJobSite(t)
	cfg := testConfig(t, site.URL)
	cfg.CSVPath = ""
	cfg.TargetResultCount = 2

	a, err := New(cfg, "")
	require.NoError(t, err)
	defer a.Stop()

	// the site only knows one keyword; the other runs out of pages
	results, err := a.Run(context.Background(), []string{"Golang Developer", "Cobol Wizard"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, crawl.ReasonTargetReached, results[0].Summary.Reason)
	assert.Equal(t, crawl.StatusCompleted, results[1].Summary.Status)
	assert.Equal(t, crawl.ReasonEmptyPageLimit, results[1].Summary.Reason)
	assert.Empty(t, results[1].Listings)
	assert.Len(t, a.Summaries(), 2)
}

func TestAppRejectsBadSetup(t *testing.T) {
	cfg := types.Default()
	cfg.Driver = "carrier-pigeon"
	_, err := New(cfg, "")
	assert.ErrorContains(t, err, "unknown session driver")

	cfg = types.Default()
	cfg.StrategyPriority = []string{"ocr"}
	a, err := New(cfg, "")
	require.NoError(t, err)
	defer a.Stop()
	_, err = a.Run(context.Background(), []string{"go"})
	assert.Error(t, err)

	_, err = a.Run(context.Background(), nil)
	assert.ErrorContains(t, err, "no keywords")
}

func TestNewOpenerByDriver(t *testing.T) {
	for driver, want := range map[string]any{
		"":      &session.HTTPOpener{},
		"HTTP":  &session.HTTPOpener{},
		"colly": &session.CollyOpener{},
		"rod":   &session.RodOpener{},
	} {
		o, err := newOpener(types.SessionConf{Driver: driver})
		require.NoError(t, err, driver)
		assert.IsType(t, want, o, driver)
	}
}
