package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobcrawl_nexus/internal/crawl"
	"jobcrawl_nexus/internal/model"
	"jobcrawl_nexus/internal/shared/types"
	pmodel "jobcrawl_nexus/proxypool/model"
)

type fakeController struct {
	runs      []crawl.Progress
	summaries []crawl.Summary
	proxies   []pmodel.Snapshot
	refreshed int
}

func (f *fakeController) Runs() []crawl.Progress     { return f.runs }
func (f *fakeController) Summaries() []crawl.Summary { return f.summaries }
func (f *fakeController) Proxies() []pmodel.Snapshot { return f.proxies }
func (f *fakeController) RefreshProxies(context.Context) int {
	f.refreshed++
	return 2
}

type fakeStore map[string]crawl.Summary

func (s fakeStore) Summary(_ context.Context, id string) (crawl.Summary, bool, error) {
	v, ok := s[id]
	return v, ok, nil
}

func newTestMux(ctrl *fakeController, web types.WebConf) (*http.ServeMux, *Hub) {
	hub := NewHub()
	store := fakeStore{"old-run": {RunID: "old-run", Keyword: "rust"}}
	return NewMux(web, NewHandler(ctrl, store), hub), hub
}

func TestStatusIsPublic(t *testing.T) {
	ctrl := &fakeController{
		runs: []crawl.Progress{
			{RunID: "a", Phase: crawl.PhaseFetching},
			{RunID: "b", Phase: crawl.PhaseCompleted},
		},
		summaries: []crawl.Summary{{RunID: "b"}},
		proxies:   []pmodel.Snapshot{{ID: "http://1.2.3.4:80"}},
	}
	mux, _ := newTestMux(ctrl, types.WebConf{User: "admin", Password: "secret"})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1, st.ActiveRuns)
	assert.Equal(t, 1, st.Finished)
	assert.Equal(t, 1, st.Proxies)
}

func TestAuthRequired(t *testing.T) {
	mux, _ := newTestMux(&fakeController{}, types.WebConf{User: "admin", Password: "secret"})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunLookup(t *testing.T) {
	ctrl := &fakeController{
		runs:      []crawl.Progress{{RunID: "live", Keyword: "go"}},
		summaries: []crawl.Summary{{RunID: "done", Keyword: "java", Collected: 7}},
	}
	mux, _ := newTestMux(ctrl, types.WebConf{})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/api/runs/done")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"collected":7`)

	rec = get("/api/runs/live")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"keyword":"go"`)

	rec = get("/api/runs/old-run")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"keyword":"rust"`)

	assert.Equal(t, http.StatusNotFound, get("/api/runs/nope").Code)
}

func TestRefreshProxies(t *testing.T) {
	ctrl := &fakeController{}
	mux, _ := newTestMux(ctrl, types.WebConf{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/proxies/refresh", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ctrl.refreshed)
	assert.Contains(t, rec.Body.String(), `"added":2`)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/proxies/refresh", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHubBroadcastsListings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux, hub := newTestMux(&fakeController{}, types.WebConf{})
	go hub.Run(ctx)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Emit(ctx, model.Listing{Title: model.Text("Go Dev"), SourceURL: "https://jobs.test/1"}))
	require.NoError(t, hub.Finalize(ctx, crawl.Summary{RunID: "r1", Status: crawl.StatusCompleted}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second WebSocketMessage
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, MsgListing, first.Type)
	assert.Equal(t, MsgRunFinished, second.Type)
	assert.Equal(t, "Go Dev", first.Data.(map[string]interface{})["title"])
}
