package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"jobcrawl_nexus/internal/crawl"
	"jobcrawl_nexus/internal/shared/logger"
	pmodel "jobcrawl_nexus/proxypool/model"
)

const refreshTimeout = 2 * time.Minute

// Controller is what the handler needs from the application. It decouples
// the web package from internal/app.
type Controller interface {
	Runs() []crawl.Progress
	Summaries() []crawl.Summary
	Proxies() []pmodel.Snapshot
	RefreshProxies(ctx context.Context) int
}

// SummaryStore looks up summaries of runs this process no longer holds,
// e.g. from Redis.
type SummaryStore interface {
	Summary(ctx context.Context, runID string) (crawl.Summary, bool, error)
}

type Handler struct {
	controller Controller
	store      SummaryStore
	started    time.Time
}

func NewHandler(controller Controller, store SummaryStore) *Handler {
	return &Handler{controller: controller, store: store, started: time.Now()}
}

// StatusResponse is the public health payload.
type StatusResponse struct {
	Uptime     string `json:"uptime"`
	ActiveRuns int    `json:"active_runs"`
	Finished   int    `json:"finished_runs"`
	Proxies    int    `json:"proxies"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		l := logger.WithComponent("Web/Handler")
		l.Warn().Err(err).Msg("Failed to write response.")
	}
}

// HandleStatus 处理 GET /api/status 请求
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	active := 0
	for _, p := range h.controller.Runs() {
		if p.Phase != crawl.PhaseCompleted && p.Phase != crawl.PhaseAborted {
			active++
		}
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Uptime:     time.Since(h.started).Truncate(time.Second).String(),
		ActiveRuns: active,
		Finished:   len(h.controller.Summaries()),
		Proxies:    len(h.controller.Proxies()),
	})
}

// HandleRuns 处理 GET /api/runs 请求：运行中的进度与已结束的摘要。
func (h *Handler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":      h.controller.Runs(),
		"summaries": h.controller.Summaries(),
	})
}

// HandleRun 处理 GET /api/runs/{id} 请求
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, s := range h.controller.Summaries() {
		if s.RunID == id {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	for _, p := range h.controller.Runs() {
		if p.RunID == id {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}
	if h.store != nil {
		s, ok, err := h.store.Summary(r.Context(), id)
		if err != nil {
			l := logger.WithComponent("Web/Handler")
			l.Warn().Err(err).Str("run", id).Msg("Summary lookup failed.")
			http.Error(w, "summary store unavailable", http.StatusBadGateway)
			return
		}
		if ok {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	http.NotFound(w, r)
}

// HandleProxies 处理 GET /api/proxies 请求
func (h *Handler) HandleProxies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Proxies())
}

// HandleRefreshProxies 处理 POST /api/proxies/refresh 请求
func (h *Handler) HandleRefreshProxies(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()
	added := h.controller.RefreshProxies(ctx)
	writeJSON(w, http.StatusOK, map[string]int{"added": added, "total": len(h.controller.Proxies())})
}
