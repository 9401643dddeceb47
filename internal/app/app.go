package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"jobcrawl_nexus/internal/crawl"
	"jobcrawl_nexus/internal/detect"
	"jobcrawl_nexus/internal/extract"
	"jobcrawl_nexus/internal/normalize"
	"jobcrawl_nexus/internal/pacing"
	"jobcrawl_nexus/internal/service/web"
	"jobcrawl_nexus/internal/session"
	"jobcrawl_nexus/internal/shared/logger"
	"jobcrawl_nexus/internal/shared/types"
	"jobcrawl_nexus/internal/sink"
	"jobcrawl_nexus/proxypool"
	pmodel "jobcrawl_nexus/proxypool/model"
)

const (
	progressInterval = 2 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// App wires the proxy pool, sessions, extraction and sinks together and runs
// one crawl per keyword.
type App struct {
	cfg       *types.Config
	configDir string

	rules      *extract.Rules
	idRe       *regexp.Regexp
	pool       *proxypool.Manager
	opener     session.Opener
	identities *session.Identities
	pacer      *pacing.Policy
	detector   *detect.Detector
	normalizer *normalize.Normalizer

	sinks  sink.Multi
	store  web.SummaryStore
	hub    *web.Hub
	server *web.Server

	mu        sync.Mutex
	runs      []*crawl.Orchestrator
	summaries []crawl.Summary

	cancelBackground context.CancelFunc
	waitGroup        sync.WaitGroup
	startOnce        sync.Once
	stopOnce         sync.Once
}

var _ web.Controller = (*App)(nil)

// New builds every component from cfg. Relative proxy, state and rules
// paths are resolved against configDir.
func New(cfg *types.Config, configDir string) (*App, error) {
	a := &App{cfg: cfg, configDir: configDir}

	var err error
	if a.rules, a.idRe, err = a.buildRules(); err != nil {
		return nil, err
	}
	if a.opener, err = newOpener(cfg.SessionConf); err != nil {
		return nil, err
	}
	if a.pool, err = a.buildPool(); err != nil {
		return nil, err
	}

	a.identities = session.NewIdentities(cfg.UserAgents, cfg.AcceptLanguage,
		pacing.Viewport{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight}, nil)
	a.pacer = pacing.New(pacing.WithRequestBudget(cfg.RequestsPerMinute, cfg.Burst))
	a.detector = detect.New(cfg.CaptchaMarkers, cfg.BlockMarkers)

	if a.normalizer, err = normalize.New(cfg.BaseURL, cfg.ListingURLTemplate, a.idRe); err != nil {
		return nil, fmt.Errorf("normalizer: %w", err)
	}

	if cfg.WebConf.Port > 0 {
		a.hub = web.NewHub()
	}
	if err := a.buildSinks(); err != nil {
		a.sinks.Close()
		return nil, err
	}
	return a, nil
}

// Run crawls every keyword concurrently and blocks until all runs end.
// keywords overrides the configured list when non-empty.
func (a *App) Run(ctx context.Context, keywords []string) ([]*crawl.Result, error) {
	l := logger.WithComponent("App")
	if len(keywords) == 0 {
		keywords = a.cfg.Keywords
	}
	if len(keywords) == 0 {
		return nil, errors.New("no keywords configured")
	}

	// 1. 构建所有编排器，配置错误在启动任何后台任务之前暴露
	orchestrators := make([]*crawl.Orchestrator, 0, len(keywords))
	for _, kw := range keywords {
		o, err := a.newOrchestrator(kw)
		if err != nil {
			return nil, fmt.Errorf("keyword %q: %w", kw, err)
		}
		orchestrators = append(orchestrators, o)
	}
	a.mu.Lock()
	a.runs = append(a.runs, orchestrators...)
	a.mu.Unlock()

	// 2. 启动后台服务：代理池、监控面板、进度推送
	a.startOnce.Do(func() { a.startBackground(ctx) })

	if a.cfg.RunTimeout > 0 {
		var cancelRun context.CancelFunc
		ctx, cancelRun = context.WithTimeout(ctx, a.cfg.RunTimeout)
		defer cancelRun()
	}

	// 3. 并发运行
	results := make([]*crawl.Result, len(orchestrators))
	var wg sync.WaitGroup
	for i, o := range orchestrators {
		wg.Add(1)
		go func(i int, o *crawl.Orchestrator) {
			defer wg.Done()
			res := o.Run(ctx)
			results[i] = res
			a.mu.Lock()
			a.summaries = append(a.summaries, res.Summary)
			a.mu.Unlock()
		}(i, o)
	}
	wg.Wait()

	l.Info().Int("runs", len(results)).Msg("All crawl runs finished.")
	return results, nil
}

func (a *App) newOrchestrator(keyword string) (*crawl.Orchestrator, error) {
	q := extract.Query{Keyword: keyword, Experience: a.cfg.Experience}
	chain, err := a.buildChain(q)
	if err != nil {
		return nil, err
	}
	cfg := crawl.Config{
		Query:                    q,
		SearchURLTemplate:        a.cfg.SearchURLTemplate,
		TargetResultCount:        a.cfg.TargetResultCount,
		MaxProxyRetriesPerPage:   a.cfg.MaxProxyRetriesPerPage,
		MaxConsecutiveEmptyPages: a.cfg.MaxConsecutiveEmptyPages,
		CaptchaWaitCeiling:       a.cfg.CaptchaWaitCeiling,
		StrategyPriorityOrder:    chain.Names(),
		RequireProxy:             a.cfg.RequireProxy,
		MaxPages:                 a.cfg.MaxPages,
		RotateProxyPerPage:       a.cfg.RotateProxyPerPage,
		PageDelayMin:             a.cfg.PageDelayMin,
		PageDelayMax:             a.cfg.PageDelayMax,
		ActionDelayMin:           a.cfg.ActionDelayMin,
		ActionDelayMax:           a.cfg.ActionDelayMax,
	}
	// 空池时 Next 返回 ErrNoProxyAvailable，编排器直接连接或按 RequireProxy 终止
	deps := crawl.Deps{
		Proxies:    a.pool,
		Opener:     a.opener,
		Identities: a.identities,
		Pacer:      a.pacer,
		Detector:   a.detector,
		Chain:      chain,
		Normalizer: a.normalizer,
	}
	if len(a.sinks) > 0 {
		deps.Sink = a.sinks
	}
	return crawl.New(cfg, deps)
}

func (a *App) startBackground(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(context.Background())
	a.cancelBackground = cancel
	a.startPool(ctx)
	if a.hub == nil {
		return
	}
	go a.hub.Run(bgCtx)
	srv, err := web.StartServer(&a.waitGroup, a.cfg.WebConf, web.NewHandler(a, a.store), a.hub)
	if err != nil {
		l := logger.WithComponent("App")
		l.Error().Err(err).Msg("Monitor failed to start, continuing without it.")
	}
	a.server = srv
	a.waitGroup.Add(1)
	go a.progressLoop(bgCtx)
}

func (a *App) startPool(ctx context.Context) {
	l := logger.WithComponent("App")
	a.pool.Start()
	if len(a.cfg.TableSources) > 0 || len(a.cfg.ScriptSources) > 0 {
		added := a.pool.Refresh(ctx)
		l.Info().Int("added", added).Msg("Proxy sources scraped.")
	}
	if a.cfg.ValidateOnStart && a.pool.Len() > 0 {
		a.pool.Validate(ctx)
	}
	l.Info().Int("proxies", a.pool.Len()).Msg("Proxy pool ready.")
}

// progressLoop 定期向监控面板推送所有运行的进度。
func (a *App) progressLoop(ctx context.Context) {
	defer a.waitGroup.Done()
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.hub.ClientCount() == 0 {
				continue
			}
			a.hub.BroadcastProgress(a.Runs())
		}
	}
}

// Stop releases everything Run started. Safe to call more than once.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		l := logger.WithComponent("App")
		l.Info().Msg("Shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			l.Warn().Err(err).Msg("Monitor shutdown failed.")
		}
		if a.cancelBackground != nil {
			a.cancelBackground()
		}
		a.pool.Stop()
		if err := a.sinks.Close(); err != nil {
			l.Warn().Err(err).Msg("Closing sinks failed.")
		}
		a.waitGroup.Wait()
		l.Info().Msg("Shutdown complete.")
	})
}

// Runs returns the progress of every run started by this process.
func (a *App) Runs() []crawl.Progress {
	a.mu.Lock()
	runs := append([]*crawl.Orchestrator(nil), a.runs...)
	a.mu.Unlock()

	out := make([]crawl.Progress, 0, len(runs))
	for _, o := range runs {
		out = append(out, o.Progress())
	}
	return out
}

func (a *App) Summaries() []crawl.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]crawl.Summary(nil), a.summaries...)
}

func (a *App) Proxies() []pmodel.Snapshot { return a.pool.Snapshot() }

func (a *App) RefreshProxies(ctx context.Context) int { return a.pool.Refresh(ctx) }
