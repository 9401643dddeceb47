// Package crawl drives one search from the first result page until the
// target is reached or the run gives up.
package crawl

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"jobcrawl_nexus/internal/detect"
	"jobcrawl_nexus/internal/extract"
	"jobcrawl_nexus/internal/model"
	"jobcrawl_nexus/internal/pacing"
	"jobcrawl_nexus/internal/session"
	"jobcrawl_nexus/internal/shared/logger"
	"jobcrawl_nexus/proxypool"
	pmodel "jobcrawl_nexus/proxypool/model"
)

const finalizeTimeout = 10 * time.Second

// ProxySource is the part of proxypool.Manager the orchestrator needs.
type ProxySource interface {
	Next() (*pmodel.Endpoint, error)
	ReportSuccess(e *pmodel.Endpoint)
	ReportFailure(e *pmodel.Endpoint)
}

type IdentitySource interface {
	Next() session.Identity
}

type Pacer interface {
	Wait(ctx context.Context) error
	Sleep(ctx context.Context, min, max time.Duration) error
	InteractionPlan(vp pacing.Viewport) pacing.Plan
}

type Classifier interface {
	Classify(text, title string) detect.Verdict
}

type Extractor interface {
	Run(ctx context.Context, sc *session.Context, page extract.Page) extract.Outcome
}

type Normalizer interface {
	Normalize(rec extract.RawRecord) (model.Listing, error)
}

// Deps are the collaborators of one run. Proxies and Sink may be nil.
type Deps struct {
	Proxies    ProxySource
	Opener     session.Opener
	Identities IdentitySource
	Pacer      Pacer
	Detector   Classifier
	Chain      Extractor
	Normalizer Normalizer
	Sink       Sink
}

// Orchestrator is single-use: create one per run.
type Orchestrator struct {
	cfg  Config
	deps Deps
	id   string
	log  zerolog.Logger

	mu    sync.Mutex
	state State

	sc     *session.Context
	seen   map[string]bool
	counts map[string]int
	tracer trace.Tracer
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Opener == nil || deps.Identities == nil || deps.Pacer == nil ||
		deps.Detector == nil || deps.Chain == nil || deps.Normalizer == nil {
		return nil, errors.New("crawl: missing collaborator")
	}
	id := uuid.NewString()
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		id:     id,
		log:    logger.WithComponent("Crawl/Orchestrator").With().Str("run", id[:8]).Str("keyword", cfg.Query.Keyword).Logger(),
		state:  State{TargetCount: cfg.TargetResultCount, Phase: PhaseInit},
		seen:   make(map[string]bool),
		counts: make(map[string]int),
		tracer: otel.Tracer("jobcrawl_nexus/internal/crawl"),
	}, nil
}

func (o *Orchestrator) ID() string { return o.id }

// Progress can be called from any goroutine while Run is in flight.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Progress{
		RunID:               o.id,
		Keyword:             o.cfg.Query.Keyword,
		Phase:               o.state.Phase,
		Collected:           len(o.state.Collected),
		Target:              o.state.TargetCount,
		CurrentPage:         o.state.CurrentPageIndex,
		PagesVisited:        o.state.PagesVisited,
		ConsecutiveFailures: o.state.ConsecutiveFailures,
		Strategy:            o.state.StrategyInUse,
	}
}

func (o *Orchestrator) update(fn func(st *State)) {
	o.mu.Lock()
	fn(&o.state)
	o.mu.Unlock()
}

func (o *Orchestrator) setPhase(p Phase) {
	o.update(func(st *State) { st.Phase = p })
}

func (o *Orchestrator) collected() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.state.Collected)
}

// Run never returns nil. Whatever was collected before a stop is kept.
func (o *Orchestrator) Run(ctx context.Context) *Result {
	started := time.Now()
	o.log.Info().Int("target", o.cfg.TargetResultCount).Msg("Crawl started.")

	status, reason := o.loop(ctx)
	o.closeSession()

	o.mu.Lock()
	if status == StatusCompleted {
		o.state.Phase = PhaseCompleted
	} else {
		o.state.Phase = PhaseAborted
	}
	listings := make([]model.Listing, len(o.state.Collected))
	copy(listings, o.state.Collected)
	pages := o.state.PagesVisited
	o.mu.Unlock()

	counts := make(map[string]int, len(o.counts))
	for k, v := range o.counts {
		counts[k] = v
	}
	summary := Summary{
		RunID:          o.id,
		Keyword:        o.cfg.Query.Keyword,
		Status:         status,
		Reason:         reason,
		Collected:      len(listings),
		Target:         o.cfg.TargetResultCount,
		PagesVisited:   pages,
		StartedAt:      started,
		FinishedAt:     time.Now(),
		StrategyCounts: counts,
	}

	if o.deps.Sink != nil {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
		if err := o.deps.Sink.Finalize(fctx, summary); err != nil {
			o.log.Error().Err(err).Msg("Sink finalize failed.")
		}
		cancel()
	}

	o.log.Info().
		Str("status", string(status)).
		Str("reason", string(reason)).
		Int("collected", summary.Collected).
		Int("pages", pages).
		Dur("took", summary.Duration()).
		Msg("Crawl finished.")
	return &Result{Summary: summary, Listings: listings}
}

func (o *Orchestrator) loop(ctx context.Context) (Status, Reason) {
	pageIndex := 1
	pageURL := o.cfg.Query.Render(o.cfg.SearchURLTemplate, pageIndex)

	for {
		if ctx.Err() != nil {
			return StatusAborted, ReasonCancelled
		}
		if o.cfg.MaxPages > 0 && pageIndex > o.cfg.MaxPages {
			return StatusCompleted, ReasonPageLimit
		}
		o.update(func(st *State) { st.CurrentPageIndex = pageIndex })

		status, reason, next, nextIndex, done := o.page(ctx, pageIndex, pageURL)
		if done {
			return status, reason
		}
		pageURL, pageIndex = next, nextIndex
	}
}

// page runs one page through Acquiring → Paginating. done is set when the
// run reached a terminal state.
func (o *Orchestrator) page(ctx context.Context, index int, pageURL string) (status Status, reason Reason, next string, nextIndex int, done bool) {
	ctx, span := o.tracer.Start(ctx, "crawl.page", trace.WithAttributes(
		attribute.String("keyword", o.cfg.Query.Keyword),
		attribute.Int("page", index),
	))
	defer func() {
		if done {
			span.SetAttributes(attribute.String("reason", string(reason)))
			if status == StatusAborted {
				span.SetStatus(codes.Error, string(reason))
			}
		}
		span.End()
	}()

	out, abort, degraded := o.load(ctx, pageURL)
	if abort != "" {
		return StatusAborted, abort, "", 0, true
	}

	var added int
	var hint *extract.PaginationHint
	if !degraded {
		o.setPhase(PhaseExtracting)
		res := o.deps.Chain.Run(ctx, o.sc, extract.Page{Index: index, URL: pageURL, Outcome: out})
		if ctx.Err() != nil {
			return StatusAborted, ReasonCancelled, "", 0, true
		}
		o.update(func(st *State) { st.StrategyInUse = res.Used })
		if res.Used == "" {
			o.log.Warn().Int("page", index).Int("strategies", len(res.Attempts)).Msg("No strategy produced records.")
		}
		added = o.accept(ctx, res)
		hint = res.Hint
		span.SetAttributes(attribute.String("strategy", res.Used), attribute.Int("records", added))
	}

	o.setPhase(PhasePaginating)
	var failures int
	o.update(func(st *State) {
		st.PagesVisited++
		if added == 0 {
			st.ConsecutiveFailures++
		} else {
			st.ConsecutiveFailures = 0
		}
		failures = st.ConsecutiveFailures
	})

	if o.collected() >= o.cfg.TargetResultCount {
		return StatusCompleted, ReasonTargetReached, "", 0, true
	}
	if failures >= o.cfg.MaxConsecutiveEmptyPages {
		o.log.Warn().Int("pages", failures).Msg("Too many pages without records, stopping.")
		return StatusCompleted, ReasonEmptyPageLimit, "", 0, true
	}

	next, nextIndex = o.nextPage(index, hint)
	if out != nil {
		out.NextURL = next
	}
	if o.cfg.RotateProxyPerPage {
		o.closeSession()
	}
	o.log.Debug().Int("page", index).Int("added", added).Str("next", next).Msg("Page done.")
	return "", "", next, nextIndex, false
}

// nextPage prefers the link the page itself advertised.
func (o *Orchestrator) nextPage(index int, hint *extract.PaginationHint) (string, int) {
	switch {
	case hint != nil && hint.NextURL != "":
		return hint.NextURL, index + 1
	case hint != nil && hint.NextPage > index:
		return o.cfg.Query.Render(o.cfg.SearchURLTemplate, hint.NextPage), hint.NextPage
	default:
		return o.cfg.Query.Render(o.cfg.SearchURLTemplate, index+1), index + 1
	}
}

// load acquires a session if needed, fetches and classifies pageURL, and
// retries with a fresh proxy while the per-page budget allows. degraded
// means the budget went to transport errors and the page is given up on.
func (o *Orchestrator) load(ctx context.Context, pageURL string) (out *model.PageOutcome, abort Reason, degraded bool) {
	attempts := 0
	budgetSpent := func() bool {
		attempts++
		return attempts >= o.cfg.MaxProxyRetriesPerPage
	}

	for {
		if ctx.Err() != nil {
			return nil, ReasonCancelled, false
		}

		if o.sc == nil {
			o.setPhase(PhaseAcquiring)
			reason, err := o.acquire(ctx)
			if reason != "" {
				return nil, reason, false
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil, ReasonCancelled, false
				}
				o.log.Warn().Err(err).Int("attempt", attempts+1).Msg("Could not open session.")
				if budgetSpent() {
					return nil, "", true
				}
				continue
			}
		}

		o.setPhase(PhaseFetching)
		page, err := o.fetch(ctx, pageURL)
		if ctx.Err() != nil {
			return nil, ReasonCancelled, false
		}
		if err != nil {
			o.log.Warn().Err(err).Str("url", pageURL).Int("attempt", attempts+1).Msg("Navigation failed, rotating proxy.")
			o.dropSession()
			if budgetSpent() {
				o.log.Warn().Str("url", pageURL).Msg("Transport retries spent, skipping page.")
				return nil, "", true
			}
			continue
		}

		o.setPhase(PhaseClassifying)
		verdict := o.classify(page)
		if verdict == detect.Captcha {
			page, verdict, err = o.resolveCaptcha(ctx)
			if ctx.Err() != nil {
				return nil, ReasonCancelled, false
			}
			if err != nil {
				o.log.Warn().Err(err).Msg("Reload after CAPTCHA wait failed.")
				verdict = detect.Blocked
			}
		}

		if verdict == detect.Blocked {
			o.log.Warn().Str("url", pageURL).Str("proxy", o.proxyName()).Int("attempt", attempts+1).Msg("Blocked, rotating proxy.")
			o.dropSession()
			if budgetSpent() {
				return nil, ReasonPersistentBlock, false
			}
			continue
		}

		o.sc.MarkSucceeded()
		return page, "", false
	}
}

func (o *Orchestrator) acquire(ctx context.Context) (Reason, error) {
	var proxy *pmodel.Endpoint
	var reporter session.Reporter

	if o.deps.Proxies != nil {
		reporter = o.deps.Proxies
		p, err := o.deps.Proxies.Next()
		switch {
		case err == nil:
			proxy = p
		case o.cfg.RequireProxy:
			o.log.Error().Err(err).Msg("No proxy available and proxies are required.")
			return ReasonResourceExhausted, nil
		case errors.Is(err, proxypool.ErrNoProxyAvailable):
			o.log.Warn().Msg("Proxy pool is empty, going direct.")
		default:
			return "", err
		}
	} else if o.cfg.RequireProxy {
		o.log.Error().Msg("Proxies are required but no pool is configured.")
		return ReasonResourceExhausted, nil
	}

	id := o.deps.Identities.Next()
	sc, err := session.Open(ctx, o.deps.Opener, proxy, id, reporter)
	if err != nil {
		if proxy != nil {
			o.deps.Proxies.ReportFailure(proxy)
		}
		return "", err
	}
	o.sc = sc
	o.log.Debug().Str("session", sc.ID).Str("proxy", o.proxyName()).Str("ua", id.UserAgent).Msg("Session opened.")
	return "", nil
}

func (o *Orchestrator) fetch(ctx context.Context, pageURL string) (*model.PageOutcome, error) {
	if err := o.deps.Pacer.Wait(ctx); err != nil {
		return nil, err
	}
	if err := o.deps.Pacer.Sleep(ctx, o.cfg.PageDelayMin, o.cfg.PageDelayMax); err != nil {
		return nil, err
	}
	out, err := o.sc.Navigate(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if err := o.sc.Interact(ctx, o.deps.Pacer.InteractionPlan(o.sc.Identity.Viewport)); err != nil {
		o.log.Debug().Err(err).Msg("Interaction replay failed.")
	}
	if err := o.deps.Pacer.Sleep(ctx, o.cfg.ActionDelayMin, o.cfg.ActionDelayMax); err != nil {
		return nil, err
	}
	return out, nil
}

// classify adds status codes to the content markers: 403 and 429 are
// denials even when the body is a bland error page.
func (o *Orchestrator) classify(out *model.PageOutcome) detect.Verdict {
	if out == nil {
		return detect.Ok
	}
	if out.StatusCode == http.StatusForbidden || out.StatusCode == http.StatusTooManyRequests {
		out.Status = model.PageBlocked
		return detect.Blocked
	}
	if out.Status == model.PageEmpty {
		return detect.Ok
	}
	if out.Text == "" {
		title, text := detect.Visible(out.Content)
		out.Text = text
		if out.Title == "" {
			out.Title = title
		}
	}
	v := o.deps.Detector.Classify(out.Text, out.Title)
	out.Status = v.PageStatus()
	return v
}

// resolveCaptcha waits up to the ceiling, reloads and classifies once more.
// A page that still shows the challenge counts as a block.
func (o *Orchestrator) resolveCaptcha(ctx context.Context) (*model.PageOutcome, detect.Verdict, error) {
	o.log.Warn().Dur("ceiling", o.cfg.CaptchaWaitCeiling).Msg("CAPTCHA detected, waiting for resolution.")
	if err := o.sc.AwaitResolution(ctx, o.cfg.CaptchaWaitCeiling); err != nil {
		return nil, detect.Captcha, err
	}
	page, err := o.sc.Reload(ctx)
	if err != nil {
		return nil, detect.Captcha, err
	}
	v := o.classify(page)
	if v == detect.Captcha {
		o.log.Warn().Msg("CAPTCHA still present after wait.")
		v = detect.Blocked
	}
	return page, v, nil
}

// accept normalizes records in page order and appends them until the
// target is reached. Bad records and duplicates are skipped.
func (o *Orchestrator) accept(ctx context.Context, res extract.Outcome) int {
	added := 0
	for i, rec := range res.Records {
		if o.collected() >= o.cfg.TargetResultCount {
			break
		}
		l, err := o.deps.Normalizer.Normalize(rec)
		if err != nil {
			o.log.Warn().Err(err).Int("record", i).Msg("Record rejected.")
			continue
		}
		key := l.Key()
		if o.seen[key] {
			o.log.Debug().Str("key", key).Msg("Duplicate listing skipped.")
			continue
		}
		o.seen[key] = true
		o.update(func(st *State) { st.Collected = append(st.Collected, l) })
		o.counts[res.Used]++
		added++

		if o.deps.Sink != nil {
			if err := o.deps.Sink.Emit(ctx, l); err != nil {
				o.log.Error().Err(err).Str("key", key).Msg("Sink emit failed.")
			}
		}
	}
	return added
}

// dropSession closes the current session after a failure. The proxy is
// reported failed before the close so Close does not report success.
func (o *Orchestrator) dropSession() {
	if o.sc == nil {
		return
	}
	o.sc.MarkFailed()
	o.closeSession()
}

func (o *Orchestrator) closeSession() {
	if o.sc == nil {
		return
	}
	if err := o.sc.Close(); err != nil {
		o.log.Debug().Err(err).Msg("Session close returned an error.")
	}
	o.sc = nil
}

func (o *Orchestrator) proxyName() string {
	if o.sc == nil || o.sc.Proxy == nil {
		return "direct"
	}
	return o.sc.Proxy.ID
}
