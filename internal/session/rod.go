package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"jobcrawl_nexus/internal/model"
	"jobcrawl_nexus/internal/pacing"
	"jobcrawl_nexus/internal/shared/logger"
	pmodel "jobcrawl_nexus/proxypool/model"
)

// RodOpener launches one stealth browser per session, since the proxy is a
// browser launch flag.
type RodOpener struct {
	Bin      string
	Headless bool
	Timeout  time.Duration
}

type rodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	timeout  time.Duration

	closeOnce sync.Once
	closeErr  error
}

// fetchJS runs a same-origin fetch inside the page so API calls carry the
// browser's cookies and fingerprint.
const fetchJS = `(url, headers) => fetch(url, {headers: headers, credentials: 'include'})
	.then(async r => ({status: r.status, body: await r.text()}))`

func (o *RodOpener) Open(ctx context.Context, proxy *pmodel.Endpoint, id Identity) (Session, error) {
	l := logger.WithComponent("Session/Rod")

	bin := o.Bin
	if bin == "" {
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	ln := launcher.New().
		Context(ctx).
		Headless(o.Headless).
		Bin(bin).
		NoSandbox(true)
	if proxy != nil {
		ln = ln.Proxy(proxy.ServerURL())
	}

	controlURL, err := ln.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		ln.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	if proxy != nil && proxy.Credentials != nil && proxy.Credentials.Username != "" {
		wait := browser.HandleAuth(proxy.Credentials.Username, proxy.Credentials.Password)
		go func() {
			if err := wait(); err != nil {
				l.Debug().Err(err).Str("proxy_id", proxy.ID).Msg("Proxy auth handler ended.")
			}
		}()
	}

	page, err := stealth.Page(browser)
	if err != nil {
		browser.Close()
		ln.Kill()
		return nil, fmt.Errorf("create stealth page: %w", err)
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      id.UserAgent,
		AcceptLanguage: id.AcceptLanguage,
	}); err != nil {
		l.Warn().Err(err).Msg("Set user agent failed.")
	}
	if id.Viewport.Width > 0 && id.Viewport.Height > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             id.Viewport.Width,
			Height:            id.Viewport.Height,
			DeviceScaleFactor: 1,
		}); err != nil {
			l.Warn().Err(err).Msg("Set viewport failed.")
		}
	}

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &rodSession{launcher: ln, browser: browser, page: page, timeout: timeout}, nil
}

func (s *rodSession) Navigate(ctx context.Context, url string) (*model.PageOutcome, error) {
	p := s.page.Context(ctx).Timeout(s.timeout)
	defer p.CancelTimeout()
	if err := p.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		l := logger.WithComponent("Session/Rod")
		l.Warn().Err(err).Str("url", url).Msg("WaitLoad failed, continuing anyway.")
	}
	return s.snapshot(ctx)
}

func (s *rodSession) Reload(ctx context.Context) (*model.PageOutcome, error) {
	p := s.page.Context(ctx).Timeout(s.timeout)
	defer p.CancelTimeout()
	if err := p.Reload(); err != nil {
		return nil, fmt.Errorf("reload: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		l := logger.WithComponent("Session/Rod")
		l.Warn().Err(err).Msg("WaitLoad after reload failed.")
	}
	return s.snapshot(ctx)
}

func (s *rodSession) snapshot(ctx context.Context) (*model.PageOutcome, error) {
	p := s.page.Context(ctx)
	html, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}
	info, err := p.Info()
	if err != nil {
		return nil, fmt.Errorf("read page info: %w", err)
	}
	out := buildOutcome(info.URL, 0, html)
	out.Title = info.Title
	return out, nil
}

func (s *rodSession) Fetch(ctx context.Context, req Request) (*Response, error) {
	headers := make(map[string]string, len(req.Headers))
	for k, v := range req.Headers {
		headers[k] = v
	}
	p := s.page.Context(ctx).Timeout(s.timeout)
	defer p.CancelTimeout()
	res, err := p.Eval(fetchJS, req.URL, headers)
	if err != nil {
		return nil, fmt.Errorf("in-page fetch %s: %w", req.URL, err)
	}
	return &Response{
		StatusCode: res.Value.Get("status").Int(),
		Body:       []byte(res.Value.Get("body").Str()),
	}, nil
}

// Interact replays scrolls and pointer moves with the planned pauses.
func (s *rodSession) Interact(ctx context.Context, plan pacing.Plan) error {
	p := s.page.Context(ctx)
	for _, step := range plan {
		var err error
		switch step.Kind {
		case pacing.StepScroll:
			err = p.Mouse.Scroll(0, step.DeltaY, 4)
		case pacing.StepMove:
			err = p.Mouse.MoveTo(proto.Point{X: step.X, Y: step.Y})
		}
		if err != nil {
			return fmt.Errorf("interaction step: %w", err)
		}
		if err := pacing.SleepContext(ctx, step.Pause); err != nil {
			return err
		}
	}
	return nil
}

// AwaitResolution returns when the page navigates (a solved challenge
// usually redirects) or when ceiling elapses.
func (s *rodSession) AwaitResolution(ctx context.Context, ceiling time.Duration) error {
	return awaitWithin(ctx, ceiling, func(wctx context.Context) func() {
		return s.page.Context(wctx).WaitNavigation(proto.PageLifecycleEventNameLoad)
	})
}

// awaitWithin 在 ceiling 内等待 wait 返回，返回前释放计时器。
func awaitWithin(ctx context.Context, ceiling time.Duration, wait func(context.Context) func()) error {
	wctx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()
	wait(wctx)()
	return ctx.Err()
}

func (s *rodSession) Close() error {
	s.closeOnce.Do(func() {
		if err := s.page.Close(); err != nil {
			s.closeErr = err
		}
		if err := s.browser.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
		s.launcher.Kill()
		s.launcher.Cleanup()
	})
	return s.closeErr
}
