// Package session wraps page-access backends (plain HTTP, colly, headless
// browser) behind one capability interface, and scopes each backend
// instance to one proxy and one identity.
package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobcrawl_nexus/internal/model"
	"jobcrawl_nexus/internal/pacing"
	pmodel "jobcrawl_nexus/proxypool/model"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session: closed")

// Request is an auxiliary fetch (API call, detail page) made through the
// same egress as the page session.
type Request struct {
	URL     string
	Headers map[string]string
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Session is the page capability of one backend instance.
type Session interface {
	Navigate(ctx context.Context, url string) (*model.PageOutcome, error)
	// Reload re-reads the current page without changing the URL.
	Reload(ctx context.Context) (*model.PageOutcome, error)
	Fetch(ctx context.Context, req Request) (*Response, error)
	// Close must be safe to call more than once.
	Close() error
}

// Interactor is implemented by sessions that can replay simulated user
// input (browsers).
type Interactor interface {
	Interact(ctx context.Context, plan pacing.Plan) error
}

// Resolver is implemented by sessions that can observe a CAPTCHA being
// solved, returning once the page changes or the ceiling elapses.
type Resolver interface {
	AwaitResolution(ctx context.Context, ceiling time.Duration) error
}

// Opener creates sessions. proxy may be nil for a direct connection.
type Opener interface {
	Open(ctx context.Context, proxy *pmodel.Endpoint, id Identity) (Session, error)
}

// Reporter receives the proxy verdict of a session.
type Reporter interface {
	ReportSuccess(e *pmodel.Endpoint)
	ReportFailure(e *pmodel.Endpoint)
}

// Context bundles a session with the proxy and identity it was opened with.
// It is single-use: once closed it cannot navigate again.
type Context struct {
	ID       string
	Proxy    *pmodel.Endpoint
	Identity Identity

	page     Session
	reporter Reporter

	mu        sync.Mutex
	closed    bool
	reported  bool
	succeeded bool
	last      *model.PageOutcome
}

// Open opens a session through opener and wraps it.
func Open(ctx context.Context, opener Opener, proxy *pmodel.Endpoint, id Identity, reporter Reporter) (*Context, error) {
	page, err := opener.Open(ctx, proxy, id)
	if err != nil {
		return nil, err
	}
	return NewContext(page, proxy, id, reporter), nil
}

func NewContext(page Session, proxy *pmodel.Endpoint, id Identity, reporter Reporter) *Context {
	return &Context{
		ID:       uuid.NewString(),
		Proxy:    proxy,
		Identity: id,
		page:     page,
		reporter: reporter,
	}
}

// Navigate loads url. Transport failures are returned both as an error and
// as a TransportError outcome so callers can treat them uniformly.
func (c *Context) Navigate(ctx context.Context, url string) (*model.PageOutcome, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	out, err := c.page.Navigate(ctx, url)
	return c.record(url, out, err)
}

func (c *Context) Reload(ctx context.Context) (*model.PageOutcome, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	url := ""
	if p := c.Page(); p != nil {
		url = p.URL
	}
	out, err := c.page.Reload(ctx)
	return c.record(url, out, err)
}

func (c *Context) record(url string, out *model.PageOutcome, err error) (*model.PageOutcome, error) {
	if err != nil {
		out = &model.PageOutcome{Status: model.PageTransportError, URL: url}
	}
	c.mu.Lock()
	c.last = out
	c.mu.Unlock()
	return out, err
}

func (c *Context) Fetch(ctx context.Context, req Request) (*Response, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	return c.page.Fetch(ctx, req)
}

// Page returns the most recent outcome, or nil before the first navigation.
func (c *Context) Page() *model.PageOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Interact replays plan when the backend supports it; otherwise it is a no-op.
func (c *Context) Interact(ctx context.Context, plan pacing.Plan) error {
	if in, ok := c.page.(Interactor); ok {
		return in.Interact(ctx, plan)
	}
	return nil
}

// AwaitResolution waits for a CAPTCHA to be cleared, at most ceiling.
// Backends that cannot observe the page simply wait out the ceiling.
func (c *Context) AwaitResolution(ctx context.Context, ceiling time.Duration) error {
	if r, ok := c.page.(Resolver); ok {
		return r.AwaitResolution(ctx, ceiling)
	}
	return pacing.SleepContext(ctx, ceiling)
}

// MarkSucceeded records that the proxy served a usable page. The pool is
// told on Close.
func (c *Context) MarkSucceeded() {
	c.mu.Lock()
	c.succeeded = true
	c.mu.Unlock()
}

// MarkFailed reports the proxy as failed right away. Later calls and the
// eventual Close do not report again.
func (c *Context) MarkFailed() {
	c.mu.Lock()
	if c.reported {
		c.mu.Unlock()
		return
	}
	c.reported = true
	c.mu.Unlock()
	if c.reporter != nil && c.Proxy != nil {
		c.reporter.ReportFailure(c.Proxy)
	}
}

// Close releases the backend. Only the first call has any effect.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	reportSuccess := !c.reported && c.succeeded
	c.reported = true
	c.mu.Unlock()

	err := c.page.Close()
	if reportSuccess && c.reporter != nil && c.Proxy != nil {
		c.reporter.ReportSuccess(c.Proxy)
	}
	return err
}

func (c *Context) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
