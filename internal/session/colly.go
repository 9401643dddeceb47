package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"

	"jobcrawl_nexus/internal/model"
	pmodel "jobcrawl_nexus/proxypool/model"
)

// CollyOpener opens sessions backed by a colly collector. Cookies persist
// between visits and every request after the first carries the last page
// as Referer. Identities without a user agent get a random browser one per
// request.
type CollyOpener struct {
	Timeout time.Duration
}

type collySession struct {
	base     *colly.Collector
	identity Identity

	mu      sync.Mutex
	current string
	closed  bool
}

func (o *CollyOpener) Open(_ context.Context, proxy *pmodel.Endpoint, id Identity) (Session, error) {
	opts := []colly.CollectorOption{colly.AllowURLRevisit()}
	if id.UserAgent != "" {
		opts = append(opts, colly.UserAgent(id.UserAgent))
	}
	c := colly.NewCollector(opts...)
	c.ParseHTTPErrorResponse = true
	if o.Timeout > 0 {
		c.SetRequestTimeout(o.Timeout)
	}
	if proxy != nil {
		if err := c.SetProxy(proxy.URL().String()); err != nil {
			return nil, fmt.Errorf("colly proxy %s: %w", proxy.ID, err)
		}
	}
	return &collySession{base: c, identity: id}, nil
}

type visitResult struct {
	url    string
	status int
	header http.Header
	body   []byte
	err    error
}

// visit runs one request on a clone of the base collector so callbacks do
// not pile up across visits; the clone shares the cookie jar and transport.
func (s *collySession) visit(ctx context.Context, url string, headers map[string]string) (*visitResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	c := s.base.Clone()
	referer := s.current
	s.mu.Unlock()

	// Clone 不复制回调，扩展必须装在克隆上
	if s.identity.UserAgent == "" {
		extensions.RandomUserAgent(c)
	}
	merged := s.identity.requestHeaders(headers)
	c.OnRequest(func(r *colly.Request) {
		if referer != "" {
			r.Headers.Set("Referer", referer)
		}
		for k, v := range merged {
			r.Headers.Set(k, v)
		}
	})

	res := &visitResult{url: url}
	c.OnResponse(func(r *colly.Response) {
		res.url = r.Request.URL.String()
		res.status = r.StatusCode
		if r.Headers != nil {
			res.header = *r.Headers
		}
		res.body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			// non-2xx pages still carry content the detector needs
			res.url = r.Request.URL.String()
			res.status = r.StatusCode
			res.body = r.Body
			return
		}
		res.err = err
	})

	done := make(chan error, 1)
	go func() {
		err := c.Visit(url)
		c.Wait()
		done <- err
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		if err != nil && res.status == 0 {
			return nil, fmt.Errorf("visit %s: %w", url, err)
		}
	}
	if res.err != nil {
		return nil, fmt.Errorf("visit %s: %w", url, res.err)
	}
	return res, nil
}

func (s *collySession) Navigate(ctx context.Context, url string) (*model.PageOutcome, error) {
	res, err := s.visit(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.current = res.url
	s.mu.Unlock()
	return buildOutcome(res.url, res.status, string(res.body)), nil
}

func (s *collySession) Reload(ctx context.Context) (*model.PageOutcome, error) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current == "" {
		return nil, fmt.Errorf("reload: nothing loaded yet")
	}
	return s.Navigate(ctx, current)
}

func (s *collySession) Fetch(ctx context.Context, req Request) (*Response, error) {
	res, err := s.visit(ctx, req.URL, req.Headers)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: res.status, Header: res.header, Body: res.body}, nil
}

func (s *collySession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
