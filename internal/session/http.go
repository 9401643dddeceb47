package session

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	utls "github.com/refraction-networking/utls"

	"jobcrawl_nexus/internal/model"
	pmodel "jobcrawl_nexus/proxypool/model"
	"jobcrawl_nexus/proxypool/validator"
)

const (
	FingerprintRandomized = "randomized"
	FingerprintGo         = "go"
)

// HTTPOpener opens plain HTTP sessions. With the randomized fingerprint,
// direct and socks5 HTTPS connections present a randomized ClientHello
// instead of Go's recognisable default.
type HTTPOpener struct {
	Timeout     time.Duration
	Fingerprint string
}

type httpSession struct {
	client    *resty.Client
	transport *http.Transport
	identity  Identity

	mu      sync.Mutex
	current string
	closed  bool
}

func (o *HTTPOpener) Open(_ context.Context, proxy *pmodel.Endpoint, id Identity) (Session, error) {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport, err := newTransport(proxy, timeout, o.Fingerprint)
	if err != nil {
		return nil, err
	}

	client := resty.New().
		SetTransport(transport).
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
		SetHeaders(id.requestHeaders(map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		}))

	return &httpSession{client: client, transport: transport, identity: id}, nil
}

func newTransport(proxy *pmodel.Endpoint, timeout time.Duration, fingerprint string) (*http.Transport, error) {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	dial := dialer.DialContext

	t := &http.Transport{
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: time.Second,
	}

	useUTLS := fingerprint != FingerprintGo
	if proxy != nil {
		switch proxy.Protocol {
		case "socks5":
			sd, err := validator.SOCKS5Dialer(proxy, dialer)
			if err != nil {
				return nil, err
			}
			dial = sd.DialContext
		default:
			// http(s) proxies tunnel via CONNECT; the transport then runs
			// its own TLS, so a custom TLS dialer would never be used.
			t.Proxy = http.ProxyURL(proxy.URL())
			useUTLS = false
		}
	}
	t.DialContext = dial

	if useUTLS {
		t.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialUTLS(ctx, dial, network, addr)
		}
	}
	return t, nil
}

// dialUTLS completes a TLS handshake with a randomized ClientHello and no
// ALPN, which keeps the connection on HTTP/1.1.
func dialUTLS(ctx context.Context, dial func(context.Context, string, string) (net.Conn, error), network, addr string) (net.Conn, error) {
	conn, err := dial(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		conn.Close()
		return nil, err
	}
	uconn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloRandomizedNoALPN)
	if err := uconn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", host, err)
	}
	return uconn, nil
}

func (s *httpSession) Navigate(ctx context.Context, url string) (*model.PageOutcome, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	resp, err := s.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	final := url
	if r := resp.RawResponse; r != nil && r.Request != nil && r.Request.URL != nil {
		final = r.Request.URL.String()
	}
	s.mu.Lock()
	s.current = final
	s.mu.Unlock()
	return buildOutcome(final, resp.StatusCode(), resp.String()), nil
}

func (s *httpSession) Reload(ctx context.Context) (*model.PageOutcome, error) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current == "" {
		return nil, fmt.Errorf("reload: nothing loaded yet")
	}
	return s.Navigate(ctx, current)
}

func (s *httpSession) Fetch(ctx context.Context, req Request) (*Response, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	r := s.client.R().SetContext(ctx).SetHeaders(req.Headers)
	s.mu.Lock()
	if s.current != "" {
		r.SetHeader("Referer", s.current)
	}
	s.mu.Unlock()

	resp, err := r.Get(req.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	return &Response{StatusCode: resp.StatusCode(), Header: resp.Header(), Body: resp.Body()}, nil
}

func (s *httpSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.transport.CloseIdleConnections()
	return nil
}

func (s *httpSession) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}
