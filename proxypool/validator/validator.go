package validator

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"jobcrawl_nexus/internal/shared/logger"
	"jobcrawl_nexus/proxypool/model"
)

const defaultValidationTarget = "www.google.com:443" // Use a target that requires TLS

// Result 是单个代理的探测结果。
type Result struct {
	Endpoint *model.Endpoint
	Err      error
	Latency  time.Duration
}

func (r Result) OK() bool { return r.Err == nil }

// Validator probes endpoints with a bounded number of concurrent checks.
type Validator struct {
	target      string
	timeout     time.Duration
	concurrency int
}

func NewValidator(target string, timeout time.Duration, concurrency int) *Validator {
	if concurrency <= 0 {
		concurrency = 5
	}
	if target == "" {
		target = defaultValidationTarget
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Validator{
		target:      target,
		timeout:     timeout,
		concurrency: concurrency,
	}
}

// Validate 并发探测一批代理，结果顺序与输入一致。
func (v *Validator) Validate(ctx context.Context, endpoints []*model.Endpoint) []Result {
	l := logger.WithComponent("ProxyPool/Validator")
	if len(endpoints) == 0 {
		return nil
	}

	l.Info().Int("count", len(endpoints)).Int("concurrency", v.concurrency).Msg("Starting validation batch...")

	results := make([]Result, len(endpoints))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, v.concurrency)

	for i, e := range endpoints {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(i int, e *model.Endpoint) {
			defer wg.Done()
			defer func() { <-semaphore }()

			start := time.Now()
			err := v.probe(ctx, e)
			results[i] = Result{Endpoint: e, Err: err, Latency: time.Since(start)}
		}(i, e)
	}

	wg.Wait()

	healthy := 0
	for _, r := range results {
		if r.OK() {
			healthy++
		}
	}
	l.Info().Int("healthy", healthy).Int("total", len(results)).Msg("Validation batch finished.")
	return results
}

func (v *Validator) probe(ctx context.Context, e *model.Endpoint) error {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	switch e.Protocol {
	case "socks5":
		return v.checkSocks5Connect(ctx, e)
	default:
		return v.checkHttpConnect(ctx, e)
	}
}

// checkHttpConnect validates a proxy by attempting an HTTP CONNECT request.
func (v *Validator) checkHttpConnect(ctx context.Context, e *model.Endpoint) error {
	dialer := &net.Dialer{
		Timeout:   v.timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyURL(e.URL()),
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		IdleConnTimeout:       v.timeout,
		TLSHandshakeTimeout:   v.timeout / 2,
		ExpectContinueTimeout: 1 * time.Second,
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   v.timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, "https://"+v.target, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("received non-successful status code: %d", resp.StatusCode)
	}
	return nil
}

// checkSocks5Connect validates a proxy by attempting a SOCKS5 connection.
func (v *Validator) checkSocks5Connect(ctx context.Context, e *model.Endpoint) error {
	dialer, err := SOCKS5Dialer(e, &net.Dialer{Timeout: v.timeout})
	if err != nil {
		return err
	}
	conn, err := dialer.DialContext(ctx, "tcp", v.target)
	if err != nil {
		return err
	}
	return conn.Close()
}

// SOCKS5Dialer builds a context-aware dialer through a socks5 endpoint.
func SOCKS5Dialer(e *model.Endpoint, forward *net.Dialer) (proxy.ContextDialer, error) {
	var auth *proxy.Auth
	if e.Credentials != nil && e.Credentials.Username != "" {
		auth = &proxy.Auth{User: e.Credentials.Username, Password: e.Credentials.Password}
	}
	d, err := proxy.SOCKS5("tcp", e.Address, auth, forward)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not support contexts")
	}
	return cd, nil
}
