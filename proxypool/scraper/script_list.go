package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"jobcrawl_nexus/internal/shared/logger"
	"jobcrawl_nexus/proxypool/model"
)

// ScriptListScraper 处理把代理列表以 JSON 数组形式写进页面脚本变量的站点，
// 例如 `const fpsList = [{"ip":"1.2.3.4","port":"80"}];`。
type ScriptListScraper struct {
	urls     []string
	variable *regexp.Regexp
	timeout  time.Duration
	delay    time.Duration
}

type scriptProxy struct {
	IP       string          `json:"ip"`
	Port     json.RawMessage `json:"port"`
	Protocol string          `json:"protocol"`
}

// NewScriptListScraper 创建一个新的 ScriptListScraper。
func NewScriptListScraper(variable string, urls ...string) *ScriptListScraper {
	return &ScriptListScraper{
		urls:     urls,
		variable: regexp.MustCompile(`(?:var|let|const)\s+` + regexp.QuoteMeta(variable) + `\s*=\s*(\[.*?\]);`),
		timeout:  20 * time.Second,
		delay:    2 * time.Second,
	}
}

func (s *ScriptListScraper) Name() string {
	return "script-list"
}

func (s *ScriptListScraper) Scrape(ctx context.Context) ([]*model.Endpoint, error) {
	l := logger.WithComponent("ProxyPool/Scraper")
	l.Info().Str("source", s.Name()).Int("pages", len(s.urls)).Msg("Starting scrape...")

	c := colly.NewCollector(
		colly.UserAgent(defaultUserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(s.timeout)

	var (
		endpoints []*model.Endpoint
		scrapeErr error
		mu        sync.Mutex
	)

	c.OnResponse(func(r *colly.Response) {
		found, err := s.parse(r.Body, r.Request.URL.Host)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			l.Warn().Err(err).Str("url", r.Request.URL.String()).Msg("Failed to parse proxy list variable.")
			scrapeErr = err
			return
		}
		endpoints = append(endpoints, found...)
	})

	c.OnError(func(r *colly.Response, err error) {
		l.Error().Err(err).Int("status_code", r.StatusCode).Str("url", r.Request.URL.String()).Msg("Scrape request failed.")
		mu.Lock()
		scrapeErr = err
		mu.Unlock()
	})

	for i, u := range s.urls {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.delay):
			}
		}
		l.Debug().Str("url", u).Msg("Visiting page...")
		if err := c.Visit(u); err != nil {
			l.Warn().Err(err).Str("url", u).Msg("Visit failed.")
		}
	}
	c.Wait()

	if len(endpoints) == 0 && scrapeErr != nil {
		return nil, scrapeErr
	}
	if err := ctx.Err(); err != nil && len(endpoints) == 0 {
		return nil, err
	}

	l.Info().Int("count", len(endpoints)).Str("source", s.Name()).Msg("Scrape finished.")
	return endpoints, nil
}

func (s *ScriptListScraper) parse(body []byte, host string) ([]*model.Endpoint, error) {
	matches := s.variable.FindSubmatch(body)
	if len(matches) < 2 {
		return nil, fmt.Errorf("proxy list variable not found")
	}

	var list []scriptProxy
	if err := json.Unmarshal(matches[1], &list); err != nil {
		return nil, err
	}

	endpoints := make([]*model.Endpoint, 0, len(list))
	for _, p := range list {
		ip := strings.TrimSpace(p.IP)
		port := strings.Trim(strings.TrimSpace(string(p.Port)), `"`)
		if ip == "" || port == "" {
			continue
		}
		proto := normalizeProtocol(p.Protocol)
		if proto == "" {
			proto = "http"
		}
		e := model.NewEndpoint(proto, net.JoinHostPort(ip, port), nil)
		e.Source = host
		endpoints = append(endpoints, e)
	}
	return endpoints, nil
}
