package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"jobcrawl_nexus/internal/shared/logger"
	"jobcrawl_nexus/proxypool/model"
)

// TableScraper 抓取以 HTML 表格发布的代理列表 (ip | port | protocol ...)。
type TableScraper struct {
	client       *resty.Client
	url          string
	RowSelector  string
	IPColumn     int
	PortColumn   int
	ProtoColumn  int // -1: every row uses DefaultProto
	DefaultProto string
}

// NewTableScraper creates a scraper with the column layout most free list
// sites use.
func NewTableScraper(url string) *TableScraper {
	client := resty.New().
		SetTimeout(20*time.Second).
		SetHeader("User-Agent", defaultUserAgent)
	return &TableScraper{
		client:       client,
		url:          url,
		RowSelector:  "table tbody tr",
		IPColumn:     0,
		PortColumn:   1,
		ProtoColumn:  -1,
		DefaultProto: "http",
	}
}

func (s *TableScraper) Name() string {
	return "table:" + s.url
}

func (s *TableScraper) Scrape(ctx context.Context) ([]*model.Endpoint, error) {
	l := logger.WithComponent("ProxyPool/Scraper")
	l.Info().Str("source", s.Name()).Msg("Starting scrape...")

	resp, err := s.client.R().SetContext(ctx).Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page for %s: %w", s.Name(), err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("received non-200 status code (%d) from %s", resp.StatusCode(), s.Name())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML for %s: %w", s.Name(), err)
	}

	var endpoints []*model.Endpoint
	doc.Find(s.RowSelector).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		ip := strings.TrimSpace(cells.Eq(s.IPColumn).Text())
		portStr := strings.TrimSpace(cells.Eq(s.PortColumn).Text())
		if ip == "" || portStr == "" {
			return
		}
		if _, err := strconv.Atoi(portStr); err != nil {
			l.Debug().Str("ip", ip).Str("port", portStr).Msg("Failed to parse port, skipping.")
			return
		}

		proto := s.DefaultProto
		if s.ProtoColumn >= 0 {
			if p := normalizeProtocol(cells.Eq(s.ProtoColumn).Text()); p != "" {
				proto = p
			}
		}

		e := model.NewEndpoint(proto, net.JoinHostPort(ip, portStr), nil)
		e.Source = s.Name()
		endpoints = append(endpoints, e)
	})

	l.Info().Int("count", len(endpoints)).Str("source", s.Name()).Msg("Scrape finished.")
	return endpoints, nil
}

func normalizeProtocol(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(s, "socks5"):
		return "socks5"
	case strings.Contains(s, "https"):
		return "https"
	case strings.Contains(s, "http"):
		return "http"
	default:
		return ""
	}
}
