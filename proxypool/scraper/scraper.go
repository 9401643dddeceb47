package scraper

import (
	"context"

	"jobcrawl_nexus/proxypool/model"
)

// Scraper 接口定义了从公开代理源发现代理的行为。
type Scraper interface {
	// Scrape 只负责抓取和初步解析，不进行验证。
	Scrape(ctx context.Context) ([]*model.Endpoint, error)

	// Name 返回抓取器的名称，用于日志记录。
	Name() string
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
