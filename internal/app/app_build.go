package app

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"jobcrawl_nexus/internal/extract"
	"jobcrawl_nexus/internal/session"
	"jobcrawl_nexus/internal/shared/config"
	"jobcrawl_nexus/internal/shared/logger"
	"jobcrawl_nexus/internal/shared/types"
	"jobcrawl_nexus/internal/sink"
	"jobcrawl_nexus/proxypool"
	pmodel "jobcrawl_nexus/proxypool/model"
	"jobcrawl_nexus/proxypool/scraper"
	"jobcrawl_nexus/proxypool/storage"
	"jobcrawl_nexus/proxypool/validator"
)

// resolve 把相对路径解析到配置目录下。
func (a *App) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || a.configDir == "" {
		return p
	}
	return filepath.Join(a.configDir, p)
}

func (a *App) buildRules() (*extract.Rules, *regexp.Regexp, error) {
	rules, err := config.LoadRules(a.resolve(a.cfg.RulesFile))
	if err != nil {
		return nil, nil, err
	}
	idRe, err := rules.IDRegexp()
	if err != nil {
		return nil, nil, err
	}
	return rules, idRe, nil
}

func newOpener(c types.SessionConf) (session.Opener, error) {
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "", "http":
		return &session.HTTPOpener{Timeout: c.Timeout, Fingerprint: c.TLSFingerprint}, nil
	case "colly":
		return &session.CollyOpener{Timeout: c.Timeout}, nil
	case "rod", "browser":
		return &session.RodOpener{Bin: c.BrowserBin, Headless: c.Headless, Timeout: c.Timeout}, nil
	default:
		return nil, fmt.Errorf("unknown session driver %q", c.Driver)
	}
}

func (a *App) buildPool() (*proxypool.Manager, error) {
	c := a.cfg.ProxyConf
	var endpoints []*pmodel.Endpoint
	if c.ProxyFile != "" {
		var err error
		if endpoints, err = storage.LoadList(a.resolve(c.ProxyFile)); err != nil {
			return nil, fmt.Errorf("load proxy list: %w", err)
		}
	}

	var opts []proxypool.Option
	if c.StateFile != "" {
		opts = append(opts, proxypool.WithStorage(storage.NewFileStorage(a.resolve(c.StateFile))))
	}
	if c.ValidationTarget != "" {
		opts = append(opts,
			proxypool.WithValidator(validator.NewValidator(c.ValidationTarget, c.ValidationTimeout, c.ValidationConcurrent)),
			proxypool.WithRevalidateInterval(c.RevalidateInterval),
		)
	}

	var scrapers []scraper.Scraper
	for _, u := range c.TableSources {
		scrapers = append(scrapers, scraper.NewTableScraper(u))
	}
	if len(c.ScriptSources) > 0 {
		scrapers = append(scrapers, scraper.NewScriptListScraper(c.ScriptVariable, c.ScriptSources...))
	}
	if len(scrapers) > 0 {
		opts = append(opts, proxypool.WithScrapers(scrapers...))
	}
	return proxypool.NewManager(endpoints, opts...), nil
}

// buildChain 为一个查询构建策略链。API 策略只在配置了模板时可用，
// pattern 策略只在规则里定义了卡片模式时可用。
func (a *App) buildChain(q extract.Query) (*extract.Chain, error) {
	var available []extract.Strategy
	if a.cfg.APIURLTemplate != "" {
		available = append(available, extract.NewAPIStrategy(a.rules.API, a.cfg.APIURLTemplate, q))
	}
	available = append(available, extract.NewDOMStrategy(a.rules.DOM, a.idRe))
	if a.rules.Pattern.Card != "" {
		p, err := extract.NewPatternStrategy(a.rules.Pattern, a.idRe)
		if err != nil {
			return nil, err
		}
		available = append(available, p)
	}

	if a.cfg.EnrichDetails && len(a.rules.Detail.Fields) > 0 {
		for i, s := range available {
			available[i] = extract.NewDetailEnricher(s, a.rules.Detail, a.pacer,
				a.cfg.ActionDelayMin, a.cfg.ActionDelayMax, a.cfg.MaxDetailFetches)
		}
	}

	ordered, err := extract.Select(a.cfg.StrategyPriority, available...)
	if err != nil {
		return nil, err
	}
	return extract.NewChain(ordered...), nil
}

// buildSinks 启用所有已配置的输出。
func (a *App) buildSinks() error {
	c := a.cfg.OutputConf
	l := logger.WithComponent("App")

	if a.hub != nil {
		a.sinks = append(a.sinks, a.hub)
	}
	if c.CSVPath != "" {
		s, err := sink.NewCSVSink(c.CSVPath)
		if err != nil {
			return fmt.Errorf("csv sink: %w", err)
		}
		a.sinks = append(a.sinks, s)
	}
	if c.XLSXPath != "" {
		s, err := sink.NewXLSXSink(c.XLSXPath)
		if err != nil {
			return fmt.Errorf("xlsx sink: %w", err)
		}
		a.sinks = append(a.sinks, s)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic != "" {
		a.sinks = append(a.sinks, sink.NewKafkaSink(c.KafkaBrokers, c.KafkaTopic))
		l.Info().Str("topic", c.KafkaTopic).Msg("Kafka sink enabled.")
	}
	if c.RedisAddr != "" {
		s := sink.NewRedisSink(c.RedisAddr, c.RedisPrefix, c.RedisTTL)
		a.sinks = append(a.sinks, s)
		a.store = s
		l.Info().Str("addr", c.RedisAddr).Msg("Redis sink enabled.")
	}
	return nil
}
