package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"jobcrawl_nexus/internal/app"
	"jobcrawl_nexus/internal/crawl"
	"jobcrawl_nexus/internal/shared/config"
	"jobcrawl_nexus/internal/shared/logger"
	"jobcrawl_nexus/internal/shared/types"
)

// keywordList collects repeated -keyword flags.
type keywordList []string

func (k *keywordList) String() string { return strings.Join(*k, ",") }

func (k *keywordList) Set(v string) error {
	if v = strings.TrimSpace(v); v != "" {
		*k = append(*k, v)
	}
	return nil
}

func main() {
	var keywords keywordList
	configDir := flag.String("configdir", "configs", "Path to config directory")
	target := flag.Int("target", 0, "Override target result count")
	experience := flag.String("experience", "", "Override experience filter, e.g. 2-5")
	timeout := flag.Duration("timeout", 0, "Override the overall run timeout")
	flag.Var(&keywords, "keyword", "Search keyword (repeatable)")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "crawler.ini")

	// 1. 加载 .ini 行为配置，缺失的键使用默认值
	cfg := types.Default()
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}
	if *target > 0 {
		cfg.TargetResultCount = *target
	}
	if *experience != "" {
		cfg.Experience = *experience
	}
	if *timeout > 0 {
		cfg.RunTimeout = *timeout
	}

	// 1.1 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// 2. 创建并运行
	a, err := app.New(cfg, *configDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize crawler")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := a.Run(ctx, keywords)
	a.Stop()
	if err != nil {
		logger.Fatal().Err(err).Msg("Crawl failed")
	}

	exitCode := 0
	for _, r := range results {
		s := r.Summary
		fmt.Printf("%-24s %-9s %-18s %d/%d listings, %d pages, %s\n",
			s.Keyword, s.Status, s.Reason, s.Collected, s.Target, s.PagesVisited, s.Duration().Round(time.Millisecond))
		if s.Status != crawl.StatusCompleted {
			exitCode = 2
		}
	}
	os.Exit(exitCode)
}
