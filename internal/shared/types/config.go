package types

import "time"

// CrawlConf 控制单次抓取任务的预算与终止条件。
type CrawlConf struct {
	Keywords                 []string      `ini:"keywords" delim:","`
	Experience               string        `ini:"experience"`
	TargetResultCount        int           `ini:"target_result_count"`
	MaxProxyRetriesPerPage   int           `ini:"max_proxy_retries_per_page"`
	MaxConsecutiveEmptyPages int           `ini:"max_consecutive_empty_pages"`
	CaptchaWaitCeiling       time.Duration `ini:"captcha_wait_ceiling"`
	StrategyPriority         []string      `ini:"strategy_priority" delim:","`
	MaxPages                 int           `ini:"max_pages"`
	RotateProxyPerPage       bool          `ini:"rotate_proxy_per_page"`
	EnrichDetails            bool          `ini:"enrich_details"`
	MaxDetailFetches         int           `ini:"max_detail_fetches"`
	RunTimeout               time.Duration `ini:"run_timeout"`
}

// TargetConf describes where listings live. Templates accept {keyword},
// {keyword_slug}, {experience}, {exp_min}, {exp_max} and {page}.
type TargetConf struct {
	BaseURL            string `ini:"base_url"`
	SearchURLTemplate  string `ini:"search_url_template"`
	APIURLTemplate     string `ini:"api_url_template"`
	ListingURLTemplate string `ini:"listing_url_template"`
	RulesFile          string `ini:"rules_file"`
}

// SessionConf 选择页面访问后端 (http, colly, rod)。
type SessionConf struct {
	Driver         string        `ini:"driver"`
	Timeout        time.Duration `ini:"timeout"`
	Headless       bool          `ini:"headless"`
	BrowserBin     string        `ini:"browser_bin"`
	TLSFingerprint string        `ini:"tls_fingerprint"`
	UserAgents     []string      `ini:"user_agents" delim:"|"`
	AcceptLanguage string        `ini:"accept_language"`
	ViewportWidth  int           `ini:"viewport_width"`
	ViewportHeight int           `ini:"viewport_height"`
}

// ProxyConf 代理池相关配置。
type ProxyConf struct {
	RequireProxy         bool          `ini:"require_proxy"`
	ProxyFile            string        `ini:"proxy_file"`
	StateFile            string        `ini:"state_file"`
	ValidateOnStart      bool          `ini:"validate_on_start"`
	ValidationTarget     string        `ini:"validation_target"`
	ValidationTimeout    time.Duration `ini:"validation_timeout"`
	ValidationConcurrent int           `ini:"validation_concurrency"`
	RevalidateInterval   time.Duration `ini:"revalidate_interval"`
	TableSources         []string      `ini:"table_sources" delim:","`
	ScriptSources        []string      `ini:"script_sources" delim:","`
	ScriptVariable       string        `ini:"script_variable"`
}

// PacingConf 请求节奏。
type PacingConf struct {
	PageDelayMin      time.Duration `ini:"page_delay_min"`
	PageDelayMax      time.Duration `ini:"page_delay_max"`
	ActionDelayMin    time.Duration `ini:"action_delay_min"`
	ActionDelayMax    time.Duration `ini:"action_delay_max"`
	RequestsPerMinute int           `ini:"requests_per_minute"`
	Burst             int           `ini:"burst"`
}

// DetectorConf overrides the default block / captcha marker sets.
type DetectorConf struct {
	CaptchaMarkers []string `ini:"captcha_markers" delim:","`
	BlockMarkers   []string `ini:"block_markers" delim:","`
}

// OutputConf 结果输出。为空的字段对应的 sink 不启用。
type OutputConf struct {
	CSVPath      string        `ini:"csv_path"`
	XLSXPath     string        `ini:"xlsx_path"`
	KafkaBrokers []string      `ini:"kafka_brokers" delim:","`
	KafkaTopic   string        `ini:"kafka_topic"`
	RedisAddr    string        `ini:"redis_addr"`
	RedisPrefix  string        `ini:"redis_prefix"`
	RedisTTL     time.Duration `ini:"redis_ttl"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
	JSON  bool   `ini:"json"`
}

// WebConf 监控面板。port 为 0 时关闭。
type WebConf struct {
	Port     int    `ini:"port"`
	User     string `ini:"user"`
	Password string `ini:"password"`
}

// Config 是 crawler 的统一配置结构体。
type Config struct {
	CrawlConf    `ini:"crawl"`
	TargetConf   `ini:"target"`
	SessionConf  `ini:"session"`
	ProxyConf    `ini:"proxy"`
	PacingConf   `ini:"pacing"`
	DetectorConf `ini:"detector"`
	OutputConf   `ini:"output"`
	LogConf      `ini:"log"`
	WebConf      `ini:"web"`
}

// Default returns the values used when a key is missing from the ini file.
func Default() *Config {
	return &Config{
		CrawlConf: CrawlConf{
			TargetResultCount:        50,
			MaxProxyRetriesPerPage:   3,
			MaxConsecutiveEmptyPages: 2,
			CaptchaWaitCeiling:       120 * time.Second,
			StrategyPriority:         []string{"api", "dom", "pattern"},
			EnrichDetails:            true,
			MaxDetailFetches:         10,
		},
		TargetConf: TargetConf{
			BaseURL:            "https://www.naukri.com",
			SearchURLTemplate:  "https://www.naukri.com/{keyword_slug}-jobs-{page}?experience={exp_min}",
			APIURLTemplate:     "https://www.naukri.com/jobapi/v3/search?noOfResults=20&urlType=search_by_keyword&searchType=adv&keyword={keyword}&pageNo={page}&experience={exp_min}",
			ListingURLTemplate: "https://www.naukri.com/job-listings-{job_id}",
		},
		SessionConf: SessionConf{
			Driver:         "http",
			Timeout:        30 * time.Second,
			Headless:       true,
			TLSFingerprint: "randomized",
			AcceptLanguage: "en-US,en;q=0.9",
			ViewportWidth:  1366,
			ViewportHeight: 768,
		},
		ProxyConf: ProxyConf{
			ValidationTarget:     "www.google.com:443",
			ValidationTimeout:    10 * time.Second,
			ValidationConcurrent: 5,
			ScriptVariable:       "fpsList",
		},
		PacingConf: PacingConf{
			PageDelayMin:   2 * time.Second,
			PageDelayMax:   5 * time.Second,
			ActionDelayMin: 500 * time.Millisecond,
			ActionDelayMax: 1500 * time.Millisecond,
		},
		OutputConf: OutputConf{
			RedisPrefix: "jobcrawl:run:",
			RedisTTL:    24 * time.Hour,
		},
		LogConf: LogConf{Level: "info"},
	}
}
