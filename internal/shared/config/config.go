package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"jobcrawl_nexus/internal/extract"
	"jobcrawl_nexus/internal/shared/types"
)

//go:embed default_rules.json
var defaultRules []byte

// LoadIni 加载 crawler.ini 行为配置文件。cfg 中已有的值作为缺省值保留。
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	applyEnv(cfg)
	return nil
}

func applyEnv(cfg *types.Config) {
	overrideFromEnvInt(&cfg.CrawlConf.TargetResultCount, "CRAWL_TARGET_COUNT")
	overrideFromEnvString(&cfg.ProxyConf.ProxyFile, "PROXY_FILE")
	overrideFromEnvString(&cfg.OutputConf.RedisAddr, "REDIS_ADDR")
	overrideFromEnvString(&cfg.WebConf.Password, "WEB_PASSWORD")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.OutputConf.KafkaBrokers = splitList(brokers)
	}
}

// LoadRules 加载选择器规则。fileName 为空或文件不存在时使用内置规则。
func LoadRules(fileName string) (*extract.Rules, error) {
	data := defaultRules
	if fileName != "" {
		fileData, err := os.ReadFile(fileName)
		switch {
		case err == nil:
			data = fileData
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read rules file: %w", err)
		}
	}

	rules := new(extract.Rules)
	if err := json.Unmarshal(data, rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}
	return rules, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
