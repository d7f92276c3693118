package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// TraderConfig 交易器配置
type TraderConfig struct {
	Enabled  bool            // 是否启用交易器
	Simulate bool            // 模拟盘：只在本地账本撮合
	Risk     decimal.Decimal // 风险系数，交易器会截断到 [0.05, 1]
	Exchange string          // 交易所名称
}

// StorageConfig 存储配置
type StorageConfig struct {
	OrderStorePath   string // badger 目录，为空则使用内存
	TradeJournalPath string // sqlite 文件，为空则不落盘
	StateDir         string // 组合快照目录，为空则不持久化
}

// Config 运行配置
type Config struct {
	Trader            TraderConfig
	Storage           StorageConfig
	ReferenceMarket   string                     // 估值参考货币
	StartingPortfolio map[string]decimal.Decimal // 初始资产
	ConsumerQueueSize int                        // 订阅者队列长度，0 为无界
	LogLevel          string                     // 日志级别
	LogFile           string                     // 日志文件路径（可选）
	MetricsAddr       string                     // expvar/pprof 监听地址，为空则不启动
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	Trader struct {
		Enabled  *bool   `yaml:"enabled" json:"enabled"`
		Simulate *bool   `yaml:"simulate" json:"simulate"`
		Risk     float64 `yaml:"risk" json:"risk"`
		Exchange string  `yaml:"exchange" json:"exchange"`
	} `yaml:"trader" json:"trader"`
	Storage struct {
		OrderStorePath   string `yaml:"order_store_path" json:"order_store_path"`
		TradeJournalPath string `yaml:"trade_journal_path" json:"trade_journal_path"`
		StateDir         string `yaml:"state_dir" json:"state_dir"`
	} `yaml:"storage" json:"storage"`
	ReferenceMarket   string            `yaml:"reference_market" json:"reference_market"`
	StartingPortfolio map[string]string `yaml:"starting_portfolio" json:"starting_portfolio"` // 金额用字符串，避免浮点误差
	ConsumerQueueSize int               `yaml:"consumer_queue_size" json:"consumer_queue_size"`
	LogLevel          string            `yaml:"log_level" json:"log_level"`
	LogFile           string            `yaml:"log_file" json:"log_file"`
	MetricsAddr       string            `yaml:"metrics_addr" json:"metrics_addr"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Trader: TraderConfig{
			Enabled:  true,
			Simulate: true,
			Risk:     decimal.RequireFromString("0.5"),
			Exchange: "simulator",
		},
		ReferenceMarket:   "USD",
		StartingPortfolio: map[string]decimal.Decimal{"USD": decimal.NewFromInt(1000)},
		LogLevel:          "info",
	}
}

// LoadFromFile 从指定文件加载配置。
// 优先级：环境变量 > 配置文件 > 默认值；filePath 为空时只读环境变量。
func LoadFromFile(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		configFile, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		if err := applyFile(cfg, configFile); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.ReferenceMarket = strings.ToUpper(cfg.ReferenceMarket)
	return cfg, nil
}

func applyFile(cfg *Config, cf *ConfigFile) error {
	if cf.Trader.Enabled != nil {
		cfg.Trader.Enabled = *cf.Trader.Enabled
	}
	if cf.Trader.Simulate != nil {
		cfg.Trader.Simulate = *cf.Trader.Simulate
	}
	if cf.Trader.Risk != 0 {
		cfg.Trader.Risk = decimal.NewFromFloat(cf.Trader.Risk)
	}
	cfg.Trader.Exchange = getValueFromSources(cf.Trader.Exchange, cfg.Trader.Exchange)
	cfg.Storage.OrderStorePath = getValueFromSources(cf.Storage.OrderStorePath, cfg.Storage.OrderStorePath)
	cfg.Storage.TradeJournalPath = getValueFromSources(cf.Storage.TradeJournalPath, cfg.Storage.TradeJournalPath)
	cfg.Storage.StateDir = getValueFromSources(cf.Storage.StateDir, cfg.Storage.StateDir)
	cfg.ReferenceMarket = getValueFromSources(cf.ReferenceMarket, cfg.ReferenceMarket)
	cfg.LogLevel = getValueFromSources(cf.LogLevel, cfg.LogLevel)
	cfg.LogFile = getValueFromSources(cf.LogFile, cfg.LogFile)
	cfg.MetricsAddr = getValueFromSources(cf.MetricsAddr, cfg.MetricsAddr)
	if cf.ConsumerQueueSize != 0 {
		cfg.ConsumerQueueSize = cf.ConsumerQueueSize
	}

	if len(cf.StartingPortfolio) > 0 {
		pf := make(map[string]decimal.Decimal, len(cf.StartingPortfolio))
		for asset, amount := range cf.StartingPortfolio {
			v, err := decimal.NewFromString(strings.TrimSpace(amount))
			if err != nil {
				return fmt.Errorf("starting_portfolio.%s 无效: %w", asset, err)
			}
			pf[strings.ToUpper(asset)] = v
		}
		cfg.StartingPortfolio = pf
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Trader.Enabled = parseBoolEnv("TRADER_ENABLED", cfg.Trader.Enabled)
	cfg.Trader.Simulate = parseBoolEnv("TRADER_SIMULATE", cfg.Trader.Simulate)
	if v := os.Getenv("TRADER_RISK"); v != "" {
		risk, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("TRADER_RISK 无效: %w", err)
		}
		cfg.Trader.Risk = risk
	}
	cfg.Trader.Exchange = getEnv("EXCHANGE", cfg.Trader.Exchange)
	cfg.Storage.OrderStorePath = getEnv("ORDER_STORE_PATH", cfg.Storage.OrderStorePath)
	cfg.Storage.TradeJournalPath = getEnv("TRADE_JOURNAL_PATH", cfg.Storage.TradeJournalPath)
	cfg.Storage.StateDir = getEnv("STATE_DIR", cfg.Storage.StateDir)
	cfg.ReferenceMarket = getEnv("REFERENCE_MARKET", cfg.ReferenceMarket)
	cfg.ConsumerQueueSize = parseIntEnv("CONSUMER_QUEUE_SIZE", cfg.ConsumerQueueSize)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)

	if v := os.Getenv("STARTING_PORTFOLIO"); v != "" {
		pf, err := parsePortfolio(v)
		if err != nil {
			return fmt.Errorf("STARTING_PORTFOLIO 无效: %w", err)
		}
		cfg.StartingPortfolio = pf
	}
	return nil
}

// parsePortfolio 解析 "USD=1000,BTC=0.5" 形式的资产列表
func parsePortfolio(str string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, part := range strings.Split(str, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		asset, amount, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("缺少 '=': %q", part)
		}
		v, err := decimal.NewFromString(strings.TrimSpace(amount))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", asset, err)
		}
		out[strings.ToUpper(strings.TrimSpace(asset))] = v
	}
	return out, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Trader.Exchange == "" {
		return fmt.Errorf("EXCHANGE 未配置")
	}
	if c.ReferenceMarket == "" {
		return fmt.Errorf("REFERENCE_MARKET 未配置")
	}
	if c.ConsumerQueueSize < 0 {
		return fmt.Errorf("CONSUMER_QUEUE_SIZE 不能为负数")
	}
	if !c.Trader.Risk.IsPositive() {
		return fmt.Errorf("TRADER_RISK 必须大于 0")
	}
	for asset, amount := range c.StartingPortfolio {
		if amount.IsNegative() {
			return fmt.Errorf("初始资产 %s 不能为负数", asset)
		}
	}
	return nil
}

// Assets 初始资产名称（排序后）
func (c *Config) Assets() []string {
	out := make([]string, 0, len(c.StartingPortfolio))
	for a := range c.StartingPortfolio {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// getValueFromSources 返回第一个非空值
func getValueFromSources(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
