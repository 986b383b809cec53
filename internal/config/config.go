package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// API
	APIBaseURL   string        `env:"PAWS_API_BASE_URL" envDefault:"https://api.paws.community/v1"`
	HTTPTimeout  time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	APIRateLimit float64       `env:"API_RATE_LIMIT" envDefault:"2"`
	APIRateBurst int           `env:"API_RATE_BURST" envDefault:"1"`
	ProxyURL     string        `env:"PROXY_URL"`
	SafeDial     bool          `env:"SAFE_DIAL" envDefault:"true"`

	// Input files
	QueryIDFile   string `env:"QUERY_ID_FILE" envDefault:"hash.txt"`
	UserAgentFile string `env:"USER_AGENT_FILE" envDefault:"user-agent.txt"`

	// Schedule / pacing
	RunInterval        time.Duration `env:"RUN_INTERVAL" envDefault:"24h"`
	QuestDelayMin      time.Duration `env:"QUEST_DELAY_MIN" envDefault:"1s"`
	QuestDelayMax      time.Duration `env:"QUEST_DELAY_MAX" envDefault:"3s"`
	AccountDelayMin    time.Duration `env:"ACCOUNT_DELAY_MIN" envDefault:"2s"`
	AccountDelayMax    time.Duration `env:"ACCOUNT_DELAY_MAX" envDefault:"7s"`
	BalanceSettleDelay time.Duration `env:"BALANCE_SETTLE_DELAY" envDefault:"30s"`

	// Status server
	StatusAddr string `env:"STATUS_ADDR"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load は環境変数からConfigを読み込む。
// 値のパースまたは検証に失敗した場合はエラーを返す。
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	var problems []string

	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		problems = append(problems, fmt.Sprintf("PAWS_API_BASE_URL is not a valid http(s) URL: %q", c.APIBaseURL))
	}

	if c.RunInterval <= 0 {
		problems = append(problems, "RUN_INTERVAL must be positive")
	}
	if c.QuestDelayMin < 0 || c.QuestDelayMin > c.QuestDelayMax {
		problems = append(problems, "QUEST_DELAY_MIN must be between 0 and QUEST_DELAY_MAX")
	}
	if c.AccountDelayMin < 0 || c.AccountDelayMin > c.AccountDelayMax {
		problems = append(problems, "ACCOUNT_DELAY_MIN must be between 0 and ACCOUNT_DELAY_MAX")
	}
	if c.BalanceSettleDelay < 0 {
		problems = append(problems, "BALANCE_SETTLE_DELAY must not be negative")
	}
	if c.APIRateLimit < 0 {
		problems = append(problems, "API_RATE_LIMIT must not be negative")
	}
	if c.APIRateLimit > 0 && c.APIRateBurst < 1 {
		problems = append(problems, "API_RATE_BURST must be at least 1")
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("LOG_FORMAT must be json or text: %q", c.LogFormat))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %v", problems)
	}
	return nil
}
