package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	commoncfg "investorkonnect-signing/common/config"

	"gopkg.in/yaml.v3"
)

// Config investorkonnect-signing 配置
// 加载顺序：默认值 -> CONFIG_FILE（YAML，可选）-> 环境变量
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	DBEnabled bool                     `yaml:"db_enabled"`
	Database  commoncfg.DatabaseConfig `yaml:"database"`
	Redis     commoncfg.RedisConfig    `yaml:"redis"`
	Log       struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Docusign  DocusignConfig  `yaml:"docusign"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Functions FunctionsConfig `yaml:"functions"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// DocusignConfig DocuSign 账户与 OAuth 客户端
type DocusignConfig struct {
	BaseURL       string `yaml:"base_url"`       // eSignature REST 地址
	AccountID     string `yaml:"account_id"`
	OAuthBaseURL  string `yaml:"oauth_base_url"` // account-d.docusign.com / account.docusign.com
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	WebhookSecret string `yaml:"webhook_secret"` // Connect HMAC key
	RefreshToken  string `yaml:"refresh_token"`  // 首次启动时写入 docusign_connections
}

// ReconcileConfig 轮询预算
type ReconcileConfig struct {
	MaxAttempts        int `yaml:"max_attempts"`
	PollIntervalMS     int `yaml:"poll_interval_ms"`
	DeadlineSeconds    int `yaml:"deadline_seconds"`
	MaterializeLockTTL int `yaml:"materialize_lock_ttl_seconds"`
}

func (c ReconcileConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c ReconcileConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineSeconds) * time.Second
}

func (c ReconcileConfig) LockTTL() time.Duration {
	return time.Duration(c.MaterializeLockTTL) * time.Second
}

// FunctionsConfig 函数调用方式：local（进程内）或 stream（Redis Streams + worker）
type FunctionsConfig struct {
	Mode     string `yaml:"mode"`
	Stream   string `yaml:"stream"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

// RateLimitConfig 每个 agreement 的 reconcile 限流
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

const (
	FunctionsModeLocal  = "local"
	FunctionsModeStream = "stream"
)

func defaults() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = ":8080"
	cfg.DBEnabled = true
	cfg.Database = commoncfg.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "investorkonnect",
		SSLMode:  "disable",
		// reconcile 请求会持有连接直到轮询结束，池不宜过小
		MaxConns:              20,
		MaxIdle:               5,
		MaxIdleTimeSeconds:    300,
		ConnectTimeoutSeconds: 5,
		ApplicationName:       "investorkonnect-signing",
	}
	cfg.Redis.Addr = "localhost:6379"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Docusign.BaseURL = "https://demo.docusign.net"
	cfg.Docusign.OAuthBaseURL = "https://account-d.docusign.com"
	cfg.Reconcile = ReconcileConfig{
		MaxAttempts:        10,
		PollIntervalMS:     1000,
		DeadlineSeconds:    25,
		MaterializeLockTTL: 30,
	}
	cfg.Functions = FunctionsConfig{
		Mode:     FunctionsModeLocal,
		Stream:   "investorkonnect:functions",
		Group:    "investorkonnect-worker",
		Consumer: "worker-1",
	}
	cfg.RateLimit = RateLimitConfig{RPS: 0.5, Burst: 3}
	return cfg
}

func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.DBEnabled = parseBool(os.Getenv("DB_ENABLED"), cfg.DBEnabled)
	cfg.Database.LoadFromEnv("DB")
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Docusign.BaseURL = getEnv("DOCUSIGN_BASE_URL", cfg.Docusign.BaseURL)
	cfg.Docusign.AccountID = getEnv("DOCUSIGN_ACCOUNT_ID", cfg.Docusign.AccountID)
	cfg.Docusign.OAuthBaseURL = getEnv("DOCUSIGN_OAUTH_BASE_URL", cfg.Docusign.OAuthBaseURL)
	cfg.Docusign.ClientID = getEnv("DOCUSIGN_CLIENT_ID", cfg.Docusign.ClientID)
	cfg.Docusign.ClientSecret = getEnv("DOCUSIGN_CLIENT_SECRET", cfg.Docusign.ClientSecret)
	cfg.Docusign.WebhookSecret = getEnv("DOCUSIGN_WEBHOOK_SECRET", cfg.Docusign.WebhookSecret)
	cfg.Docusign.RefreshToken = getEnv("DOCUSIGN_REFRESH_TOKEN", cfg.Docusign.RefreshToken)

	cfg.Reconcile.MaxAttempts = parseInt(os.Getenv("RECONCILE_MAX_ATTEMPTS"), cfg.Reconcile.MaxAttempts)
	cfg.Reconcile.PollIntervalMS = parseInt(os.Getenv("RECONCILE_POLL_INTERVAL_MS"), cfg.Reconcile.PollIntervalMS)
	cfg.Reconcile.DeadlineSeconds = parseInt(os.Getenv("RECONCILE_DEADLINE_SECONDS"), cfg.Reconcile.DeadlineSeconds)
	cfg.Reconcile.MaterializeLockTTL = parseInt(os.Getenv("MATERIALIZE_LOCK_TTL_SECONDS"), cfg.Reconcile.MaterializeLockTTL)

	cfg.Functions.Mode = getEnv("FUNCTIONS_MODE", cfg.Functions.Mode)
	cfg.Functions.Stream = getEnv("FUNCTIONS_STREAM", cfg.Functions.Stream)
	cfg.Functions.Group = getEnv("FUNCTIONS_GROUP", cfg.Functions.Group)
	cfg.Functions.Consumer = getEnv("FUNCTIONS_CONSUMER", cfg.Functions.Consumer)

	cfg.RateLimit.RPS = parseFloat(os.Getenv("RATE_LIMIT_RPS"), cfg.RateLimit.RPS)
	cfg.RateLimit.Burst = parseInt(os.Getenv("RATE_LIMIT_BURST"), cfg.RateLimit.Burst)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查组合配置
func (c *Config) Validate() error {
	switch c.Functions.Mode {
	case FunctionsModeLocal, FunctionsModeStream:
	default:
		return fmt.Errorf("invalid FUNCTIONS_MODE %q", c.Functions.Mode)
	}
	if c.Reconcile.MaxAttempts <= 0 {
		return fmt.Errorf("RECONCILE_MAX_ATTEMPTS must be positive")
	}
	if c.Reconcile.PollIntervalMS < 0 {
		return fmt.Errorf("RECONCILE_POLL_INTERVAL_MS must not be negative")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseFloat(s string, def float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func parseBool(s string, def bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}
