// Package config loads the server configuration from config.yaml with
// environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// ProvidersConfig selects quote providers and their deadlines.
type ProvidersConfig struct {
	// Priority is the fallback order, primary first. Known names:
	// sina, tencent, eastmoney, member.
	Priority       []string                 `mapstructure:"priority"`
	DefaultTimeout time.Duration            `mapstructure:"default_timeout"`
	Timeouts       map[string]time.Duration `mapstructure:"timeouts"`
	QuoteTTL       time.Duration            `mapstructure:"quote_ttl"`

	SinaBaseURL        string `mapstructure:"sina_base_url"`
	TencentBaseURL     string `mapstructure:"tencent_base_url"`
	EastmoneyBaseURL   string `mapstructure:"eastmoney_base_url"`
	EastmoneyHistURL   string `mapstructure:"eastmoney_hist_url"`
	MemberAPIBaseURL   string `mapstructure:"member_api_base_url"`
	TickStreamEndpoint string `mapstructure:"tick_stream_endpoint"`

	// WatchSymbols are archived continuously from the tick stream when
	// a stream endpoint is configured.
	WatchSymbols []string `mapstructure:"watch_symbols"`
}

// TierConfig is one large-order tier boundary in yuan.
type TierConfig struct {
	Name      string  `mapstructure:"name"`
	MinAmount float64 `mapstructure:"min_amount"`
}

// ClassifyConfig tunes the tick classifier. An empty Tiers list falls
// back to the built-in thresholds.
type ClassifyConfig struct {
	Tiers []TierConfig `mapstructure:"tiers"`
}

// SessionConfig tunes session issuance.
type SessionConfig struct {
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	AttemptCap     int           `mapstructure:"attempt_cap"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// CaptchaStrategyConfig is one step of the solving chain, tried in
// listed order.
type CaptchaStrategyConfig struct {
	Name          string        `mapstructure:"name"` // ocr or relay
	Endpoint      string        `mapstructure:"endpoint"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MinConfidence float64       `mapstructure:"min_confidence"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

// PoolsConfig seeds the phone pool, proxy rotator and fingerprints.
type PoolsConfig struct {
	Phones           []string `mapstructure:"phones"`
	PhoneMaxUsage    int      `mapstructure:"phone_max_usage"`
	Proxies          []string `mapstructure:"proxies"`
	ProxyHealthFloor float64  `mapstructure:"proxy_health_floor"`
	FingerprintSeed  int64    `mapstructure:"fingerprint_seed"`
}

// StorageConfig selects the persistence backends. Empty DSNs fall back
// to in-memory stores.
type StorageConfig struct {
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	ClickhouseDSN string `mapstructure:"clickhouse_dsn"`
}

// CacheConfig selects the quote cache. An empty RedisURL uses the
// in-process cache.
type CacheConfig struct {
	RedisURL string `mapstructure:"redis_url"`
	Prefix   string `mapstructure:"prefix"`
}

// Config is the full server configuration.
type Config struct {
	LogLevel  string                  `mapstructure:"log_level"`
	Server    ServerConfig            `mapstructure:"server"`
	Providers ProvidersConfig         `mapstructure:"providers"`
	Classify  ClassifyConfig          `mapstructure:"classify"`
	Session   SessionConfig           `mapstructure:"session"`
	Captcha   []CaptchaStrategyConfig `mapstructure:"captcha"`
	Pools     PoolsConfig             `mapstructure:"pools"`
	Storage   StorageConfig           `mapstructure:"storage"`
	Cache     CacheConfig             `mapstructure:"cache"`
}

// Load reads config.yaml from the given directory and applies
// OFLOW_-prefixed environment overrides. A missing file is fine, the
// defaults plus environment are used.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("OFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.cleanup_interval", "5m")

	v.SetDefault("providers.priority", []string{"sina", "tencent", "eastmoney"})
	v.SetDefault("providers.default_timeout", "5s")
	v.SetDefault("providers.quote_ttl", "30s")
	v.SetDefault("providers.sina_base_url", "https://hq.sinajs.cn")
	v.SetDefault("providers.tencent_base_url", "https://qt.gtimg.cn")
	v.SetDefault("providers.eastmoney_base_url", "https://push2.eastmoney.com")
	v.SetDefault("providers.eastmoney_hist_url", "https://push2his.eastmoney.com")

	v.SetDefault("session.token_ttl", "30m")
	v.SetDefault("session.attempt_cap", 5)
	v.SetDefault("session.backoff_initial", "500ms")
	v.SetDefault("session.backoff_max", "30s")

	v.SetDefault("pools.phone_max_usage", 5)
	v.SetDefault("pools.proxy_health_floor", 30.0)
	v.SetDefault("pools.fingerprint_seed", 0)

	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.clickhouse_dsn", "")

	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.prefix", "oflow")
}
