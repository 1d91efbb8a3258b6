// Package config loads the gateway's configuration: defaults, a global
// ~/.claude-gateway/config.yaml, an optional project-local override, and
// environment variables, in ascending priority.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the gateway's full configuration tree.
type Config struct {
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	CLA       CLAConfig       `mapstructure:"cla"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Session   SessionConfig   `mapstructure:"session"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
}

// GatewayConfig configures the HTTP listener.
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

// CLAConfig configures CLA child-process invocation.
type CLAConfig struct {
	BinaryPath           string `mapstructure:"binary_path"`
	StdinPromptThreshold int    `mapstructure:"stdin_prompt_threshold"` // bytes
	MaxStdoutBytes       int    `mapstructure:"max_stdout_bytes"`
	MaxStderrBytes       int    `mapstructure:"max_stderr_bytes"`
}

// PoolConfig bounds concurrent CLA child processes.
type PoolConfig struct {
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	QueueTimeout    time.Duration `mapstructure:"queue_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SessionConfig bounds the session registry's lifetime and sweep cadence.
type SessionConfig struct {
	MaxAge        time.Duration `mapstructure:"max_age"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RateLimitConfig configures the per-IP/session sliding windows and the
// concurrency ceiling.
type RateLimitConfig struct {
	IPLimit            int           `mapstructure:"ip_limit"`
	IPWindow           time.Duration `mapstructure:"ip_window"`
	SessionLimit       int           `mapstructure:"session_limit"`
	SessionWindow      time.Duration `mapstructure:"session_window"`
	MaxConcurrentPerKey int          `mapstructure:"max_concurrent_per_key"`
}

// ProxyConfig configures the transparent upstream OpenAI-compatible backend.
type ProxyConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	AllowClientKey bool   `mapstructure:"allow_client_key"`
}

// AuthConfig lists the Bearer API keys the gateway accepts. Empty disables
// authentication entirely.
type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BodyLimits bounds request-body validation; kept separate from mapstructure
// since these are derived, not independently configurable fields.
type BodyLimits struct {
	MaxMessages     int
	MaxContentChars int
	MaxModelChars   int
	MaxBodyBytes    int64
}

// DefaultBodyLimits returns the gateway's fixed admission-validation limits.
func DefaultBodyLimits() BodyLimits {
	return BodyLimits{
		MaxMessages:     100,
		MaxContentChars: 500_000,
		MaxModelChars:   256,
		MaxBodyBytes:    2 << 20,
	}
}

// Load reads configuration from defaults, then ~/.claude-gateway/config.yaml,
// then an optional ./config.yaml (or ./config/config.yaml), then environment
// variables prefixed CLAUDE_GATEWAY_, each layer overriding the last.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(HomeDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err != nil {
			continue
		}
		local := viper.New()
		local.SetConfigFile(localPath)
		if err := local.ReadInConfig(); err == nil {
			_ = v.MergeConfigMap(local.AllSettings())
		}
		break
	}

	v.SetEnvPrefix("CLAUDE_GATEWAY")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 18789)
	v.SetDefault("gateway.mode", "release")

	v.SetDefault("cla.binary_path", "claude")
	v.SetDefault("cla.stdin_prompt_threshold", 131072)
	v.SetDefault("cla.max_stdout_bytes", 10<<20)
	v.SetDefault("cla.max_stderr_bytes", 1<<20)

	v.SetDefault("pool.max_concurrent", 8)
	v.SetDefault("pool.queue_timeout", "30s")
	v.SetDefault("pool.shutdown_timeout", "10s")

	v.SetDefault("session.max_age", "24h")
	v.SetDefault("session.ttl", "30m")
	v.SetDefault("session.sweep_interval", "5m")

	v.SetDefault("rate_limit.ip_limit", 60)
	v.SetDefault("rate_limit.ip_window", "1m")
	v.SetDefault("rate_limit.session_limit", 30)
	v.SetDefault("rate_limit.session_window", "1m")
	v.SetDefault("rate_limit.max_concurrent_per_key", 4)

	v.SetDefault("proxy.enabled", true)
	v.SetDefault("proxy.base_url", "")
	v.SetDefault("proxy.api_key", "")
	v.SetDefault("proxy.allow_client_key", true)

	v.SetDefault("auth.api_keys", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
