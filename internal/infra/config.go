package infra

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every setting the relay needs. Secrets are loaded from the
// YAML file and then overridden by environment variables, so credential
// values never have to live on disk.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		ListenAddr string `yaml:"listen_addr"`
		// Shared secret for verifying the webhook sender's HMAC of the
		// raw body. Empty disables upstream signature checking.
		WebhookSecret string `yaml:"webhook_secret"`
	} `yaml:"server"`

	API struct {
		OKX struct {
			RestURL    string `yaml:"rest_url"`
			AccessKey  string `yaml:"access_key"`
			SecretKey  string `yaml:"secret_key"`
			Passphrase string `yaml:"passphrase"`
			TimeoutSec int    `yaml:"timeout_sec"`
		} `yaml:"okx"`
	} `yaml:"api"`

	Filter struct {
		MaxPayloadBytes  int      `yaml:"max_payload_bytes"`
		MaxContentLength int      `yaml:"max_content_length"`
		MaxAgeSec        int      `yaml:"max_age_sec"`
		SkewToleranceSec int      `yaml:"skew_tolerance_sec"`
		AllowedKinds     []string `yaml:"allowed_kinds"`
		BlockedKeywords  []string `yaml:"blocked_keywords"`
	} `yaml:"filter"`

	Forwarder struct {
		MaxRetries     int     `yaml:"max_retries"`
		BackoffBaseMS  int     `yaml:"backoff_base_ms"`
		BackoffCapMS   int     `yaml:"backoff_cap_ms"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst"`
		QueueCapacity  int     `yaml:"queue_capacity"`
		Workers        int     `yaml:"workers"`
		Breaker        struct {
			ConsecutiveFailures uint32 `yaml:"consecutive_failures"`
			CooldownSec         int    `yaml:"cooldown_sec"`
		} `yaml:"breaker"`
	} `yaml:"forwarder"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies defaults,
// environment overrides for secrets, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.API.OKX.RestURL == "" {
		c.API.OKX.RestURL = "https://www.okx.com"
	}
	if c.API.OKX.TimeoutSec <= 0 {
		c.API.OKX.TimeoutSec = 30
	}
	if c.Filter.MaxPayloadBytes <= 0 {
		c.Filter.MaxPayloadBytes = 64 * 1024
	}
	if c.Filter.MaxContentLength <= 0 {
		c.Filter.MaxContentLength = 1000
	}
	if c.Filter.MaxAgeSec <= 0 {
		c.Filter.MaxAgeSec = 300
	}
	if c.Filter.SkewToleranceSec <= 0 {
		c.Filter.SkewToleranceSec = 5
	}
	if len(c.Filter.AllowedKinds) == 0 {
		c.Filter.AllowedKinds = []string{"text", "order", "market_data"}
	}
	if len(c.Filter.BlockedKeywords) == 0 {
		c.Filter.BlockedKeywords = []string{"password", "secret", "key", "token", "credential"}
	}
	if c.Forwarder.MaxRetries <= 0 {
		c.Forwarder.MaxRetries = 3
	}
	if c.Forwarder.BackoffBaseMS <= 0 {
		c.Forwarder.BackoffBaseMS = 1000
	}
	if c.Forwarder.BackoffCapMS <= 0 {
		c.Forwarder.BackoffCapMS = 60000
	}
	if c.Forwarder.RateLimitRPS <= 0 {
		c.Forwarder.RateLimitRPS = 10
	}
	if c.Forwarder.RateLimitBurst <= 0 {
		c.Forwarder.RateLimitBurst = 5
	}
	if c.Forwarder.QueueCapacity <= 0 {
		c.Forwarder.QueueCapacity = 64
	}
	if c.Forwarder.Workers <= 0 {
		c.Forwarder.Workers = 4
	}
	if c.Forwarder.Breaker.ConsecutiveFailures == 0 {
		c.Forwarder.Breaker.ConsecutiveFailures = 5
	}
	if c.Forwarder.Breaker.CooldownSec <= 0 {
		c.Forwarder.Breaker.CooldownSec = 30
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.API.OKX.RestURL, "https://") && !strings.HasPrefix(c.API.OKX.RestURL, "http://") {
		return fmt.Errorf("invalid OKX REST URL: %s", c.API.OKX.RestURL)
	}
	if c.Filter.MaxAgeSec <= c.Filter.SkewToleranceSec {
		return fmt.Errorf("max_age_sec (%d) must exceed skew_tolerance_sec (%d)",
			c.Filter.MaxAgeSec, c.Filter.SkewToleranceSec)
	}
	for _, kind := range c.Filter.AllowedKinds {
		switch kind {
		case "text", "order", "market_data":
		default:
			return fmt.Errorf("unknown content kind in allow-list: %s", kind)
		}
	}
	if c.Forwarder.BackoffBaseMS > c.Forwarder.BackoffCapMS {
		return fmt.Errorf("backoff_base_ms (%d) must not exceed backoff_cap_ms (%d)",
			c.Forwarder.BackoffBaseMS, c.Forwarder.BackoffCapMS)
	}
	return nil
}

// HasCredentials reports whether the full OKX credential set is present.
func (c *Config) HasCredentials() bool {
	okx := c.API.OKX
	return okx.AccessKey != "" && okx.SecretKey != "" && okx.Passphrase != ""
}

// overrideWithEnv replaces secret values when environment variables exist.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("RELAY_OKX_KEY"); key != "" {
		cfg.API.OKX.AccessKey = key
	}
	if secret := os.Getenv("RELAY_OKX_SECRET"); secret != "" {
		cfg.API.OKX.SecretKey = secret
	}
	if pass := os.Getenv("RELAY_OKX_PASSPHRASE"); pass != "" {
		cfg.API.OKX.Passphrase = pass
	}
	if secret := os.Getenv("RELAY_WEBHOOK_SECRET"); secret != "" {
		cfg.Server.WebhookSecret = secret
	}
}
