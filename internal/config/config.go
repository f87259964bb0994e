// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the gravityproxy gateway.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Upstream UpstreamConfig `koanf:"upstream"`

	// Accounts is the default, config-driven implementation of the token
	// pool described in spec §6 (TokenProvider is formally an external
	// collaborator; this is the reference implementation that ships with
	// the proxy so it runs standalone).
	Accounts []AccountConfig `koanf:"accounts"`

	// AnthropicModelMapping is the ModelMapping from spec §3/§4.C3 phase 1.
	// This field only holds the value as of process start; mapping.Watcher
	// reloads it at runtime when the backing file changes.
	AnthropicModelMapping map[string]string `koanf:"anthropic_model_mapping"`

	// Cooldown configures the optional shared account-cooldown store.
	Cooldown CooldownConfig `koanf:"cooldown"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// UpstreamConfig holds settings for talking to the Antigravity upstream.
type UpstreamConfig struct {
	// BaseURL defaults to the daily sandbox host; overridable for testing
	// against a recorded cassette server or an alternate environment.
	BaseURL string `koanf:"base_url"`

	// RequestTimeoutSecs is the single configurable total-request timeout
	// from spec §5 ("Timeouts"). It applies per upstream call, not per chunk.
	RequestTimeoutSecs int `koanf:"request_timeout_secs"`

	// Proxy is the optional outbound proxy setting from spec §4.C1.
	Proxy ProxyConfig `koanf:"proxy"`
}

// ProxyConfig is the optional upstream-proxy setting used by the HTTP
// client wrapper (spec §4.C1).
type ProxyConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// AccountConfig describes one account in the token pool.
type AccountConfig struct {
	Identifier  string `koanf:"identifier"`
	AccessToken string `koanf:"access_token"`
	ProjectID   string `koanf:"project_id"`
	SessionID   string `koanf:"session_id"`
}

// CooldownConfig selects the account-cooldown backing store.
type CooldownConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend  string `koanf:"backend"`
	RedisURL string `koanf:"redis_url"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config. Mirrors the
// teacher's config.Load (koanf + godotenv + ${VAR} expansion) with a
// richer schema.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Layer environment variables on top. Any env var starting with
	// "GRAVITYPROXY_" can override a config value:
	//   GRAVITYPROXY_SERVER_PORT -> server.port
	if err := k.Load(env.Provider("GRAVITYPROXY_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "GRAVITYPROXY_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	// Expand ${VAR_NAME} placeholders in account access tokens and
	// project ids, same convention as the teacher's provider API keys.
	for i, acct := range cfg.Accounts {
		cfg.Accounts[i].AccessToken = expandEnvPlaceholder(acct.AccessToken)
		cfg.Accounts[i].ProjectID = expandEnvPlaceholder(acct.ProjectID)
	}
	cfg.Cooldown.RedisURL = expandEnvPlaceholder(cfg.Cooldown.RedisURL)

	return &cfg, nil
}

func expandEnvPlaceholder(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

func applyDefaults(cfg *Config) {
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = "https://daily-cloudcode-pa.sandbox.googleapis.com"
	}
	if cfg.Upstream.RequestTimeoutSecs == 0 {
		cfg.Upstream.RequestTimeoutSecs = 120
	}
	if cfg.Cooldown.Backend == "" {
		cfg.Cooldown.Backend = "memory"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8045
	}
}
