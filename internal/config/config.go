// Package config loads gateway configuration from an optional YAML file with
// environment-variable overrides, and supports hot reload of tunable limits.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort            = 8000
	defaultDailyTokenLimit = 100_000
	defaultDBPath          = "proxy.db"
)

// Config holds everything the gateway consumes from its environment: the
// upstream provider endpoint and credential, the search credential, the
// daily token cap, and the storage location.
type Config struct {
	// Host is the listen address. Empty means all interfaces.
	Host string `yaml:"host,omitempty"`

	// Port is the listen port.
	Port int `yaml:"port,omitempty"`

	// OpenAIBaseURL overrides the upstream provider endpoint.
	OpenAIBaseURL string `yaml:"openai-base-url,omitempty"`

	// OpenAIAPIKey is the server's own upstream credential, substituted for
	// the caller's bearer on every forwarded request.
	OpenAIAPIKey string `yaml:"openai-api-key,omitempty"`

	// BraveAPIKey enables the search endpoint. Empty disables search (503).
	BraveAPIKey string `yaml:"brave-api-key,omitempty"`

	// DailyTokenLimit is the per-device daily token cap. Reloadable.
	DailyTokenLimit int64 `yaml:"daily-token-limit,omitempty"`

	// DBPath is the SQLite file backing the device registry and usage ledger.
	DBPath string `yaml:"db-path,omitempty"`

	// LogFile enables rotated file logging when set; empty logs to stderr.
	LogFile string `yaml:"log-file,omitempty"`

	// Debug enables debug-level logging and gin debug mode.
	Debug bool `yaml:"debug,omitempty"`
}

// Load reads the YAML file at path when it exists, then applies environment
// overrides and defaults. A missing file is not an error; env-only
// deployments are supported.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	path = strings.TrimSpace(path)
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Fall through to env + defaults.
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		c.OpenAIAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); v != "" {
		c.OpenAIBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BRAVE_API_KEY")); v != "" {
		c.BraveAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("DAILY_TOKEN_LIMIT")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			c.DailyTokenLimit = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("PROXY_DB_PATH")); v != "" {
		c.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Port = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = defaultPort
	}
	if c.DailyTokenLimit <= 0 {
		c.DailyTokenLimit = defaultDailyTokenLimit
	}
	if strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = defaultDBPath
	}
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
