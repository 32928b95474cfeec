// Package config loads the service's single YAML configuration file,
// nested by concern the way the teacher's connector.Config does.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/beeper/persona-session-orchestrator/internal/logging"
)

// Config is the top-level, per-process configuration (§6 "Environment
// configuration").
type Config struct {
	ListenAddr string        `yaml:"listen_addr"`
	Logging    logging.Config `yaml:"logging"`

	DatabaseURL    string `yaml:"database_url"`
	VectorStoreURL string `yaml:"vector_store_url"`
	EncryptionKey  string `yaml:"encryption_key"`

	LLMCallTimeoutSeconds       int `yaml:"llm_call_timeout_seconds"`
	SessionIdleEvictionSeconds  int `yaml:"session_idle_eviction_seconds"`
	MaxHistoryPerRequest        int `yaml:"max_history_per_request"`
	EventBusPerSubscriberBuffer int `yaml:"event_bus_per_subscriber_buffer"`
}

// envPattern matches ${VAR_NAME} references inside string config values,
// following the teacher's secret-expansion convention for things like API
// keys and database DSNs that shouldn't be checked into a config file.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(raw string) string {
	return envPattern.ReplaceAllStringFunc(raw, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Load reads and parses the YAML config at path, applying defaults and
// environment-variable expansion.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnv(string(raw))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = ":8080"
	}
	if c.LLMCallTimeoutSeconds <= 0 {
		c.LLMCallTimeoutSeconds = 60
	}
	if c.SessionIdleEvictionSeconds <= 0 {
		c.SessionIdleEvictionSeconds = 1800
	}
	if c.MaxHistoryPerRequest <= 0 {
		c.MaxHistoryPerRequest = 128
	}
	if c.MaxHistoryPerRequest > 128 {
		c.MaxHistoryPerRequest = 128
	}
	if c.EventBusPerSubscriberBuffer <= 0 {
		c.EventBusPerSubscriberBuffer = 64
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("config: database_url is required")
	}
	if strings.TrimSpace(c.EncryptionKey) == "" {
		return fmt.Errorf("config: encryption_key is required")
	}
	return nil
}

// LLMCallTimeout returns the configured per-call timeout as a duration.
func (c *Config) LLMCallTimeout() time.Duration {
	return time.Duration(c.LLMCallTimeoutSeconds) * time.Second
}

// SessionIdleEviction returns the configured idle-binding timeout.
func (c *Config) SessionIdleEviction() time.Duration {
	return time.Duration(c.SessionIdleEvictionSeconds) * time.Second
}
