// Package config resolves runtime configuration from defaults, an
// optional YAML file, and environment variables, in that order.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the server's runtime configuration. All durations are
// seconds.
type Config struct {
	Addr         string   `koanf:"addr"`
	DataDir      string   `koanf:"data_dir"`
	DatabasePath string   `koanf:"database_path"`
	LogLevel     string   `koanf:"log_level"`
	MaxAgents    int      `koanf:"max_agents"`
	AgentTimeout int      `koanf:"agent_timeout"`
	MaxRetries   int      `koanf:"max_retries"`
	CORSOrigins  []string `koanf:"cors_origins"`

	RetryDelay        int `koanf:"retry_delay"`
	QuestionTimeout   int `koanf:"question_timeout"`
	PlanTimeout       int `koanf:"plan_timeout"`
	WatchdogInterval  int `koanf:"watchdog_interval"`
	HousekeepInterval int `koanf:"housekeep_interval"`
	EventRetention    int `koanf:"event_retention"`

	Cache Cache `koanf:"cache"`

	// File is the optional YAML config path; flag-only.
	File string `koanf:"-"`
}

// Cache configures the driver's session client cache.
type Cache struct {
	Enabled    bool `koanf:"enabled"`
	MaxClients int  `koanf:"max_clients"`
	TTLSeconds int  `koanf:"ttl_seconds"`
}

// DefineFlags registers command-line flags. Call flag.Parse()
// separately after defining all flags.
func DefineFlags() *Config {
	c := &Config{}
	flag.StringVar(&c.Addr, "addr", "", "listen address (overrides config)")
	flag.StringVar(&c.DataDir, "data-dir", "", "data directory (overrides config)")
	flag.StringVar(&c.File, "config", "", "path to YAML config file")
	return c
}

func defaults() map[string]any {
	return map[string]any{
		"addr":               ":8000",
		"data_dir":           defaultDataDir(),
		"database_path":      "",
		"log_level":          "info",
		"max_agents":         10,
		"agent_timeout":      1800,
		"max_retries":        2,
		"cors_origins":       []string{"*"},
		"retry_delay":        3,
		"question_timeout":   300,
		"plan_timeout":       600,
		"watchdog_interval":  15,
		"housekeep_interval": 3600,
		"event_retention":    86400,
		"cache.enabled":      true,
		"cache.max_clients":  10,
		"cache.ttl_seconds":  300,
	}
}

// envVars maps recognised environment variables to config keys.
// Everything else in the environment is ignored.
var envVars = map[string]string{
	"MAINTHREAD_ADDR":          "addr",
	"MAINTHREAD_DATA_DIR":      "data_dir",
	"MAINTHREAD_LOG_LEVEL":     "log_level",
	"MAINTHREAD_MAX_AGENTS":    "max_agents",
	"MAINTHREAD_AGENT_TIMEOUT": "agent_timeout",
	"MAINTHREAD_MAX_RETRIES":   "max_retries",
	"DATABASE_PATH":            "database_path",
	"CORS_ORIGINS":             "cors_origins",
	"CACHE_ENABLED":            "cache.enabled",
	"CACHE_MAX_CLIENTS":        "cache.max_clients",
	"CACHE_TTL_SECONDS":        "cache.ttl_seconds",
}

// Load resolves the effective configuration. Flag values, when set,
// win over the merged defaults/file/env layers.
func Load(flags *Config) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if flags != nil && flags.File != "" {
		if err := k.Load(file.Provider(flags.File), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", flags.File, err)
		}
	}

	err := k.Load(env.ProviderWithValue("", ".", func(name, value string) (string, any) {
		key, ok := envVars[name]
		if !ok {
			return "", nil
		}
		if key == "cors_origins" {
			return key, splitOrigins(value)
		}
		return key, value
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if flags != nil {
		if flags.Addr != "" {
			cfg.Addr = flags.Addr
		}
		if flags.DataDir != "" {
			cfg.DataDir = flags.DataDir
		}
		cfg.File = flags.File
	}
	return &cfg, nil
}

// Validate checks the configuration and ensures the data dir exists.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.MaxAgents < 1 {
		return fmt.Errorf("max_agents must be at least 1")
	}
	if c.AgentTimeout < 1 {
		return fmt.Errorf("agent_timeout must be at least 1 second")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if err := os.MkdirAll(c.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// DBPath returns the SQLite database path, honouring DATABASE_PATH.
func (c *Config) DBPath() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(c.DataDir, "mainthread.db")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "mainthread")
	}
	return filepath.Join(home, ".config", "mainthread")
}

func splitOrigins(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
