// Package config loads the realtord configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cbhirsch/real-estate-agent-chatbot/internal/auth"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys    []string `yaml:"api_keys"`
	NoAuth     bool     `yaml:"no_auth"`
	VapiSecret string   `yaml:"vapi_secret"`
}

// HistoryConfig bounds the context window projection.
type HistoryConfig struct {
	MaxTurns int `yaml:"max_turns"`
	MaxChars int `yaml:"max_chars"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Backend     string `yaml:"backend"` // "memory" or "postgres"
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LockConfig selects the per-session locking backend.
type LockConfig struct {
	Backend       string   `yaml:"backend"` // "local" or "etcd"
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
}

// SessionsConfig controls idle-session sweeping.
type SessionsConfig struct {
	IdleTTL       Duration `yaml:"idle_ttl"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// Config is the full realtord configuration.
type Config struct {
	Listen      string         `yaml:"listen"`
	Model       string         `yaml:"model"`
	MaxTokens   int            `yaml:"max_tokens"`
	Temperature *float64       `yaml:"temperature"`
	TurnTimeout Duration       `yaml:"turn_timeout"`
	PersonaFile string         `yaml:"persona_file"`
	LogLevel    string         `yaml:"log_level"`
	History     HistoryConfig  `yaml:"history"`
	Auth        AuthConfig     `yaml:"auth"`
	Store       StoreConfig    `yaml:"store"`
	Lock        LockConfig     `yaml:"lock"`
	Sessions    SessionsConfig `yaml:"sessions"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:      ":8000",
		Model:       "gpt-4o-mini",
		MaxTokens:   1024,
		TurnTimeout: Duration(60 * time.Second),
		LogLevel:    "info",
		History: HistoryConfig{
			MaxTurns: 50,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Lock: LockConfig{
			Backend: "local",
		},
		Sessions: SessionsConfig{
			IdleTTL:       Duration(0), // sweeping disabled
			SweepInterval: Duration(5 * time.Minute),
		},
	}
}

// Load reads the configuration file at path, merges it over the defaults,
// and applies environment overrides. An empty path loads defaults plus
// environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets secrets and deployment-specific values come from the
// environment rather than the config file.
func (c *Config) applyEnv() {
	if keys := auth.KeysFromEnv(); len(keys) > 0 {
		c.Auth.APIKeys = keys
	}
	if secret := os.Getenv("VAPI_SECRET"); secret != "" {
		c.Auth.VapiSecret = secret
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Store.Backend = "postgres"
		c.Store.PostgresDSN = dsn
	}
	if listen := os.Getenv("REALTOR_LISTEN"); listen != "" {
		c.Listen = listen
	}
	if model := os.Getenv("REALTOR_MODEL"); model != "" {
		c.Model = model
	}
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store backend %q requires postgres_dsn or DATABASE_URL", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Lock.Backend {
	case "local":
	case "etcd":
		if len(c.Lock.EtcdEndpoints) == 0 {
			return fmt.Errorf("lock backend %q requires etcd_endpoints", c.Lock.Backend)
		}
	default:
		return fmt.Errorf("unknown lock backend %q", c.Lock.Backend)
	}

	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	return nil
}

// Persona reads the persona file if configured, returning "" when unset.
func (c *Config) Persona() (string, error) {
	if c.PersonaFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.PersonaFile)
	if err != nil {
		return "", fmt.Errorf("read persona file: %w", err)
	}
	return string(data), nil
}
