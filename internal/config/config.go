// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/gptchat/internal/pricing"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete gptchat configuration.
type Config struct {
	// DefaultModel is the model selected for new conversations when the
	// client does not pick one.
	DefaultModel string `toml:"default_model"`

	// Models maps model identifiers to their per-1000-token prices.
	// Every model named here is offered to users.
	Models map[string]pricing.Price `toml:"models"`

	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	OpenAI   OpenAIConfig   `toml:"openai"`
	Auth     AuthConfig     `toml:"auth"`
	Chat     ChatConfig     `toml:"chat"`
	Log      LogConfig      `toml:"log"`
}

// DatabaseConfig contains the persistence settings.
type DatabaseConfig struct {
	// Path is the SQLite database file. Parent directories are created
	// on open.
	Path string `toml:"path"`
}

// ServerConfig contains the HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// ReadTimeoutSecs bounds request header reads. Streaming responses
	// are not subject to a write timeout.
	ReadTimeoutSecs int `toml:"read_timeout_secs"`

	// RateLimitPerSec is the sustained per-client request rate.
	// Zero disables rate limiting.
	RateLimitPerSec float64 `toml:"rate_limit_per_sec"`
	// RateLimitBurst is the per-client burst allowance.
	RateLimitBurst int `toml:"rate_limit_burst"`

	// AllowedOrigins lists origins permitted by CORS. Empty disables
	// cross-origin access.
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ReadTimeout returns the header read timeout as a duration.
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSecs) * time.Second
}

// OpenAIConfig contains the upstream completion API settings.
type OpenAIConfig struct {
	// APIKey authenticates against the completion API. The
	// OPENAI_API_KEY environment variable takes precedence.
	APIKey string `toml:"api_key"`
	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string `toml:"base_url"`

	TimeoutSecs int `toml:"timeout_secs"`
	MaxRetries  int `toml:"max_retries"`
}

// Timeout returns the request timeout as a duration.
func (o OpenAIConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSecs) * time.Second
}

// AuthConfig contains the authentication settings.
type AuthConfig struct {
	// Enabled gates the whole login surface. When false the server
	// skips session enforcement and serves a single anonymous user.
	Enabled bool `toml:"enabled"`

	// CredentialsPath is the YAML file holding user credentials.
	// Required only when auth is enabled.
	CredentialsPath string `toml:"credentials_path"`

	// WatchCredentials re-runs user bootstrap when the credentials
	// file changes on disk.
	WatchCredentials bool `toml:"watch_credentials"`

	// SessionTTLSecs is the lifetime of a login session.
	SessionTTLSecs int `toml:"session_ttl_secs"`

	// DefaultCredit is the spending allowance granted to users created
	// from the credentials file.
	DefaultCredit float64 `toml:"default_credit"`
}

// SessionTTL returns the session lifetime as a duration.
func (a AuthConfig) SessionTTL() time.Duration {
	return time.Duration(a.SessionTTLSecs) * time.Second
}

// ChatConfig contains conversation behavior settings.
type ChatConfig struct {
	// HistoryLimit caps how many recent conversations are listed.
	HistoryLimit int `toml:"history_limit"`

	// SystemMsg is prepended to every new conversation when set.
	SystemMsg string `toml:"system_msg"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `toml:"level"`
	// Format is "json" or "console".
	Format string `toml:"format"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DefaultModel: "gpt-4o-mini",
		Models: map[string]pricing.Price{
			"gpt-4o-mini": {Input: 0.00015, Output: 0.0006},
			"gpt-4o":      {Input: 0.0025, Output: 0.01},
		},
		Database: DatabaseConfig{
			Path: "data/chat.db",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8400,
			ReadTimeoutSecs: 10,
			RateLimitPerSec: 5,
			RateLimitBurst:  10,
		},
		OpenAI: OpenAIConfig{
			TimeoutSecs: 60,
			MaxRetries:  3,
		},
		Auth: AuthConfig{
			Enabled:          true,
			CredentialsPath:  "credentials.yaml",
			WatchCredentials: true,
			SessionTTLSecs:   86400,
			DefaultCredit:    10.0,
		},
		Chat: ChatConfig{
			HistoryLimit: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// LoadFromPath loads configuration from a TOML file, applies environment
// overrides, fills defaults, and validates.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	fillDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
// The API key never has to live in the config file.
func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.OpenAI.APIKey = strings.TrimSpace(key)
	}
}

// fillDefaults backfills zero values that decoding may have cleared.
func fillDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.ReadTimeoutSecs <= 0 {
		cfg.Server.ReadTimeoutSecs = def.Server.ReadTimeoutSecs
	}
	if cfg.OpenAI.TimeoutSecs <= 0 {
		cfg.OpenAI.TimeoutSecs = def.OpenAI.TimeoutSecs
	}
	if cfg.OpenAI.MaxRetries <= 0 {
		cfg.OpenAI.MaxRetries = def.OpenAI.MaxRetries
	}
	if cfg.Auth.SessionTTLSecs <= 0 {
		cfg.Auth.SessionTTLSecs = def.Auth.SessionTTLSecs
	}
	if cfg.Chat.HistoryLimit <= 0 {
		cfg.Chat.HistoryLimit = def.Chat.HistoryLimit
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns all problems found.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Database.Path == "" {
		errs = append(errs, ValidationError{"database.path", "must not be empty"})
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{"server.port", fmt.Sprintf("must be 1-65535, got %d", c.Server.Port)})
	}
	if c.Server.RateLimitPerSec < 0 {
		errs = append(errs, ValidationError{"server.rate_limit_per_sec", "must not be negative"})
	}
	if c.Auth.Enabled && c.Auth.CredentialsPath == "" {
		errs = append(errs, ValidationError{"auth.credentials_path", "must not be empty when auth is enabled"})
	}
	if c.Auth.DefaultCredit < 0 {
		errs = append(errs, ValidationError{"auth.default_credit", "must not be negative"})
	}

	if len(c.Models) == 0 {
		errs = append(errs, ValidationError{"models", "at least one model with pricing is required"})
	}
	for name, price := range c.Models {
		if price.Input < 0 || price.Output < 0 {
			errs = append(errs, ValidationError{"models." + name, "prices must not be negative"})
		}
	}
	if c.DefaultModel == "" {
		errs = append(errs, ValidationError{"default_model", "must not be empty"})
	} else if _, ok := c.Models[c.DefaultModel]; !ok {
		errs = append(errs, ValidationError{"default_model", fmt.Sprintf("%q has no pricing entry", c.DefaultModel)})
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{"log.level", fmt.Sprintf("unknown level %q", c.Log.Level)})
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, ValidationError{"log.format", fmt.Sprintf("unknown format %q", c.Log.Format)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ModelNames returns the configured model identifiers, sorted.
func (c *Config) ModelNames() []string {
	names := make([]string, 0, len(c.Models))
	for name := range c.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PricingTable builds the pricing lookup table from the configured models.
func (c *Config) PricingTable() *pricing.Table {
	return pricing.NewTable(c.Models)
}
