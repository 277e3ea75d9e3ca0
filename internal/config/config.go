// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.assistant/config.yaml or ./config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Model: chat-completions API endpoint, key, and per-tier model names
//   - Storage: PostgreSQL connection (see storage.go)
//   - Tools: tool-execution service endpoint
//   - Server: listen address, CORS, rate limiting
//
// Security: Sensitive data (API key, password) is never logged; the config
// directory uses 0750 permissions. Validation uses sentinel errors so callers
// can match with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the model API key is missing.
	ErrMissingAPIKey = errors.New("missing model API key")

	// ErrInvalidModelBaseURL indicates the model API base URL is invalid.
	ErrInvalidModelBaseURL = errors.New("invalid model API base URL")

	// ErrInvalidModelName indicates a tier model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates a temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates a max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidListenAddr indicates the server listen address is invalid.
	ErrInvalidListenAddr = errors.New("invalid listen address")
)

const (
	// DefaultMiniModel is the low-cost tier model.
	DefaultMiniModel = "gpt-4o-mini"

	// DefaultStandardModel is the full-capability tier model.
	// The reasoning tier currently aliases to this model as well.
	DefaultStandardModel = "gpt-4o"

	// DefaultRecentTurnsToKeep is how many conversational turns survive
	// compression verbatim.
	DefaultRecentTurnsToKeep = 4
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// Model API configuration (chat-completions style endpoint)
	ModelBaseURL  string `mapstructure:"model_base_url" json:"model_base_url"`
	ModelAPIKey   string `mapstructure:"model_api_key" json:"model_api_key"` // SENSITIVE: masked in MarshalJSON
	MiniModel     string `mapstructure:"mini_model" json:"mini_model"`
	StandardModel string `mapstructure:"standard_model" json:"standard_model"`

	// Generation parameters per tier
	MiniMaxTokens       int     `mapstructure:"mini_max_tokens" json:"mini_max_tokens"`
	StandardMaxTokens   int     `mapstructure:"standard_max_tokens" json:"standard_max_tokens"`
	MiniTemperature     float64 `mapstructure:"mini_temperature" json:"mini_temperature"`
	StandardTemperature float64 `mapstructure:"standard_temperature" json:"standard_temperature"`

	// Conversation configuration
	RecentTurnsToKeep int `mapstructure:"recent_turns_to_keep" json:"recent_turns_to_keep"`

	// Tool execution service (the ticketing platform's internal tool API)
	ToolServiceURL string `mapstructure:"tool_service_url" json:"tool_service_url"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Server configuration (serve mode only)
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For headers (set true behind reverse proxy)
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".assistant")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".") // Also support current directory

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when present.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// Model defaults
	v.SetDefault("model_base_url", "https://api.openai.com/v1")
	v.SetDefault("mini_model", DefaultMiniModel)
	v.SetDefault("standard_model", DefaultStandardModel)
	v.SetDefault("mini_max_tokens", 1024)
	v.SetDefault("standard_max_tokens", 4096)
	v.SetDefault("mini_temperature", 0.3)
	v.SetDefault("standard_temperature", 0.7)

	// Conversation defaults
	v.SetDefault("recent_turns_to_keep", DefaultRecentTurnsToKeep)

	// Tool service defaults
	v.SetDefault("tool_service_url", "http://localhost:8081")

	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "assistant")
	v.SetDefault("postgres_password", "assistant_dev_password")
	v.SetDefault("postgres_db_name", "assistant")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Server defaults
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("cors_origins", []string{})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", 60)
}

// bindEnvVariables binds environment variables to configuration keys.
// Environment variables use the ASSISTANT_ prefix (e.g. ASSISTANT_MODEL_API_KEY).
func bindEnvVariables(v *viper.Viper) {
	v.SetEnvPrefix("ASSISTANT")
	v.AutomaticEnv()

	// Explicit binds so nested keys resolve even without a config file.
	keys := []string{
		"model_base_url", "model_api_key", "mini_model", "standard_model",
		"mini_max_tokens", "standard_max_tokens",
		"mini_temperature", "standard_temperature",
		"recent_turns_to_keep", "tool_service_url",
		"postgres_host", "postgres_port", "postgres_user",
		"postgres_password", "postgres_db_name", "postgres_ssl_mode",
		"listen_addr", "cors_origins", "trust_proxy", "rate_burst",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// MarshalJSON masks sensitive fields when the config is serialized
// (e.g. for debug logging or the /ready endpoint).
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	masked := alias(c)
	if masked.ModelAPIKey != "" {
		masked.ModelAPIKey = "********"
	}
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "********"
	}
	return json.Marshal(masked)
}
