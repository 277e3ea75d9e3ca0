package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validSSLModes are the PostgreSQL SSL modes accepted by the pgx driver.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the configuration for correctness.
// Returns a wrapped sentinel error describing the first problem found.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if err := c.validateModel(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return c.validateServer()
}

func (c *Config) validateModel() error {
	u, err := url.Parse(c.ModelBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidModelBaseURL, c.ModelBaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidModelBaseURL, u.Scheme)
	}

	if strings.TrimSpace(c.MiniModel) == "" {
		return fmt.Errorf("%w: mini_model is empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.StandardModel) == "" {
		return fmt.Errorf("%w: standard_model is empty", ErrInvalidModelName)
	}

	for name, temp := range map[string]float64{
		"mini_temperature":     c.MiniTemperature,
		"standard_temperature": c.StandardTemperature,
	} {
		if temp < 0 || temp > 2 {
			return fmt.Errorf("%w: %s must be in [0, 2], got %v", ErrInvalidTemperature, name, temp)
		}
	}

	for name, tokens := range map[string]int{
		"mini_max_tokens":     c.MiniMaxTokens,
		"standard_max_tokens": c.StandardMaxTokens,
	} {
		if tokens < 1 || tokens > 128000 {
			return fmt.Errorf("%w: %s must be in [1, 128000], got %d", ErrInvalidMaxTokens, name, tokens)
		}
	}

	return nil
}

func (c *Config) validateStorage() error {
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port must be in [1, 65535], got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}
	return nil
}

func (c *Config) validateServer() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("%w: listen_addr is empty", ErrInvalidListenAddr)
	}
	return nil
}

// RequireAPIKey returns an error if the model API key is not configured.
// Called by commands that talk to the upstream model (serve), but not by
// offline commands (migrate, sessions, version).
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.ModelAPIKey) == "" {
		return fmt.Errorf("%w: set ASSISTANT_MODEL_API_KEY or model_api_key in config.yaml", ErrMissingAPIKey)
	}
	return nil
}
