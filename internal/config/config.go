// Package config provides YAML-based configuration for kestrel.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. KESTREL_CONFIG environment variable
//  3. ~/.kestrel/config.yaml
//  4. ./kestrel.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Provider configures the generation backend pool.
	Provider ProviderConfig `yaml:"provider"`

	// Corpus configures the local note cache.
	Corpus CorpusConfig `yaml:"corpus"`

	// Server configures the HTTP bridge.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// ProviderConfig holds generation backend settings.
type ProviderConfig struct {
	// Default selects the preferred backend: gemini, ollama, openrouter.
	Default string `yaml:"default"`

	// Fallback enables walking the remaining backends when the preferred
	// one fails. Accepts true/false; empty means enabled.
	Fallback string `yaml:"fallback"`

	// Gemini holds Gemini-specific settings.
	Gemini GeminiConfig `yaml:"gemini"`

	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`

	// OpenRouter holds OpenRouter-specific settings.
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
}

// GeminiConfig holds Google Gemini backend settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
}

// OllamaConfig holds Ollama backend settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint. Must resolve to loopback.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// OpenRouterConfig holds OpenRouter gateway settings.
type OpenRouterConfig struct {
	// APIKey is the OpenRouter API key. Prefer env var OPENROUTER_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the gateway model identifier (e.g. "openai/gpt-4o-mini").
	Model string `yaml:"model"`
	// BaseURL overrides the gateway endpoint, mainly for tests.
	BaseURL string `yaml:"base_url"`
}

// CorpusConfig holds note cache settings.
type CorpusConfig struct {
	// DBPath is the SQLite database path. Defaults to ~/.kestrel/corpus.db.
	DBPath string `yaml:"db_path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var KESTREL_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimit is the sustained per-IP request rate (requests/second).
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the maximum instantaneous per-IP burst.
	RateBurst int `yaml:"rate_burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"KESTREL_PROVIDER", func(c *Config) string { return c.Provider.Default }},
	{"KESTREL_FALLBACK", func(c *Config) string { return c.Provider.Fallback }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Provider.Gemini.APIKey }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Provider.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Provider.Ollama.Model }},
	{"OPENROUTER_API_KEY", func(c *Config) string { return c.Provider.OpenRouter.APIKey }},
	{"OPENROUTER_MODEL", func(c *Config) string { return c.Provider.OpenRouter.Model }},
	{"OPENROUTER_BASE_URL", func(c *Config) string { return c.Provider.OpenRouter.BaseURL }},
	{"KESTREL_CORPUS_DB", func(c *Config) string { return c.Corpus.DBPath }},
	{"KESTREL_SERVER_HOST", func(c *Config) string { return c.Server.Host }},
	{"KESTREL_SERVER_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"KESTREL_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"KESTREL_RATE_LIMIT", func(c *Config) string { return floatStr(c.Server.RateLimit) }},
	{"KESTREL_RATE_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("KESTREL_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".kestrel", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("kestrel.yaml"); err == nil {
		return "kestrel.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// floatStr converts a float64 to string, returning "" for zero values.
func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%g", v)
}
