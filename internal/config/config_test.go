package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
provider:
  default: openrouter
  fallback: "false"
  ollama:
    host: http://localhost:11434
    model: llama3.2
  openrouter:
    model: openai/gpt-4o-mini
corpus:
  db_path: /tmp/kestrel-test.db
server:
  host: 127.0.0.1
  port: 9876
  rate_limit: 5
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"KESTREL_PROVIDER", "KESTREL_FALLBACK",
		"OLLAMA_HOST", "OLLAMA_MODEL", "OPENROUTER_MODEL",
		"KESTREL_CORPUS_DB", "KESTREL_SERVER_HOST", "KESTREL_SERVER_PORT",
		"KESTREL_RATE_LIMIT", "LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"KESTREL_PROVIDER":    "openrouter",
		"KESTREL_FALLBACK":    "false",
		"OLLAMA_HOST":         "http://localhost:11434",
		"OLLAMA_MODEL":        "llama3.2",
		"OPENROUTER_MODEL":    "openai/gpt-4o-mini",
		"KESTREL_CORPUS_DB":   "/tmp/kestrel-test.db",
		"KESTREL_SERVER_HOST": "127.0.0.1",
		"KESTREL_SERVER_PORT": "9876",
		"KESTREL_RATE_LIMIT":  "5",
		"LOG_LEVEL":           "debug",
		"LOG_FORMAT":          "text",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
provider:
  default: ollama
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading — it should NOT be overwritten.
	t.Setenv("KESTREL_PROVIDER", "gemini")

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("KESTREL_PROVIDER"); got != "gemini" {
		t.Errorf("KESTREL_PROVIDER: expected env override %q, got %q", "gemini", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestFloatStr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float64
		want string
	}{
		{0.0, ""},
		{0.5, "0.5"},
		{5, "5"},
		{12.25, "12.25"},
	}
	for _, tt := range tests {
		if got := floatStr(tt.in); got != tt.want {
			t.Errorf("floatStr(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
