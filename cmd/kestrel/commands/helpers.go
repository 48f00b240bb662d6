package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kestrelnotes/kestrel-go/internal/answer"
	"github.com/kestrelnotes/kestrel-go/internal/corpus"
	"github.com/kestrelnotes/kestrel-go/internal/logging"
	"github.com/kestrelnotes/kestrel-go/internal/provider"
	"github.com/kestrelnotes/kestrel-go/internal/telemetry"
)

// settingsFromEnv assembles the backend pool settings from the environment.
// config.Load has already projected the YAML file into these variables.
func settingsFromEnv() provider.Settings {
	return provider.Settings{
		Provider:          os.Getenv("KESTREL_PROVIDER"),
		Fallback:          !strings.EqualFold(os.Getenv("KESTREL_FALLBACK"), "false"),
		GeminiAPIKey:      os.Getenv("GOOGLE_API_KEY"),
		OllamaHost:        os.Getenv("OLLAMA_HOST"),
		OllamaModel:       os.Getenv("OLLAMA_MODEL"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:   os.Getenv("OPENROUTER_MODEL"),
		OpenRouterBaseURL: os.Getenv("OPENROUTER_BASE_URL"),
	}
}

// openCorpus opens the note cache at KESTREL_CORPUS_DB, falling back to the
// default path under ~/.kestrel.
func openCorpus() (*corpus.Store, error) {
	path := os.Getenv("KESTREL_CORPUS_DB")
	if path == "" {
		var err error
		path, err = corpus.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	store, err := corpus.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	return store, nil
}

// runtime bundles the wired engine, pool, and telemetry for one command
// invocation. Close releases the corpus store.
type runtime struct {
	Engine *answer.Engine
	Pool   *provider.Manager
	Ledger *telemetry.Ledger
	Log    *slog.Logger

	store *corpus.Store
}

// Close releases the resources held by the runtime.
func (rt *runtime) Close() {
	if rt.store != nil {
		_ = rt.store.Close()
	}
}

// buildRuntime wires the full stack: corpus store, telemetry ledger, backend
// pool, and answer engine. When initBackends is true the pool is initialized
// from the environment so the preferred backend is ready before the first
// query; local-only commands skip it to avoid needless backend discovery.
func buildRuntime(ctx context.Context, initBackends bool) (*runtime, error) {
	log := logging.New("", "")

	store, err := openCorpus()
	if err != nil {
		return nil, err
	}

	ledger := telemetry.NewLedger(prometheus.DefaultRegisterer)
	pool := provider.NewManager(ledger, log)
	if initBackends {
		pool.Initialize(ctx, settingsFromEnv())
	}

	return &runtime{
		Engine: answer.NewEngine(store, pool, log),
		Pool:   pool,
		Ledger: ledger,
		Log:    log,
		store:  store,
	}, nil
}
