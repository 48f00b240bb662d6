package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelnotes/kestrel-go/internal/telemetry"
)

// Factory constructs an unconfigured backend. Backends are built lazily so a
// variant that is never selected and never needed for fallback costs nothing.
type Factory func() Backend

// Manager owns the backend registry and implements selection, lazy
// initialization, the blocking fallback chain, and streaming dispatch.
// There is at most one active backend at any instant. Safe for concurrent
// use; no two fallback candidates are ever attempted concurrently within one
// logical request.
type Manager struct {
	mu          sync.Mutex
	order       []string
	factories   map[string]Factory
	backends    map[string]Backend
	initialized map[string]bool
	active      Backend
	fallback    bool
	settings    Settings

	ledger *telemetry.Ledger
	log    *slog.Logger
}

// NewManager constructs a Manager with the standard backend set registered
// in priority order: Gemini, Ollama, OpenRouter.
func NewManager(ledger *telemetry.Ledger, log *slog.Logger) *Manager {
	m := newManager(ledger, log)
	m.Register(NameGemini, func() Backend { return NewGemini() })
	m.Register(NameOllama, func() Backend { return NewOllama() })
	m.Register(NameOpenRouter, func() Backend { return NewOpenRouter() })
	return m
}

// newManager constructs a Manager with an empty registry.
func newManager(ledger *telemetry.Ledger, log *slog.Logger) *Manager {
	return &Manager{
		factories:   make(map[string]Factory),
		backends:    make(map[string]Backend),
		initialized: make(map[string]bool),
		ledger:      ledger,
		log:         log,
	}
}

// Register adds a backend factory under name. Registration order is the
// fallback priority order. Re-registering a name replaces its factory.
func (m *Manager) Register(name string, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.factories[name]; !exists {
		m.order = append(m.order, name)
	}
	m.factories[name] = f
}

// Initialize resets the registry and selects the active backend. Secrets on
// previously held backends are cleared first. The preferred backend (default
// when unset) is constructed and initialized; if it does not become
// available, the remaining registrations are tried in order. Ending with no
// active backend is not an error — generation simply degrades to absent
// results.
func (m *Manager) Initialize(ctx context.Context, settings Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.backends {
		b.ClearSecrets()
	}
	m.backends = make(map[string]Backend)
	m.initialized = make(map[string]bool)
	m.active = nil
	m.settings = settings
	m.fallback = settings.Fallback

	preferred := settings.Provider
	if preferred == "" {
		preferred = DefaultProvider
	}

	if b := m.ensureLocked(ctx, preferred); b != nil && b.Available() {
		m.active = b
	} else {
		for _, name := range m.order {
			if name == preferred {
				continue
			}
			if b := m.ensureLocked(ctx, name); b != nil && b.Available() {
				m.active = b
				break
			}
		}
	}

	if m.active != nil {
		m.ledger.SetCurrent(m.active.Name())
		m.log.Info("provider: active backend selected",
			slog.String("backend", m.active.Name()),
			slog.String("model", m.active.CurrentModel()),
		)
	} else {
		m.ledger.SetCurrent("")
		m.log.Warn("provider: no backend available, generation disabled")
	}
}

// Generate routes req through the fallback chain. The candidate order is
// the active backend followed by every other registration (or the active
// backend alone when fallback is disabled). Failed candidates are recorded
// to telemetry and skipped; a nil return means no backend could serve — it
// is never an error, so keyword results stay usable.
func (m *Manager) Generate(ctx context.Context, req *Request) *Response {
	candidates := m.candidates()
	if len(candidates) == 0 {
		return nil
	}

	for _, name := range candidates {
		b := m.ensure(ctx, name)
		if b == nil || !b.Available() {
			continue
		}

		start := time.Now()
		resp, err := b.Generate(ctx, req)
		if err != nil {
			m.ledger.RecordError(name, err)
			m.log.Warn("provider: generate failed",
				slog.String("backend", name),
				slog.String("error", err.Error()),
			)
			if !m.fallbackEnabled() {
				return nil
			}
			continue
		}

		m.ledger.RecordSuccess(name, time.Since(start))
		return resp
	}

	m.log.Warn("provider: all generation backends exhausted")
	return nil
}

// GenerateStream streams req through the active backend. When the active
// backend is absent or cannot stream, it degrades silently to blocking
// Generate — callers must tolerate zero chunks and a populated final text.
// There is no cross-backend fallback mid-stream: a streaming failure is
// recorded and surfaced as an absent result.
func (m *Manager) GenerateStream(ctx context.Context, req *Request, onChunk func(string)) *Response {
	active := m.Active()
	if active == nil {
		return m.Generate(ctx, req)
	}
	streamer, ok := active.(StreamingBackend)
	if !ok || !active.Capabilities().SupportsStreaming {
		return m.Generate(ctx, req)
	}

	start := time.Now()
	resp, err := streamer.GenerateStream(ctx, req, onChunk)
	if err != nil {
		m.ledger.RecordError(active.Name(), err)
		m.log.Warn("provider: stream failed",
			slog.String("backend", active.Name()),
			slog.String("error", err.Error()),
		)
		return nil
	}

	m.ledger.RecordSuccess(active.Name(), time.Since(start))
	return resp
}

// SetProvider switches the active backend. It succeeds only when the named
// backend is registered and currently available; switching never re-runs
// initialization.
func (m *Manager) SetProvider(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.backends[name]
	if !ok || !b.Available() {
		return false
	}
	m.active = b
	m.ledger.SetCurrent(name)
	return true
}

// Providers force-initializes every registered backend so availability and
// diagnostics are accurate, then returns one descriptor per backend in
// registration order.
func (m *Manager) Providers(ctx context.Context) []Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Descriptor, 0, len(m.order))
	for _, name := range m.order {
		b := m.ensureLocked(ctx, name)
		if b == nil {
			out = append(out, Descriptor{Name: name, Error: "construction failed"})
			continue
		}
		out = append(out, Descriptor{
			Name:         b.Name(),
			DisplayName:  b.DisplayName(),
			Available:    b.Available(),
			Capabilities: b.Capabilities(),
			Error:        b.Err(),
		})
	}
	return out
}

// Active returns the active backend, nil when none is selected.
func (m *Manager) Active() Backend {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// ActiveDisplayName returns the active backend's display name, empty when
// no backend is active.
func (m *Manager) ActiveDisplayName() string {
	if b := m.Active(); b != nil {
		return b.DisplayName()
	}
	return ""
}

// candidates returns the attempt order for one blocking generate call.
func (m *Manager) candidates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil
	}
	activeName := m.active.Name()
	if !m.fallback {
		return []string{activeName}
	}

	out := make([]string, 0, len(m.order))
	out = append(out, activeName)
	for _, name := range m.order {
		if name != activeName {
			out = append(out, name)
		}
	}
	return out
}

// fallbackEnabled reports the fallback flag under the lock.
func (m *Manager) fallbackEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallback
}

// ensure lazily constructs and initializes the named backend.
func (m *Manager) ensure(ctx context.Context, name string) Backend {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLocked(ctx, name)
}

// ensureLocked is ensure without locking. Callers must hold m.mu.
func (m *Manager) ensureLocked(ctx context.Context, name string) Backend {
	if b, ok := m.backends[name]; ok {
		if !m.initialized[name] {
			b.Initialize(ctx, m.settings)
			m.initialized[name] = true
		}
		return b
	}

	f, ok := m.factories[name]
	if !ok {
		m.log.Error("provider: unknown backend requested", slog.String("backend", name))
		return nil
	}
	b := f()
	if b == nil {
		return nil
	}
	m.backends[name] = b
	b.Initialize(ctx, m.settings)
	m.initialized[name] = true
	if !b.Available() {
		m.log.Debug("provider: backend unavailable",
			slog.String("backend", name),
			slog.String("reason", b.Err()),
		)
	}
	return b
}

// String implements fmt.Stringer for debug logging.
func (m *Manager) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	activeName := "<none>"
	if m.active != nil {
		activeName = m.active.Name()
	}
	return fmt.Sprintf("provider.Manager{active: %s, fallback: %t, registered: %d}", activeName, m.fallback, len(m.order))
}
