package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kestrelnotes/kestrel-go/internal/telemetry"
)

// fakeBackend is a scriptable Backend for orchestrator tests.
type fakeBackend struct {
	name          string
	available     bool
	errMsg        string
	failGenerate  bool
	response      string
	initCalls     int
	clearCalls    int
	generateCalls int
}

func (f *fakeBackend) Name() string        { return f.name }
func (f *fakeBackend) DisplayName() string { return strings.ToUpper(f.name) }
func (f *fakeBackend) Initialize(context.Context, Settings) {
	f.initCalls++
}
func (f *fakeBackend) Available() bool      { return f.available }
func (f *fakeBackend) Err() string          { return f.errMsg }
func (f *fakeBackend) Models() []string     { return []string{f.name + "-model"} }
func (f *fakeBackend) CurrentModel() string { return f.name + "-model" }
func (f *fakeBackend) SetModel(string) bool { return false }
func (f *fakeBackend) Capabilities() Capabilities {
	return Capabilities{SupportsStreaming: false}
}
func (f *fakeBackend) ClearSecrets() { f.clearCalls++ }
func (f *fakeBackend) Generate(context.Context, *Request) (*Response, error) {
	f.generateCalls++
	if f.failGenerate {
		return nil, fmt.Errorf("%s: scripted failure", f.name)
	}
	return &Response{Text: f.response, Model: f.CurrentModel()}, nil
}

// fakeStreamer extends fakeBackend with scripted streaming chunks.
type fakeStreamer struct {
	fakeBackend
	chunks     []string
	failStream bool
}

func (f *fakeStreamer) Capabilities() Capabilities {
	return Capabilities{SupportsStreaming: true}
}

func (f *fakeStreamer) GenerateStream(_ context.Context, _ *Request, onChunk func(string)) (*Response, error) {
	if f.failStream {
		return nil, fmt.Errorf("%s: scripted stream failure", f.name)
	}
	var sb strings.Builder
	for _, c := range f.chunks {
		onChunk(c)
		sb.WriteString(c)
	}
	return &Response{Text: sb.String(), Model: f.CurrentModel()}, nil
}

// newTestManager builds a Manager with only the given fakes registered, in
// order.
func newTestManager(t *testing.T, backends ...Backend) (*Manager, *telemetry.Ledger) {
	t.Helper()
	ledger := telemetry.NewLedger(prometheus.NewRegistry())
	m := newManager(ledger, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, b := range backends {
		b := b
		m.Register(b.Name(), func() Backend { return b })
	}
	return m, ledger
}

func Test_Manager_Initialize_PrefersRequestedBackend(t *testing.T) {
	t.Parallel()
	a := &fakeBackend{name: "a", available: true}
	b := &fakeBackend{name: "b", available: true}
	m, ledger := newTestManager(t, a, b)

	m.Initialize(context.Background(), Settings{Provider: "b"})

	if got := m.Active(); got != b {
		t.Fatalf("active = %v, want backend b", got)
	}
	if ledger.Current() != "b" {
		t.Errorf("ledger current = %q, want b", ledger.Current())
	}
	// Only the requested backend is initialized eagerly.
	if a.initCalls != 0 || b.initCalls != 1 {
		t.Errorf("init calls a/b = %d/%d, want 0/1", a.initCalls, b.initCalls)
	}
}

func Test_Manager_Initialize_FallsThroughToAvailable(t *testing.T) {
	t.Parallel()
	a := &fakeBackend{name: "a", available: false, errMsg: "no key"}
	b := &fakeBackend{name: "b", available: true}
	m, ledger := newTestManager(t, a, b)

	m.Initialize(context.Background(), Settings{Provider: "a"})

	if got := m.Active(); got != b {
		t.Fatalf("active = %v, want backend b", got)
	}
	if ledger.Current() != "b" {
		t.Errorf("ledger current = %q, want b", ledger.Current())
	}
}

func Test_Manager_Initialize_NoneAvailable(t *testing.T) {
	t.Parallel()
	a := &fakeBackend{name: "a", available: false}
	b := &fakeBackend{name: "b", available: false}
	m, ledger := newTestManager(t, a, b)

	m.Initialize(context.Background(), Settings{Provider: "a"})

	if m.Active() != nil {
		t.Error("active should be nil when no backend is available")
	}
	if ledger.Current() != "" {
		t.Errorf("ledger current = %q, want empty", ledger.Current())
	}
	if m.Generate(context.Background(), &Request{Prompt: "q"}) != nil {
		t.Error("Generate must return nil with no active backend")
	}
}

func Test_Manager_Initialize_ClearsOldSecrets(t *testing.T) {
	t.Parallel()
	a := &fakeBackend{name: "a", available: true}
	m, _ := newTestManager(t, a)

	m.Initialize(context.Background(), Settings{Provider: "a"})
	m.Initialize(context.Background(), Settings{Provider: "a"})

	if a.clearCalls != 1 {
		t.Errorf("clearSecrets calls = %d, want 1 (only backends held before re-init)", a.clearCalls)
	}
}

func Test_Manager_Generate_FallbackToSecondary(t *testing.T) {
	t.Parallel()
	a := &fakeBackend{name: "a", available: true, failGenerate: true}
	b := &fakeBackend{name: "b", available: true, response: "from b"}
	m, ledger := newTestManager(t, a, b)
	m.Initialize(context.Background(), Settings{Provider: "a", Fallback: true})

	resp := m.Generate(context.Background(), &Request{Prompt: "q"})
	if resp == nil || resp.Text != "from b" {
		t.Fatalf("resp = %+v, want text from b", resp)
	}

	snap := ledger.Snapshot()
	if snap.Providers["a"].Errors != 1 {
		t.Errorf("primary error count = %d, want 1", snap.Providers["a"].Errors)
	}
	sb := snap.Providers["b"]
	if sb.Requests != 1 || sb.Errors != 0 {
		t.Errorf("secondary requests/errors = %d/%d, want 1/0", sb.Requests, sb.Errors)
	}
}

func Test_Manager_Generate_FallbackDisabledShortCircuits(t *testing.T) {
	t.Parallel()
	a := &fakeBackend{name: "a", available: true, failGenerate: true}
	b := &fakeBackend{name: "b", available: true, response: "from b"}
	m, _ := newTestManager(t, a, b)
	m.Initialize(context.Background(), Settings{Provider: "a", Fallback: false})

	if resp := m.Generate(context.Background(), &Request{Prompt: "q"}); resp != nil {
		t.Fatalf("resp = %+v, want nil with fallback disabled", resp)
	}
	if b.generateCalls != 0 {
		t.Errorf("secondary was attempted %d times, want 0", b.generateCalls)
	}
}

func Test_Manager_Generate_SkipsUnavailableCandidates(t *testing.T) {
	t.Parallel()
	a := &fakeBackend{name: "a", available: true, failGenerate: true}
	down := &fakeBackend{name: "down", available: false}
	c := &fakeBackend{name: "c", available: true, response: "from c"}
	m, _ := newTestManager(t, a, down, c)
	m.Initialize(context.Background(), Settings{Provider: "a", Fallback: true})

	resp := m.Generate(context.Background(), &Request{Prompt: "q"})
	if resp == nil || resp.Text != "from c" {
		t.Fatalf("resp = %+v, want text from c", resp)
	}
	if down.generateCalls != 0 {
		t.Errorf("unavailable backend was attempted %d times", down.generateCalls)
	}
}

func Test_Manager_Generate_AllFailReturnsNil(t *testing.T) {
	t.Parallel()
	a := &fakeBackend{name: "a", available: true, failGenerate: true}
	b := &fakeBackend{name: "b", available: true, failGenerate: true}
	m, ledger := newTestManager(t, a, b)
	m.Initialize(context.Background(), Settings{Provider: "a", Fallback: true})

	if resp := m.Generate(context.Background(), &Request{Prompt: "q"}); resp != nil {
		t.Fatalf("resp = %+v, want nil on total exhaustion", resp)
	}
	snap := ledger.Snapshot()
	if snap.Providers["a"].Errors != 1 || snap.Providers["b"].Errors != 1 {
		t.Errorf("error counts a/b = %d/%d, want 1/1",
			snap.Providers["a"].Errors, snap.Providers["b"].Errors)
	}
}

func Test_Manager_GenerateStream_EmitsChunks(t *testing.T) {
	t.Parallel()
	s := &fakeStreamer{fakeBackend: fakeBackend{name: "s", available: true}, chunks: []string{"hel", "lo"}}
	m, ledger := newTestManager(t, s)
	m.Initialize(context.Background(), Settings{Provider: "s"})

	var got []string
	resp := m.GenerateStream(context.Background(), &Request{Prompt: "q"}, func(c string) {
		got = append(got, c)
	})
	if resp == nil {
		t.Fatal("resp = nil, want streamed response")
	}
	if joined := strings.Join(got, ""); joined != resp.Text {
		t.Errorf("chunk concatenation %q != final text %q", joined, resp.Text)
	}
	if ledger.Snapshot().Providers["s"].Requests != 1 {
		t.Error("stream success not recorded to telemetry")
	}
}

func Test_Manager_GenerateStream_DegradesToBlocking(t *testing.T) {
	t.Parallel()
	// Active backend has no streaming support: silent degradation to
	// blocking Generate, zero chunks, populated final text.
	a := &fakeBackend{name: "a", available: true, response: "blocking answer"}
	m, _ := newTestManager(t, a)
	m.Initialize(context.Background(), Settings{Provider: "a"})

	chunks := 0
	resp := m.GenerateStream(context.Background(), &Request{Prompt: "q"}, func(string) { chunks++ })
	if resp == nil || resp.Text != "blocking answer" {
		t.Fatalf("resp = %+v, want blocking answer", resp)
	}
	if chunks != 0 {
		t.Errorf("got %d chunks from blocking degradation, want 0", chunks)
	}
}

func Test_Manager_GenerateStream_NoCrossBackendFallback(t *testing.T) {
	t.Parallel()
	s := &fakeStreamer{fakeBackend: fakeBackend{name: "s", available: true}, failStream: true}
	b := &fakeBackend{name: "b", available: true, response: "from b"}
	m, ledger := newTestManager(t, s, b)
	m.Initialize(context.Background(), Settings{Provider: "s", Fallback: true})

	resp := m.GenerateStream(context.Background(), &Request{Prompt: "q"}, func(string) {})
	if resp != nil {
		t.Fatalf("resp = %+v, want nil on streaming failure", resp)
	}
	if b.generateCalls != 0 {
		t.Error("streaming failure must not fall back to another backend")
	}
	if ledger.Snapshot().Providers["s"].Errors != 1 {
		t.Error("stream failure not recorded to telemetry")
	}
}

func Test_Manager_SetProvider(t *testing.T) {
	t.Parallel()
	a := &fakeBackend{name: "a", available: true}
	b := &fakeBackend{name: "b", available: true}
	m, ledger := newTestManager(t, a, b)
	m.Initialize(context.Background(), Settings{Provider: "a", Fallback: true})

	// Switching requires the target to be constructed and available;
	// force construction via Providers.
	m.Providers(context.Background())

	if !m.SetProvider("b") {
		t.Fatal("SetProvider(b) = false, want true")
	}
	if m.Active() != b {
		t.Error("active backend did not switch")
	}
	if ledger.Current() != "b" {
		t.Errorf("ledger current = %q, want b", ledger.Current())
	}
	if b.initCalls != 1 {
		t.Errorf("SetProvider must not re-initialize: init calls = %d, want 1", b.initCalls)
	}

	if m.SetProvider("missing") {
		t.Error("SetProvider(missing) = true, want false")
	}
}

func Test_Manager_SetProvider_RefusesUnavailable(t *testing.T) {
	t.Parallel()
	a := &fakeBackend{name: "a", available: true}
	down := &fakeBackend{name: "down", available: false}
	m, _ := newTestManager(t, a, down)
	m.Initialize(context.Background(), Settings{Provider: "a"})
	m.Providers(context.Background())

	if m.SetProvider("down") {
		t.Error("SetProvider must refuse an unavailable backend")
	}
	if m.Active() != a {
		t.Error("active backend changed after refused switch")
	}
}

func Test_Manager_Providers_ForceInitializesAll(t *testing.T) {
	t.Parallel()
	a := &fakeBackend{name: "a", available: true}
	b := &fakeBackend{name: "b", available: false, errMsg: "no key"}
	m, _ := newTestManager(t, a, b)
	m.Initialize(context.Background(), Settings{Provider: "a"})

	descs := m.Providers(context.Background())
	if len(descs) != 2 {
		t.Fatalf("want 2 descriptors, got %d", len(descs))
	}
	if descs[0].Name != "a" || descs[1].Name != "b" {
		t.Errorf("descriptor order wrong: %s, %s", descs[0].Name, descs[1].Name)
	}
	if !descs[0].Available || descs[1].Available {
		t.Errorf("availability wrong: %+v", descs)
	}
	if descs[1].Error != "no key" {
		t.Errorf("error not surfaced: %q", descs[1].Error)
	}
	if b.initCalls != 1 {
		t.Errorf("Providers must initialize lazy backends: init calls = %d", b.initCalls)
	}
}

func Test_Manager_ActiveDisplayName(t *testing.T) {
	t.Parallel()
	a := &fakeBackend{name: "a", available: true}
	m, _ := newTestManager(t, a)

	if got := m.ActiveDisplayName(); got != "" {
		t.Errorf("display name before init = %q, want empty", got)
	}
	m.Initialize(context.Background(), Settings{Provider: "a"})
	if got := m.ActiveDisplayName(); got != "A" {
		t.Errorf("display name = %q, want A", got)
	}
}
