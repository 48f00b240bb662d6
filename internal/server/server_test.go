package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kestrelnotes/kestrel-go/internal/answer"
	"github.com/kestrelnotes/kestrel-go/internal/provider"
	"github.com/kestrelnotes/kestrel-go/internal/telemetry"
)

// fakeSearcher scripts the answer engine.
type fakeSearcher struct {
	results []answer.SearchResult
	chunks  []string
	err     error
}

func (f *fakeSearcher) SearchLocal(context.Context, string) ([]answer.SearchResult, error) {
	return f.results, f.err
}

func (f *fakeSearcher) Search(context.Context, string) ([]answer.SearchResult, error) {
	return f.results, f.err
}

func (f *fakeSearcher) SearchWithStream(_ context.Context, _ string, onChunk func(string)) ([]answer.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, c := range f.chunks {
		onChunk(c)
	}
	return f.results, nil
}

// fakePool scripts the backend pool.
type fakePool struct {
	descriptors []provider.Descriptor
	accept      bool
	selected    string
}

func (f *fakePool) Providers(context.Context) []provider.Descriptor { return f.descriptors }

func (f *fakePool) SetProvider(name string) bool {
	if f.accept {
		f.selected = name
	}
	return f.accept
}

// fakeStats returns a fixed telemetry snapshot.
type fakeStats struct{ snap telemetry.Snapshot }

func (f *fakeStats) Snapshot() telemetry.Snapshot { return f.snap }

func newTestServer(t *testing.T, engine searcher, pool backendPool, stats statsSource, mutate func(*Config)) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg := &Config{
		Logger:          slog.New(slog.DiscardHandler),
		MetricsRegistry: reg,
		MetricsGatherer: reg,
	}
	if mutate != nil {
		mutate(cfg)
	}
	s := newServer(engine, pool, stats, cfg)
	t.Cleanup(s.stopRL)
	return s
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sampleResults() []answer.SearchResult {
	return []answer.SearchResult{
		{ID: answer.AIAnswerID, Title: "AI Answer (Gemini)", Content: "Alpha ships next week.", Score: 1},
		{ID: "1", Title: "Alpha launch", Snippet: "Alpha ships next week.", Folder: "Work", Score: 0.8},
	}
}

func Test_Server_Search(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeSearcher{results: sampleResults()[1:]}, &fakePool{}, &fakeStats{}, nil)

	rec := postJSON(t, s.Handler(), "/api/search", `{"query":"alpha"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp queryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "1" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func Test_Server_Search_RejectsEmptyQuery(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeSearcher{}, &fakePool{}, &fakeStats{}, nil)

	for _, body := range []string{`{"query":"  "}`, `{}`, `not json`} {
		rec := postJSON(t, s.Handler(), "/api/search", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func Test_Server_Ask(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeSearcher{results: sampleResults()}, &fakePool{}, &fakeStats{}, nil)

	rec := postJSON(t, s.Handler(), "/api/ask", `{"query":"alpha"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp queryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 2 || resp.Results[0].ID != answer.AIAnswerID {
		t.Errorf("answer must lead the results, got %+v", resp.Results)
	}
}

func Test_Server_Ask_EngineError(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeSearcher{err: errors.New("corpus gone")}, &fakePool{}, &fakeStats{}, nil)

	rec := postJSON(t, s.Handler(), "/api/ask", `{"query":"alpha"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func Test_Server_AskStream(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeSearcher{
		results: sampleResults(),
		chunks:  []string{"Alpha ships ", "next week."},
	}, &fakePool{}, &fakeStats{}, nil)

	rec := postJSON(t, s.Handler(), "/api/ask/stream", `{"query":"alpha"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content-type = %q", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "data: Alpha ships \n") {
		t.Errorf("missing first chunk frame:\n%s", body)
	}
	if !strings.Contains(body, "event: results\n") {
		t.Errorf("missing results event:\n%s", body)
	}
	if !strings.Contains(body, "event: done\ndata: [DONE]\n\n") {
		t.Errorf("missing done event:\n%s", body)
	}
}

func Test_Server_AskStream_EngineError(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeSearcher{err: errors.New("corpus gone")}, &fakePool{}, &fakeStats{}, nil)

	rec := postJSON(t, s.Handler(), "/api/ask/stream", `{"query":"alpha"}`)
	if !strings.Contains(rec.Body.String(), "event: error\n") {
		t.Errorf("missing error event:\n%s", rec.Body.String())
	}
}

func Test_Server_Providers(t *testing.T) {
	t.Parallel()
	pool := &fakePool{descriptors: []provider.Descriptor{
		{Name: provider.NameGemini, DisplayName: "Gemini", Available: true},
		{Name: provider.NameOllama, DisplayName: "Ollama", Available: false, Error: "unreachable"},
	}}
	s := newTestServer(t, &fakeSearcher{}, pool, &fakeStats{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/providers", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []provider.Descriptor
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Name != provider.NameGemini || got[1].Error != "unreachable" {
		t.Errorf("descriptors = %+v", got)
	}
}

func Test_Server_ProviderSelect(t *testing.T) {
	t.Parallel()

	pool := &fakePool{accept: true}
	s := newTestServer(t, &fakeSearcher{}, pool, &fakeStats{}, nil)

	rec := postJSON(t, s.Handler(), "/api/providers/select", `{"provider":"ollama"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if pool.selected != "ollama" {
		t.Errorf("selected = %q", pool.selected)
	}
}

func Test_Server_ProviderSelect_Refused(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeSearcher{}, &fakePool{accept: false}, &fakeStats{}, nil)

	rec := postJSON(t, s.Handler(), "/api/providers/select", `{"provider":"ollama"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func Test_Server_Stats(t *testing.T) {
	t.Parallel()
	stats := &fakeStats{snap: telemetry.Snapshot{
		CurrentProvider: provider.NameGemini,
		Providers: map[string]telemetry.ProviderStats{
			provider.NameGemini: {Requests: 3, Errors: 1, TotalLatencyMs: 4200, LastError: "quota"},
		},
	}}
	s := newTestServer(t, &fakeSearcher{}, &fakePool{}, stats, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got telemetry.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CurrentProvider != provider.NameGemini || got.Providers[provider.NameGemini].Requests != 3 {
		t.Errorf("snapshot = %+v", got)
	}
}

func Test_Server_Health_IsUnauthenticated(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeSearcher{}, &fakePool{}, &fakeStats{}, func(cfg *Config) {
		cfg.APIKey = "secret"
	})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("health must bypass auth, status = %d", rec.Code)
	}
}

func Test_Server_Auth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeSearcher{results: sampleResults()}, &fakePool{}, &fakeStats{}, func(cfg *Config) {
		cfg.APIKey = "secret"
	})

	// Missing token.
	rec := postJSON(t, s.Handler(), "/api/search", `{"query":"alpha"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d, want 401", rec.Code)
	}

	// Wrong token.
	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"alpha"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}

	// Correct token.
	req = httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"alpha"}`))
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("correct token: status = %d, want 200", rec.Code)
	}
}

func Test_Server_RateLimit(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeSearcher{}, &fakePool{}, &fakeStats{}, func(cfg *Config) {
		cfg.RateLimit = 0.001
		cfg.RateBurst = 1
	})

	first := postJSON(t, s.Handler(), "/api/search", `{"query":"alpha"}`)
	if first.Code == http.StatusTooManyRequests {
		t.Fatalf("first request must pass, got 429")
	}

	second := postJSON(t, s.Handler(), "/api/search", `{"query":"alpha"}`)
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second request: status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Errorf("429 response must carry Retry-After")
	}
}

func Test_Server_MetricsEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeSearcher{results: sampleResults()}, &fakePool{}, &fakeStats{}, nil)

	// Drive one ask so the counters exist.
	postJSON(t, s.Handler(), "/api/ask", `{"query":"alpha"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "kestrel_ask_requests_total") {
		t.Errorf("metrics output missing ask counter:\n%s", body)
	}
}
