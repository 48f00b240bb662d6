package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

// geminiAttemptTimeout bounds each individual model attempt. The rotation
// chain may take up to len(models) × this in the worst case.
const geminiAttemptTimeout = 30 * time.Second

// geminiModels is the ordered candidate list for rotation, best first.
var geminiModels = []string{
	"gemini-2.0-flash",
	"gemini-2.5-flash",
	"gemini-2.5-pro",
}

// Gemini is the cloud-rotating backend. Each Generate call races the
// currently selected model against geminiAttemptTimeout and advances to the
// next candidate (with wraparound) on failure, so a model that starts
// rejecting requests is rotated out for subsequent callers too. Streaming
// uses the current model only — a stream attempt is never retried mid-flight.
type Gemini struct {
	mu        sync.Mutex
	apiKey    string
	client    *genai.Client
	models    []string
	rotation  int // index of the current model; guarded by mu
	available bool
	errMsg    string

	// invoke performs one blocking model call. Overridable in tests to
	// exercise the rotation policy without network access.
	invoke func(ctx context.Context, model string, req *Request) (*Response, error)

	// invokeStream performs one streaming model call. Overridable in tests.
	invokeStream func(ctx context.Context, model string, req *Request, onChunk func(string)) (*Response, error)
}

// NewGemini constructs an uninitialized Gemini backend.
func NewGemini() *Gemini {
	g := &Gemini{models: append([]string(nil), geminiModels...)}
	g.invoke = g.callModel
	g.invokeStream = g.streamModel
	return g
}

// Name returns the registry key of the backend.
func (g *Gemini) Name() string { return NameGemini }

// DisplayName returns the human-readable backend label.
func (g *Gemini) DisplayName() string { return "Gemini" }

// Initialize computes availability from the API key and constructs the
// client. Missing credentials never fail hard — they set unavailability
// with a descriptive message.
func (g *Gemini) Initialize(ctx context.Context, settings Settings) {
	client, errMsg := buildGeminiClient(ctx, settings.GeminiAPIKey)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.apiKey = settings.GeminiAPIKey
	g.client = client
	g.errMsg = errMsg
	g.available = client != nil
}

// buildGeminiClient constructs the genai client outside the backend lock.
func buildGeminiClient(ctx context.Context, apiKey string) (*genai.Client, string) {
	if apiKey == "" {
		return nil, "GOOGLE_API_KEY is not set"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Sprintf("client construction failed: %v", err)
	}
	return client, ""
}

// Available reports whether the backend can serve requests now.
func (g *Gemini) Available() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.available
}

// Err returns the explanation for unavailability.
func (g *Gemini) Err() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.errMsg
}

// Models returns the candidate rotation list.
func (g *Gemini) Models() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.models...)
}

// CurrentModel returns the model the next Generate call will try first.
func (g *Gemini) CurrentModel() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.models[g.rotation]
}

// SetModel is a no-op: model choice is internal rotation, not
// caller-directed.
func (g *Gemini) SetModel(string) bool { return false }

// Capabilities returns the variant's static feature flags.
func (g *Gemini) Capabilities() Capabilities {
	return Capabilities{
		SupportsModelSelection: false,
		SupportsStreaming:      true,
		RequiresAPIKey:         true,
	}
}

// Generate walks the candidate list starting at the current rotation index.
// Each attempt gets its own timeout; a failed or timed-out attempt advances
// the rotation so the next caller starts from the model that last worked.
// Exhausting the list surfaces an aggregate failure.
func (g *Gemini) Generate(ctx context.Context, req *Request) (*Response, error) {
	if ok, errMsg := g.ready(); !ok {
		return nil, fmt.Errorf("gemini: not available: %s", errMsg)
	}

	var failures []string
	for attempt := 0; attempt < len(geminiModels); attempt++ {
		model := g.CurrentModel()

		attemptCtx, cancel := context.WithTimeout(ctx, geminiAttemptTimeout)
		resp, err := g.invoke(attemptCtx, model, req)
		cancel()

		if err == nil {
			return resp, nil
		}
		failures = append(failures, fmt.Sprintf("%s: %v", model, err))
		g.advancePast(model)
	}
	return nil, fmt.Errorf("gemini: all models failed: %s", strings.Join(failures, "; "))
}

// ready reports availability and the unavailability reason in one locked
// read.
func (g *Gemini) ready() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.available, g.errMsg
}

// advancePast rotates to the next candidate, but only if the rotation still
// points at the model that just failed. Concurrent callers that hit the same
// failing model advance it once, not once per caller.
func (g *Gemini) advancePast(model string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.models[g.rotation] == model {
		g.rotation = (g.rotation + 1) % len(g.models)
	}
}

// GenerateStream streams from the current model without inline fallback.
// On a mid-stream error any text already received is returned so an
// otherwise-successful stream is not discarded.
func (g *Gemini) GenerateStream(ctx context.Context, req *Request, onChunk func(string)) (*Response, error) {
	if ok, errMsg := g.ready(); !ok {
		return nil, fmt.Errorf("gemini: not available: %s", errMsg)
	}

	streamCtx, cancel := context.WithTimeout(ctx, geminiAttemptTimeout)
	defer cancel()
	return g.invokeStream(streamCtx, g.CurrentModel(), req, onChunk)
}

// ClearSecrets drops the API key and client and marks the backend
// unavailable.
func (g *Gemini) ClearSecrets() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.apiKey = ""
	g.client = nil
	g.available = false
	g.errMsg = "secrets cleared"
}

// callModel performs one blocking GenerateContent call against the given
// model.
func (g *Gemini) callModel(ctx context.Context, model string, req *Request) (*Response, error) {
	client := g.genClient()
	if client == nil {
		return nil, fmt.Errorf("no client")
	}
	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), g.generateConfig(req))
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("empty response")
	}
	return &Response{Text: text, Model: model}, nil
}

// streamModel performs one streaming GenerateContent call. Chunks without
// text are skipped rather than aborting the stream.
func (g *Gemini) streamModel(ctx context.Context, model string, req *Request, onChunk func(string)) (*Response, error) {
	client := g.genClient()
	if client == nil {
		return nil, fmt.Errorf("no client")
	}
	var sb strings.Builder
	for chunk, err := range client.Models.GenerateContentStream(ctx, model, genai.Text(req.Prompt), g.generateConfig(req)) {
		if err != nil {
			if sb.Len() > 0 {
				// Keep what arrived before the stream broke.
				break
			}
			return nil, fmt.Errorf("stream: %w", err)
		}
		text := chunk.Text()
		if text == "" {
			continue
		}
		onChunk(text)
		sb.WriteString(text)
	}
	if sb.Len() == 0 {
		return nil, fmt.Errorf("stream produced no text")
	}
	return &Response{Text: sb.String(), Model: model}, nil
}

// genClient returns the client under the lock.
func (g *Gemini) genClient() *genai.Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client
}

// generateConfig maps request options onto the genai config.
func (g *Gemini) generateConfig(req *Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return cfg
}
