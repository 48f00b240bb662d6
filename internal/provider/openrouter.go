package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// openRouterTimeout bounds one gateway request.
	openRouterTimeout = 45 * time.Second

	// openRouterBaseURL is the OpenAI-compatible gateway endpoint.
	openRouterBaseURL = "https://openrouter.ai/api/v1"

	// openRouterDefaultModel is used when no model is configured.
	openRouterDefaultModel = "openai/gpt-4o-mini"
)

// openRouterModels is a curated selection offered through model listing.
// The gateway routes far more — SetModel accepts any non-empty identifier.
var openRouterModels = []string{
	"openai/gpt-4o-mini",
	"anthropic/claude-3.5-haiku",
	"meta-llama/llama-3.1-70b-instruct",
	"google/gemini-2.0-flash-001",
}

// OpenRouter is the single-key gateway backend. Availability is purely key
// presence — no probe is issued, because the gateway accepts any model
// identifier and reachability problems surface per-request.
type OpenRouter struct {
	mu        sync.Mutex
	apiKey    string
	baseURL   string
	model     string
	client    *openai.Client
	available bool
	errMsg    string
}

// NewOpenRouter constructs an uninitialized OpenRouter backend.
func NewOpenRouter() *OpenRouter {
	return &OpenRouter{}
}

// Name returns the registry key of the backend.
func (r *OpenRouter) Name() string { return NameOpenRouter }

// DisplayName returns the human-readable backend label.
func (r *OpenRouter) DisplayName() string { return "OpenRouter" }

// Initialize computes availability from key presence and constructs the
// OpenAI-compatible client against the gateway endpoint.
func (r *OpenRouter) Initialize(_ context.Context, settings Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available = false
	r.errMsg = ""
	r.apiKey = settings.OpenRouterAPIKey
	r.baseURL = settings.OpenRouterBaseURL
	if r.baseURL == "" {
		r.baseURL = openRouterBaseURL
	}
	r.model = settings.OpenRouterModel
	if r.model == "" {
		r.model = openRouterDefaultModel
	}

	if r.apiKey == "" {
		r.errMsg = "OPENROUTER_API_KEY is not set"
		return
	}

	cfg := openai.DefaultConfig(r.apiKey)
	cfg.BaseURL = r.baseURL
	r.client = openai.NewClientWithConfig(cfg)
	r.available = true
}

// Available reports whether the backend can serve requests now.
func (r *OpenRouter) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.available
}

// Err returns the explanation for unavailability.
func (r *OpenRouter) Err() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errMsg
}

// Models returns the curated gateway model selection.
func (r *OpenRouter) Models() []string { return append([]string(nil), openRouterModels...) }

// CurrentModel returns the configured gateway model.
func (r *OpenRouter) CurrentModel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.model
}

// SetModel selects a gateway model. Any non-empty identifier is accepted —
// the gateway, not this client, owns the model catalogue.
func (r *OpenRouter) SetModel(name string) bool {
	if name == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.model = name
	return true
}

// snapshot captures the client and serving state in one locked read so an
// in-flight request keeps a consistent client/model pair.
func (r *OpenRouter) snapshot() (client *openai.Client, model string, available bool, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client, r.model, r.available, r.errMsg
}

// Capabilities returns the variant's static feature flags.
func (r *OpenRouter) Capabilities() Capabilities {
	return Capabilities{
		SupportsModelSelection: true,
		SupportsStreaming:      true,
		RequiresAPIKey:         true,
	}
}

// ClearSecrets drops the API key and client and marks the backend
// unavailable.
func (r *OpenRouter) ClearSecrets() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apiKey = ""
	r.client = nil
	r.available = false
	r.errMsg = "secrets cleared"
}

// Generate produces a blocking chat completion through the gateway.
func (r *OpenRouter) Generate(ctx context.Context, req *Request) (*Response, error) {
	client, reqModel, available, errMsg := r.snapshot()
	if !available {
		return nil, fmt.Errorf("openrouter: not available: %s", errMsg)
	}

	callCtx, cancel := context.WithTimeout(ctx, openRouterTimeout)
	defer cancel()

	resp, err := client.CreateChatCompletion(callCtx, chatRequest(reqModel, req, false))
	if err != nil {
		return nil, mapGatewayError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openrouter: empty response")
	}

	model := resp.Model
	if model == "" {
		model = reqModel
	}
	return &Response{Text: resp.Choices[0].Message.Content, Model: model}, nil
}

// GenerateStream streams a chat completion through the gateway. Malformed
// or empty delta chunks are skipped; a mid-stream error after text has
// arrived returns the partial result rather than discarding it.
func (r *OpenRouter) GenerateStream(ctx context.Context, req *Request, onChunk func(string)) (*Response, error) {
	client, reqModel, available, errMsg := r.snapshot()
	if !available {
		return nil, fmt.Errorf("openrouter: not available: %s", errMsg)
	}

	callCtx, cancel := context.WithTimeout(ctx, openRouterTimeout)
	defer cancel()

	stream, err := client.CreateChatCompletionStream(callCtx, chatRequest(reqModel, req, true))
	if err != nil {
		return nil, mapGatewayError(err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if sb.Len() > 0 {
				break
			}
			return nil, mapGatewayError(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		onChunk(delta)
		sb.WriteString(delta)
	}
	if sb.Len() == 0 {
		return nil, fmt.Errorf("openrouter: stream produced no text")
	}
	return &Response{Text: sb.String(), Model: reqModel}, nil
}

// chatRequest builds the gateway request for req.
func chatRequest(model string, req *Request, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
}

// mapGatewayError extracts the HTTP status and reason from gateway failures
// so the orchestrator's telemetry records something actionable.
func mapGatewayError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("openrouter: API error %d: %v", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("openrouter: request error %d: %s", reqErr.HTTPStatusCode, strings.TrimSpace(string(reqErr.Body)))
	}
	return fmt.Errorf("openrouter: %w", err)
}
