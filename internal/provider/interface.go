// Package provider implements the generation backend pool: a uniform contract
// over interchangeable text-generation services (Gemini, Ollama, OpenRouter)
// and the Manager that selects, rotates, and falls back across them.
// Supported backends form a closed set; capability flags are static per
// variant and checked explicitly rather than probed at runtime.
package provider

import "context"

// Backend names. Registration order doubles as fallback priority.
const (
	// NameGemini is the cloud backend that rotates across candidate models.
	NameGemini = "gemini"
	// NameOllama is the self-hosted local backend with model discovery.
	NameOllama = "ollama"
	// NameOpenRouter is the single-key multi-model gateway backend.
	NameOpenRouter = "openrouter"

	// DefaultProvider is used when no preferred backend is configured.
	DefaultProvider = NameGemini
)

// Settings holds the credentials and endpoints handed to backends at
// initialization time. Secrets live here only transiently; backends drop
// them on ClearSecrets.
type Settings struct {
	// Provider is the preferred backend name (default: DefaultProvider).
	Provider string

	// Fallback enables the cross-backend fallback chain on generate failure.
	Fallback bool

	// GeminiAPIKey is the Google AI Studio API key.
	GeminiAPIKey string

	// OllamaHost is the Ollama endpoint. Must resolve to a loopback address.
	OllamaHost string

	// OllamaModel is the preferred Ollama model; substituted from the
	// installed list when absent.
	OllamaModel string

	// OpenRouterAPIKey is the OpenRouter API key.
	OpenRouterAPIKey string

	// OpenRouterModel is the gateway model identifier.
	OpenRouterModel string

	// OpenRouterBaseURL overrides the gateway endpoint. Used by tests.
	OpenRouterBaseURL string
}

// Capabilities are the static feature flags of a backend variant.
type Capabilities struct {
	// SupportsModelSelection reports whether callers may pick the model.
	// When false, model choice is internal rotation and SetModel is a no-op.
	SupportsModelSelection bool `json:"supportsModelSelection"`

	// SupportsStreaming reports whether the backend implements
	// StreamingBackend.
	SupportsStreaming bool `json:"supportsStreaming"`

	// RequiresAPIKey reports whether availability depends on a credential.
	RequiresAPIKey bool `json:"requiresApiKey"`
}

// Request is the backend-agnostic unit of generation work.
type Request struct {
	// Prompt is the fully assembled prompt text.
	Prompt string

	// MaxTokens caps the response length. Zero means backend default.
	MaxTokens int
}

// Response is the result of a successful generation.
type Response struct {
	// Text is the generated answer.
	Text string

	// Model is the model that actually produced the text.
	Model string
}

// Descriptor is the diagnostic projection of one backend.
type Descriptor struct {
	// Name is the registry key of the backend.
	Name string `json:"name"`

	// DisplayName is the human-readable backend label.
	DisplayName string `json:"displayName"`

	// Available reports whether the backend can currently serve requests.
	Available bool `json:"available"`

	// Capabilities are the variant's static feature flags.
	Capabilities Capabilities `json:"capabilities"`

	// Error explains unavailability, empty otherwise.
	Error string `json:"error,omitempty"`
}

// Backend is the uniform contract every generation service implements.
//
// Initialize must not fail hard on missing credentials or an unreachable
// service: it records unavailability and a descriptive message retrievable
// via Err. Generate must return an explicit error when called while
// unavailable. Implementations must be safe for concurrent calls: the HTTP
// bridge dispatches overlapping requests to the same backend instance.
type Backend interface {
	// Name returns the registry key of the backend.
	Name() string

	// DisplayName returns the human-readable backend label.
	DisplayName() string

	// Initialize prepares the backend from settings, computing availability.
	Initialize(ctx context.Context, settings Settings)

	// Available reports whether the backend can serve requests now.
	Available() bool

	// Err returns the explanation for unavailability, empty when available.
	Err() string

	// Models returns the models the backend can serve, best first.
	Models() []string

	// CurrentModel returns the model the next Generate call will use.
	CurrentModel() string

	// SetModel selects a model. Returns false when the variant does not
	// support caller-directed model selection or the model is unknown.
	SetModel(name string) bool

	// Capabilities returns the variant's static feature flags.
	Capabilities() Capabilities

	// Generate produces a blocking completion for req.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// ClearSecrets drops any held credentials and marks the backend
	// unavailable. Called before re-initialization.
	ClearSecrets()
}

// StreamingBackend is implemented by backends that can deliver the response
// incrementally. onChunk receives each text fragment in order; the returned
// Response carries the fully assembled text.
type StreamingBackend interface {
	Backend

	GenerateStream(ctx context.Context, req *Request, onChunk func(chunk string)) (*Response, error)
}
