package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// ollamaGenerateTimeout bounds one local inference call. Local models
	// are slow to first token, so this is deliberately longer than the
	// cloud variants' timeouts.
	ollamaGenerateTimeout = 120 * time.Second

	// ollamaDiscoveryTimeout bounds the /api/tags model discovery call
	// issued during initialization.
	ollamaDiscoveryTimeout = 5 * time.Second

	// ollamaPreferredFamily is the model family substituted when the
	// configured model is not installed.
	ollamaPreferredFamily = "llama"

	// errNonLoopback is the fixed security error for endpoints that do not
	// resolve to a loopback address. Reported independent of reachability.
	errNonLoopback = "refusing non-loopback Ollama endpoint"
)

// Ollama is the local-discovery backend. It talks to a self-hosted Ollama
// service and only ever accepts loopback endpoints — a notes corpus must not
// leak to a remote host that merely looks like an Ollama server.
type Ollama struct {
	mu        sync.Mutex
	host      string
	model     string
	installed []string
	client    *http.Client
	available bool
	errMsg    string
}

// NewOllama constructs an uninitialized Ollama backend.
func NewOllama() *Ollama {
	return &Ollama{
		client: &http.Client{Timeout: ollamaGenerateTimeout},
	}
}

// Name returns the registry key of the backend.
func (o *Ollama) Name() string { return NameOllama }

// DisplayName returns the human-readable backend label.
func (o *Ollama) DisplayName() string { return "Ollama" }

// Initialize validates the endpoint, discovers installed models, and picks
// the serving model. Rejection of a non-loopback endpoint happens before any
// network traffic.
func (o *Ollama) Initialize(ctx context.Context, settings Settings) {
	host := settings.OllamaHost
	if host == "" {
		host = "http://localhost:11434"
	}
	model := settings.OllamaModel
	if model == "" {
		model = "llama3.2"
	}

	apply := func(installed []string, model string, available bool, errMsg string) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.host = host
		o.model = model
		o.installed = installed
		o.available = available
		o.errMsg = errMsg
	}

	if !isLoopbackURL(host) {
		apply(nil, model, false, errNonLoopback)
		return
	}

	installed, err := o.listInstalled(ctx, host)
	if err != nil {
		apply(nil, model, false, fmt.Sprintf("service not reachable at %s: %v", host, err))
		return
	}
	if len(installed) == 0 {
		apply(nil, model, false, "no models installed")
		return
	}
	apply(installed, chooseModel(model, installed), true, "")
}

// Available reports whether the backend can serve requests now.
func (o *Ollama) Available() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.available
}

// Err returns the explanation for unavailability.
func (o *Ollama) Err() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errMsg
}

// Models returns the installed models discovered at initialization.
func (o *Ollama) Models() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.installed...)
}

// CurrentModel returns the serving model.
func (o *Ollama) CurrentModel() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.model
}

// SetModel selects an installed model. Unknown models are refused.
func (o *Ollama) SetModel(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.installed {
		if m == name {
			o.model = name
			return true
		}
	}
	return false
}

// snapshot captures the endpoint and serving state in one locked read so an
// in-flight request keeps a consistent host/model pair even if SetModel or
// Initialize runs concurrently.
func (o *Ollama) snapshot() (host, model string, available bool, errMsg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.host, o.model, o.available, o.errMsg
}

// Capabilities returns the variant's static feature flags.
func (o *Ollama) Capabilities() Capabilities {
	return Capabilities{
		SupportsModelSelection: true,
		SupportsStreaming:      true,
		RequiresAPIKey:         false,
	}
}

// ClearSecrets is a no-op: the local backend holds no credentials.
func (o *Ollama) ClearSecrets() {}

// ollamaGenerateRequest is the /api/generate request format.
type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

// ollamaOptions holds generation parameters.
type ollamaOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

// ollamaGenerateResponse is one /api/generate response object. In streaming
// mode the endpoint emits one JSON object per line.
type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// ollamaTagsResponse is the /api/tags response format.
type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Generate produces a blocking completion via /api/generate.
func (o *Ollama) Generate(ctx context.Context, req *Request) (*Response, error) {
	host, model, available, errMsg := o.snapshot()
	if !available {
		return nil, fmt.Errorf("ollama: not available: %s", errMsg)
	}

	callCtx, cancel := context.WithTimeout(ctx, ollamaGenerateTimeout)
	defer cancel()

	resp, err := o.post(callCtx, host, model, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var genResp ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	return &Response{Text: genResp.Response, Model: model}, nil
}

// GenerateStream produces an incremental completion via /api/generate in
// streaming mode. Ollama emits newline-delimited JSON; malformed lines are
// skipped so one bad chunk never aborts an otherwise-successful stream.
func (o *Ollama) GenerateStream(ctx context.Context, req *Request, onChunk func(string)) (*Response, error) {
	host, model, available, errMsg := o.snapshot()
	if !available {
		return nil, fmt.Errorf("ollama: not available: %s", errMsg)
	}

	callCtx, cancel := context.WithTimeout(ctx, ollamaGenerateTimeout)
	defer cancel()

	resp, err := o.post(callCtx, host, model, req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaGenerateResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Response != "" {
			onChunk(chunk.Response)
			sb.WriteString(chunk.Response)
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil && sb.Len() == 0 {
		return nil, fmt.Errorf("ollama: read stream: %w", err)
	}
	return &Response{Text: sb.String(), Model: model}, nil
}

// post issues the /api/generate request and maps non-2xx statuses to errors
// carrying the status and body.
func (o *Ollama) post(ctx context.Context, host, model string, req *Request, stream bool) (*http.Response, error) {
	body := ollamaGenerateRequest{
		Model:  model,
		Prompt: req.Prompt,
		Stream: stream,
	}
	if req.MaxTokens > 0 {
		body.Options = &ollamaOptions{NumPredict: req.MaxTokens}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("ollama: API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// listInstalled queries /api/tags for the installed model names.
func (o *Ollama) listInstalled(ctx context.Context, host string) ([]string, error) {
	tagCtx, cancel := context.WithTimeout(ctx, ollamaDiscoveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(tagCtx, http.MethodGet, host+"/api/tags", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// chooseModel returns configured when installed; otherwise the first
// installed model from the preferred family, else the first installed model.
func chooseModel(configured string, installed []string) string {
	for _, m := range installed {
		if m == configured {
			return configured
		}
	}
	for _, m := range installed {
		if strings.Contains(strings.ToLower(m), ollamaPreferredFamily) {
			return m
		}
	}
	return installed[0]
}

// isLoopbackURL reports whether the URL's host resolves exclusively to
// loopback addresses. Lookup failures count as non-loopback: an endpoint
// that cannot be verified is rejected.
func isLoopbackURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	addrs, err := net.LookupIP(host)
	if err != nil || len(addrs) == 0 {
		return false
	}
	for _, ip := range addrs {
		if !ip.IsLoopback() {
			return false
		}
	}
	return true
}
