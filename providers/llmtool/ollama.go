package llmtool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/lumen/pkg/lumen/tool"
	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

const ollamaDefaultURL = "http://localhost:11434"

// OllamaProvider is a second `llm` provider. Registered after
// GeminiProvider under the same alias, it lets the dispatcher's ordered
// retry (spec.md §4.9) fall back to a local model when the hosted one is
// rate-limited or unavailable; no entry point in this repository
// registers it. Adapted from pkg/llm/ollama.go's bare net/http client --
// Ollama has no official Go SDK in the example pack, so the teacher's
// own hand-rolled REST client is the grounding, not a new dependency.
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = ollamaDefaultURL
	}
	if model == "" {
		model = "llama3"
	}
	return &OllamaProvider{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (p *OllamaProvider) Name() string    { return "ollama" }
func (p *OllamaProvider) Version() string { return p.model }

func (p *OllamaProvider) Schema() tool.Schema {
	return tool.Schema{
		InputSchema:  map[string]any{"prompt": "string"},
		OutputSchema: map[string]any{"text": "string"},
		Effects:      []string{"llm"},
	}
}

func (p *OllamaProvider) Capabilities() tool.Capabilities {
	return tool.Capabilities{AvailableModels: []string{p.model}}
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (p *OllamaProvider) Call(args map[string]vm.Value) (vm.Value, error) {
	prompt, ok := stringArg(args, "prompt")
	if !ok {
		return vm.Value{}, &tool.ProviderError{Kind: tool.ErrInvalidRequest, Message: "llmtool: missing \"prompt\" argument"}
	}

	body, err := json.Marshal(ollamaGenerateRequest{Model: p.model, Prompt: prompt, Stream: false})
	if err != nil {
		return vm.Value{}, &tool.ProviderError{Kind: tool.ErrInvalidRequest, Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return vm.Value{}, &tool.ProviderError{Kind: tool.ErrInvalidRequest, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return vm.Value{}, &tool.ProviderError{Kind: tool.ErrServiceUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return vm.Value{}, &tool.ProviderError{Kind: tool.ErrRateLimit, RetryAfterMs: 1000}
	}
	if resp.StatusCode != http.StatusOK {
		return vm.Value{}, &tool.ProviderError{Kind: tool.ErrServiceUnavailable, Message: fmt.Sprintf("ollama: status %d", resp.StatusCode)}
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return vm.Value{}, &tool.ProviderError{Kind: tool.ErrServiceUnavailable, Message: err.Error()}
	}
	return vm.String(out.Response), nil
}
