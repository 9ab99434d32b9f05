// Package llmtool supplies the `llm` effect's tool.Provider
// implementations: a Gemini-backed provider built on
// google.golang.org/genai, and an Ollama-backed provider that can be
// registered behind it in the dispatcher's retry order. Both are adapted from the teacher's
// pkg/llm.Provider interface (Name, Models, Complete) and its
// anthropic.go/ollama.go adapters, reshaped into the fixed
// (map[string]vm.Value) -> (vm.Value, error) contract pkg/lumen/tool
// requires rather than llm.CompletionRequest/-Response.
package llmtool

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/ternarybob/lumen/pkg/lumen/tool"
	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

// GeminiProvider binds the `llm` effect to a single Gemini model via
// the genai SDK, mirroring pkg/index/llm.go's client construction
// (APIKey + Backend: BackendGeminiAPI) but exposed as a tool.Provider
// rather than a bespoke summarization helper.
type GeminiProvider struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiProvider builds a GeminiProvider. Returns nil (not
// registered) if apiKey is empty, matching pkg/index/llm.go's
// NewLLMClient "no key, no client" convention.
func NewGeminiProvider(apiKey, model string, timeout time.Duration) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, nil
	}
	if model == "" {
		model = "gemini-3-flash-preview"
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llmtool: gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model, timeout: timeout}, nil
}

func (p *GeminiProvider) Name() string    { return "gemini" }
func (p *GeminiProvider) Version() string { return p.model }

func (p *GeminiProvider) Schema() tool.Schema {
	return tool.Schema{
		InputSchema: map[string]any{
			"prompt": "string",
		},
		OutputSchema: map[string]any{
			"text": "string",
		},
		Effects: []string{"llm"},
	}
}

func (p *GeminiProvider) Capabilities() tool.Capabilities {
	return tool.Capabilities{
		SupportsStreaming: true,
		MaxContextTokens:  1_000_000,
		AvailableModels:   []string{p.model},
	}
}

// Call expects a "prompt" argument (by name, or positional "0"), the
// only shape spec.md's own tool-call scenarios pass to an `llm` effect
// call. Provider failures are classified into pkg/lumen/tool's error
// taxonomy so the dispatcher can decide whether to retry the next
// registered `llm` provider (e.g. OllamaProvider).
func (p *GeminiProvider) Call(args map[string]vm.Value) (vm.Value, error) {
	prompt, ok := stringArg(args, "prompt")
	if !ok {
		return vm.Value{}, &tool.ProviderError{Kind: tool.ErrInvalidRequest, Message: "llmtool: missing \"prompt\" argument"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	result, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{ThinkingLevel: genai.ThinkingLevelMedium},
	})
	if err != nil {
		return vm.Value{}, classifyGenaiError(err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return vm.Value{}, &tool.ProviderError{Kind: tool.ErrServiceUnavailable, Message: "llmtool: empty response"}
	}

	var text string
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil {
			text += part.Text
		}
	}
	return vm.String(text), nil
}

// classifyGenaiError has no access to genai's internal status codes
// from this package (the SDK returns plain *apierror/-wrapped errors
// whose shape the pack never documents), so every failure is treated
// as ServiceUnavailable -- the dispatcher still retries the next
// provider, which is the behavior that matters for spec.md §4.9's
// ordered-retry rule.
func classifyGenaiError(err error) *tool.ProviderError {
	return &tool.ProviderError{Kind: tool.ErrServiceUnavailable, Message: err.Error()}
}

func stringArg(args map[string]vm.Value, name string) (string, bool) {
	if v, ok := args[name]; ok && v.Kind == vm.KString {
		return v.Str, true
	}
	if v, ok := args["0"]; ok && v.Kind == vm.KString {
		return v.Str, true
	}
	return "", false
}
