// Package tool implements the tool dispatcher and grant/policy engine
// (spec.md §4.9, §4.10): the contract between compiled LIR and external
// providers. The VM never names a concrete provider — it only calls
// through vm.ToolDispatcher, which *Dispatcher satisfies.
package tool

import "github.com/ternarybob/lumen/pkg/lumen/vm"

// Schema describes a provider's input/output shape and the effects a
// call through it performs (spec.md §4.9 "schema() -> { input_schema,
// output_schema, effects }"). Kept as loosely-typed JSON-Schema-like
// maps rather than a fixed struct, matching the spec's own "JSON-Schema-
// like descriptors" wording and the teacher's own preference for
// map[string]any request/response shapes over generated schema types
// (pkg/llm.CompletionRequest is the exception, not the rule, in the
// pack's own provider surfaces — an MCP/genai/ollama schema is whatever
// the remote side declares, not something Lumen can fix at compile
// time).
type Schema struct {
	InputSchema  map[string]any
	OutputSchema map[string]any
	Effects      []string
}

// Capabilities describes what a provider supports (spec.md §4.9
// "capabilities()").
type Capabilities struct {
	SupportsVision      bool
	SupportsToolCalling bool
	SupportsJSONMode    bool
	SupportsStreaming   bool
	MaxContextTokens    int
	SupportedModalities []string
	AvailableModels     []string
	CostPerInputToken   float64
	CostPerOutputToken  float64
}

// Provider is the capability contract spec.md §4.9 gives an external
// tool implementation. providers/mcp and providers/llmtool each supply
// a concrete Provider; this package never constructs one itself.
type Provider interface {
	Name() string
	Version() string
	Schema() Schema
	Capabilities() Capabilities
	// Call dispatches one invocation. args is keyed by argument name
	// where the call site supplied one (see vm.ToolDispatcher's
	// argNames), and by its positional index (formatted as a decimal
	// string) otherwise.
	Call(args map[string]vm.Value) (vm.Value, error)
}

// Retryable reports whether a ProviderError justifies trying the next
// provider registered for an alias (spec.md §4.9 "attempts them in
// order on retryable failures").
func Retryable(err error) bool {
	pe, ok := err.(*ProviderError)
	if !ok {
		return false
	}
	switch pe.Kind {
	case ErrRateLimit, ErrServiceUnavailable, ErrTimeout:
		return true
	}
	return false
}
