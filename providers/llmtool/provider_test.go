package llmtool

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/lumen/pkg/lumen/tool"
	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

func TestStringArgPrefersNamedOverPositional(t *testing.T) {
	args := map[string]vm.Value{
		"prompt": vm.String("named"),
		"0":      vm.String("positional"),
	}
	got, ok := stringArg(args, "prompt")
	require := assert.New(t)
	require.True(ok)
	require.Equal("named", got)
}

func TestStringArgFallsBackToPositional(t *testing.T) {
	args := map[string]vm.Value{"0": vm.String("hi")}
	got, ok := stringArg(args, "prompt")
	assert.True(t, ok)
	assert.Equal(t, "hi", got)
}

func TestStringArgMissingReturnsFalse(t *testing.T) {
	_, ok := stringArg(map[string]vm.Value{}, "prompt")
	assert.False(t, ok)
}

func TestGeminiCallRejectsMissingPrompt(t *testing.T) {
	p := &GeminiProvider{model: "gemini-3-flash-preview"}
	_, err := p.Call(map[string]vm.Value{})
	var perr *tool.ProviderError
	assert.ErrorAs(t, err, &perr)
	assert.Equal(t, tool.ErrInvalidRequest, perr.Kind)
}

func TestNewGeminiProviderWithoutAPIKeyIsNil(t *testing.T) {
	p, err := NewGeminiProvider("", "", 0)
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestOllamaCallRejectsMissingPrompt(t *testing.T) {
	p := NewOllamaProvider("", "")
	_, err := p.Call(map[string]vm.Value{})
	var perr *tool.ProviderError
	assert.ErrorAs(t, err, &perr)
	assert.Equal(t, tool.ErrInvalidRequest, perr.Kind)
}

func TestOllamaProviderDefaults(t *testing.T) {
	p := NewOllamaProvider("", "")
	assert.Equal(t, ollamaDefaultURL, p.baseURL)
	assert.Equal(t, "llama3", p.model)
	assert.Equal(t, "ollama", p.Name())
}
