package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHasNoProviders(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Providers.Aliases)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 8090, cfg.Service.Port)
}

func TestParseProvidersAliasesAndConfig(t *testing.T) {
	doc := `
[providers]
Fetch = "http"
Summarize = "gemini"

[providers.config.gemini]
api_key = "test-key"
model = "gemini-3-flash-preview"

[providers.config.http]
timeout_ms = "5000"
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.Providers.Aliases["Fetch"])
	assert.Equal(t, "gemini", cfg.Providers.Aliases["Summarize"])
	assert.Equal(t, "test-key", cfg.Providers.Config["gemini"]["api_key"])
	assert.Equal(t, "5000", cfg.Providers.Config["http"]["timeout_ms"])
}

func TestParseLoggingAndServiceOverrides(t *testing.T) {
	doc := `
[logging]
level = "debug"
file = "lumen.log"

[service]
host = "0.0.0.0"
port = 9001
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "lumen.log", cfg.Logging.File)
	assert.Equal(t, "0.0.0.0", cfg.Service.Host)
	assert.Equal(t, 9001, cfg.Service.Port)
}

func TestParseEmptyDocumentYieldsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
