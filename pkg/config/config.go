// Package config loads lumen.toml (spec.md §6): the provider registry
// wiring and the ambient logging/service settings that sit around the
// core compiler. Adapted from the teacher's pkg/config -- same
// Parse/LoadFile/Default split, BurntSushi/toml in place of the
// teacher's encoding/json, since spec.md's own config format is TOML,
// not JSON.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the parsed form of lumen.toml.
type Config struct {
	Providers ProvidersConfig `toml:"providers"`
	Logging   LoggingConfig   `toml:"logging"`
	Service   ServiceConfig   `toml:"service"`
}

// ProvidersConfig is spec.md §6's `[providers]` / `[providers.config.*]`
// pair: an alias -> provider-name map, plus each named provider's own
// freeform settings (API keys, base URLs, model names).
type ProvidersConfig struct {
	// Aliases maps a `use tool ... as <alias>` name to the provider
	// that should back it, e.g. Fetch = "http".
	Aliases map[string]string `toml:"-"`
	// Config holds `[providers.config.<provider-name>]` tables, keyed
	// by provider name (not alias).
	Config map[string]ProviderSettings `toml:"config"`
}

// ProviderSettings is one `[providers.config.<name>]` table. Kept as a
// loose string map rather than a fixed struct (mirroring
// pkg/lumen/tool.Schema's own "loosely typed" choice) since "gemini"
// needs api_key/model and "ollama" needs base_url/model and a fixed
// struct would force every provider to share fields it doesn't use.
type ProviderSettings map[string]string

// LoggingConfig mirrors internal/logger's SetupLogger(cfg) inputs: which
// writers to enable (console/file/memory), the log level, and the
// rotating file writer's size/backup limits.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Output     []string `toml:"output"`
	File       string   `toml:"file"`
	Format     string   `toml:"format"`
	TimeFormat string   `toml:"time_format"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// ServiceConfig configures cmd/lumen-service's HTTP listener, adapted
// from internal/config.Config's Host/Port fields.
type ServiceConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Default returns the zero-config defaults: no providers registered,
// info-level console logging, service listening on localhost:8090.
func Default() *Config {
	return &Config{
		Providers: ProvidersConfig{
			Aliases: map[string]string{},
			Config:  map[string]ProviderSettings{},
		},
		Logging: LoggingConfig{Level: "info", Format: "console", Output: []string{"console"}},
		Service: ServiceConfig{Host: "127.0.0.1", Port: 8090},
	}
}

// LoadFile reads and parses a lumen.toml file, defaulting unset
// sections the same way Default does.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes lumen.toml's contents. The `[providers]` table mixes
// scalar alias=provider assignments with a `config` subtable, so it is
// decoded once as a generic map: string-valued keys become Aliases,
// and each table under `config` becomes a ProviderSettings whose values
// are formatted as strings.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	var raw struct {
		Providers map[string]interface{} `toml:"providers"`
		Logging   LoggingConfig          `toml:"logging"`
		Service   ServiceConfig          `toml:"service"`
	}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("config: parse lumen.toml: %w", err)
	}

	for k, v := range raw.Providers {
		if k == "config" {
			continue
		}
		if s, ok := v.(string); ok {
			cfg.Providers.Aliases[k] = s
		}
	}
	if rawConfig, ok := raw.Providers["config"]; ok {
		if table, ok := rawConfig.(map[string]interface{}); ok {
			for name, settings := range table {
				if st, ok := settings.(map[string]interface{}); ok {
					ps := ProviderSettings{}
					for key, val := range st {
						ps[key] = fmt.Sprintf("%v", val)
					}
					cfg.Providers.Config[name] = ps
				}
			}
		}
	}

	if raw.Logging.Level != "" {
		cfg.Logging.Level = raw.Logging.Level
	}
	if raw.Logging.Format != "" {
		cfg.Logging.Format = raw.Logging.Format
	}
	if raw.Logging.File != "" {
		cfg.Logging.File = raw.Logging.File
	}
	if len(raw.Logging.Output) > 0 {
		cfg.Logging.Output = raw.Logging.Output
	}
	if raw.Logging.TimeFormat != "" {
		cfg.Logging.TimeFormat = raw.Logging.TimeFormat
	}
	if raw.Logging.MaxSizeMB > 0 {
		cfg.Logging.MaxSizeMB = raw.Logging.MaxSizeMB
	}
	if raw.Logging.MaxBackups > 0 {
		cfg.Logging.MaxBackups = raw.Logging.MaxBackups
	}
	if raw.Service.Host != "" {
		cfg.Service.Host = raw.Service.Host
	}
	if raw.Service.Port != 0 {
		cfg.Service.Port = raw.Service.Port
	}

	return cfg, nil
}
