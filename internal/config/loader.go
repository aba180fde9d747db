// Package config loads daemon configuration from a YAML file plus
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration. Tests can override Lookup to inject
// deterministic environments and Path to point at a fixture file.
type Loader struct {
	// Path is the YAML config file. Empty means SECUREVOX_CONFIG, falling
	// back to no file at all.
	Path string
	// Lookup resolves environment variables; defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Load reads the file (when present), applies environment overrides, and
// validates the result.
func (l Loader) Load() (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}

	var cfg Config

	path := l.Path
	if path == "" {
		if v, ok := l.Lookup("SECUREVOX_CONFIG"); ok {
			path = strings.TrimSpace(v)
		}
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	overrideString(l.Lookup, "SECUREVOX_LISTEN_ADDR", &cfg.ListenAddr)
	overrideString(l.Lookup, "SECUREVOX_MODEL_VARIANT", &cfg.ModelVariant)
	overrideString(l.Lookup, "SECUREVOX_MODEL_PATH", &cfg.ModelPath)
	overrideString(l.Lookup, "SECUREVOX_LANGUAGE", &cfg.Language)
	overrideString(l.Lookup, "SECUREVOX_LOG_LEVEL", &cfg.LogLevel)
	overrideString(l.Lookup, "SECUREVOX_DATA_DIR", &cfg.DataDir)
	overrideString(l.Lookup, "SECUREVOX_DATABASE_PATH", &cfg.DatabasePath)
	overrideString(l.Lookup, "SECUREVOX_WRAPPER_LIB", &cfg.WrapperLib)
	overrideBool(l.Lookup, "SECUREVOX_USE_STUB_RUNTIME", &cfg.UseStubRuntime)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideBool(lookup func(string) (string, bool), key string, target *bool) {
	value, ok := lookup(key)
	if !ok {
		return
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		*target = true
	case "0", "false", "no", "off":
		*target = false
	}
}
