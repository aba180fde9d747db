package config

import "fmt"

const (
	// DefaultListenAddr binds the daemon's HTTP surface to loopback only.
	DefaultListenAddr   = "127.0.0.1:8090"
	DefaultModelVariant = "base"
	DefaultLanguage     = "auto"
	DefaultLogLevel     = "info"
	DefaultDataDir      = "data"
)

// Config captures bootstrap configuration read from an optional YAML file
// and environment variable overrides.
type Config struct {
	ListenAddr     string `yaml:"listen_addr"`
	ModelVariant   string `yaml:"model_variant"`
	ModelPath      string `yaml:"model_path"`
	Language       string `yaml:"language"`
	LogLevel       string `yaml:"log_level"`
	DataDir        string `yaml:"data_dir"`
	DatabasePath   string `yaml:"database_path"`
	WrapperLib     string `yaml:"wrapper_lib"`
	UseStubRuntime bool   `yaml:"use_stub_runtime"`
}

// Validate applies defaults and rejects unusable values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.ModelVariant == "" {
		c.ModelVariant = DefaultModelVariant
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}
