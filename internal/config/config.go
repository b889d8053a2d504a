package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the tool reads.
const EnvPrefix = "EMODCFG_"

// Duration wraps time.Duration to support YAML and environment values such as
// "5s" or "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	return d.UnmarshalText([]byte(raw))
}

// UnmarshalText parses a duration from an environment variable.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := string(text)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled" env:"ENABLED"`
	URL     string            `yaml:"url" env:"URL"`
	Labels  map[string]string `yaml:"labels" env:"LABELS" envKeyValSeparator:"="`
}

// LoggingConfig encapsulates logging options. Format is "json" (default) or
// "text" for human readable console output.
type LoggingConfig struct {
	Level  string     `yaml:"level" env:"LEVEL"`
	Format string     `yaml:"format" env:"FORMAT"`
	Loki   LokiConfig `yaml:"loki" envPrefix:"LOKI_"`
}

// TelemetryConfig controls the Prometheus endpoint served in watch mode.
type TelemetryConfig struct {
	Listen string `yaml:"listen" env:"LISTEN"`
}

// WatchConfig controls rebuilding when the schema or override files change.
type WatchConfig struct {
	Enabled  bool     `yaml:"enabled" env:"ENABLED"`
	Interval Duration `yaml:"interval" env:"INTERVAL"`
}

// Config is the root configuration of the emodcfg tool.
type Config struct {
	// Schema is the path of the schema document.
	Schema string `yaml:"schema" env:"SCHEMA"`
	// Model selects the simulation type of the generated configuration.
	Model string `yaml:"model" env:"MODEL"`
	// Class, when set, instantiates the default of a single schema type
	// instead of a full simulation configuration.
	Class  string `yaml:"class" env:"CLASS"`
	Output string `yaml:"output" env:"OUTPUT"`
	// Overrides are override documents applied in order.
	Overrides []string `yaml:"overrides" env:"OVERRIDES"`
	// Set holds KEY=VALUE assignments applied after the override documents.
	Set            map[string]string `yaml:"set" env:"SET" envKeyValSeparator:"="`
	SchemaWarnings bool              `yaml:"schema_warnings" env:"SCHEMA_WARNINGS"`
	Logging        LoggingConfig     `yaml:"logging" envPrefix:"LOG_"`
	Telemetry      TelemetryConfig   `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Watch          WatchConfig       `yaml:"watch" envPrefix:"WATCH_"`

	// Source is the file the configuration was loaded from.
	Source string `yaml:"-"`
}

// Default returns the configuration used when no file is given, with
// environment overrides applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and decodes the configuration file from disk. Relative schema
// and override paths are resolved against the file's directory. Environment
// variables take precedence over file values.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	base := filepath.Dir(path)
	cfg.Schema = relativeTo(base, cfg.Schema)
	for i, file := range cfg.Overrides {
		cfg.Overrides[i] = relativeTo(base, file)
	}
	cfg.Source = path
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func relativeTo(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// WatchInterval returns the polling interval of watch mode.
func (c *Config) WatchInterval() time.Duration {
	if c == nil || c.Watch.Interval.Duration <= 0 {
		return 2 * time.Second
	}
	return c.Watch.Interval.Duration
}

// Validate reports configurations the tool cannot act on.
func (c *Config) Validate() error {
	if c.Schema == "" {
		return fmt.Errorf("no schema configured")
	}
	if c.Class != "" && len(c.Overrides) > 0 {
		return fmt.Errorf("override documents apply to simulation configurations, not to class %q", c.Class)
	}
	return nil
}
