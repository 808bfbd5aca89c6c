// Package config loads and validates texbuilder configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file used when no --config flag is given.
const DefaultPath = "texbuilder.yaml"

// DefaultMaxSourceBytes bounds a single source document (16 MiB).
const DefaultMaxSourceBytes int64 = 16 * 1024 * 1024

// Config represents the application configuration.
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Compile   CompileConfig   `yaml:"compile"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Watch     WatchConfig     `yaml:"watch"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Events    EventsConfig    `yaml:"events"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// WorkspaceConfig locates the build root holding one directory per document.
type WorkspaceConfig struct {
	Root           string `yaml:"root"`
	MaxSourceBytes int64  `yaml:"max_source_bytes"`
}

// CompileConfig controls engine invocation and pass planning.
type CompileConfig struct {
	DefaultEngine        string      `yaml:"default_engine"`
	Timeout              Duration    `yaml:"timeout"`
	RerunPolicy          RerunPolicy `yaml:"rerun_policy"`
	KeepAux              bool        `yaml:"keep_aux"`
	ScratchExtensions    []string    `yaml:"scratch_extensions,omitempty"`
	SearchPaths          []string    `yaml:"search_paths,omitempty"`
	DiagnosticsLookahead int         `yaml:"diagnostics_lookahead"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address      string   `yaml:"address"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// WatchConfig configures compile-on-save.
type WatchConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Debounce Duration `yaml:"debounce"`
	Engine   string   `yaml:"engine,omitempty"`
}

// SweepConfig configures the periodic removal of stale temporary files.
type SweepConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Interval   Duration `yaml:"interval"`
	StaleAfter Duration `yaml:"stale_after"`
}

// EventsConfig configures compile event publishing to NATS. When Stream is
// set, events go through JetStream into that stream; otherwise core NATS is used.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
	Stream  string `yaml:"stream,omitempty"`
}

// LoggingConfig selects log level and handler format.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// Duration is a time.Duration that unmarshals from strings like "60s".
type Duration time.Duration

// UnmarshalYAML accepts Go duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration in Go string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads configPath (if it exists), expands environment variables, applies
// defaults and validates. A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	if err := loadEnvFile(); err != nil && !errors.Is(err, errNoEnvFile) {
		// A broken .env is reported but never fatal
		fmt.Fprintf(os.Stderr, "Note: .env file not loaded: %v\n", err)
	}

	cfg := Default()
	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Init writes a configuration file populated with defaults.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
