package config

import "time"

// DefaultScratchExtensions are removed from a document directory after each
// compile. The .log is always kept for error reporting.
var DefaultScratchExtensions = []string{
	".aux", ".out", ".toc", ".lof", ".lot", ".bbl", ".blg", ".bcf",
	".run.xml", ".fls", ".fdb_latexmk", ".nav", ".snm",
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	cfg := &Config{
		Workspace: WorkspaceConfig{Root: "./tex_files"},
		Metrics:   MetricsConfig{Enabled: true},
		Sweep:     SweepConfig{Enabled: true},
		Events:    EventsConfig{NATSURL: "nats://127.0.0.1:4222"},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero values. It never overrides explicit settings.
func (c *Config) applyDefaults() {
	if c.Workspace.Root == "" {
		c.Workspace.Root = "./tex_files"
	}
	if c.Workspace.MaxSourceBytes <= 0 {
		c.Workspace.MaxSourceBytes = DefaultMaxSourceBytes
	}

	if c.Compile.DefaultEngine == "" {
		c.Compile.DefaultEngine = "pdflatex"
	}
	if c.Compile.Timeout <= 0 {
		c.Compile.Timeout = Duration(60 * time.Second)
	}
	if c.Compile.RerunPolicy == "" {
		c.Compile.RerunPolicy = RerunFixed
	}
	if c.Compile.ScratchExtensions == nil {
		c.Compile.ScratchExtensions = append([]string(nil), DefaultScratchExtensions...)
	}
	if c.Compile.DiagnosticsLookahead <= 0 {
		c.Compile.DiagnosticsLookahead = 8
	}

	if c.Server.Address == "" {
		c.Server.Address = "127.0.0.1:5000"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = Duration(15 * time.Second)
	}
	if c.Server.WriteTimeout <= 0 {
		// A compile may run several passes up to the timeout each.
		c.Server.WriteTimeout = Duration(4*c.Compile.Timeout.Std() + 15*time.Second)
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = Duration(750 * time.Millisecond)
	}
	if c.Sweep.Interval <= 0 {
		c.Sweep.Interval = Duration(15 * time.Minute)
	}
	if c.Sweep.StaleAfter <= 0 {
		c.Sweep.StaleAfter = Duration(time.Hour)
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "texbuilder.compile"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = LogLevelInfo
	}
	if c.Logging.Format == "" {
		c.Logging.Format = LogFormatText
	}
}
