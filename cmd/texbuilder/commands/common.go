// Package commands implements the texbuilder command line.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/texbuilder/internal/compile"
	"git.home.luguber.info/inful/texbuilder/internal/config"
	"git.home.luguber.info/inful/texbuilder/internal/engine"
	"git.home.luguber.info/inful/texbuilder/internal/workspace"
)

// Global context passed to subcommands.
type Global struct {
	Logger *slog.Logger
}

// CLI definition and global flags.
type CLI struct {
	Config    string           `short:"c" help:"Configuration file path" default:"texbuilder.yaml"`
	Verbose   bool             `short:"v" help:"Enable verbose logging"`
	LogFormat string           `name:"log-format" help:"Log format (text or json); overrides the config file"`
	Version   kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve   ServeCmd   `cmd:"" help:"Run the HTTP API"`
	Compile CompileCmd `cmd:"" help:"Compile one stored document and print its diagnostics"`
	Engines EnginesCmd `cmd:"" help:"List TeX engines and bibliography tools"`
	Init    InitCmd    `cmd:"" help:"Initialize a new configuration file"`
	Ver     VersionCmd `cmd:"" name:"version" help:"Print version information"`
}

// AfterApply runs after flag parsing; setup logging once.
func (c *CLI) AfterApply() error {
	switch config.LogFormat(c.LogFormat) {
	case "", config.LogFormatText, config.LogFormatJSON:
	default:
		return fmt.Errorf("invalid --log-format %q, valid options: text, json", c.LogFormat)
	}
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(newLogger(os.Stderr, config.LogFormat(c.LogFormat), level))
	return nil
}

// loadConfig reads the configuration and reapplies logging from it. Flags
// given on the command line win over the file.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level.SlogLevel()
	if c.Verbose {
		level = slog.LevelDebug
	}
	format := cfg.Logging.Format
	if c.LogFormat != "" {
		format = config.LogFormat(c.LogFormat)
	}
	slog.SetDefault(newLogger(os.Stderr, format, level))
	return cfg, nil
}

func newLogger(w io.Writer, format config.LogFormat, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// discoverEngines locates tools according to cfg.
func discoverEngines(cfg *config.Config) *engine.Registry {
	return engine.Discover(engine.DiscoverOptions{
		SearchPaths:   cfg.Compile.SearchPaths,
		DefaultEngine: cfg.Compile.DefaultEngine,
	})
}

// newCoordinator builds a coordinator for one-shot commands.
func newCoordinator(cfg *config.Config, registry *engine.Registry) (*compile.Coordinator, error) {
	store, err := workspace.NewStore(cfg.Workspace.Root, cfg.Workspace.MaxSourceBytes)
	if err != nil {
		return nil, err
	}
	return compile.NewCoordinator(store, registry, compile.OptionsFromConfig(cfg)), nil
}
