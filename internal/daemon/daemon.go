// Package daemon assembles the texbuilder service: workspace, engine discovery,
// compile coordinator, HTTP API and the optional watcher, sweeper and event
// publisher.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/texbuilder/internal/compile"
	"git.home.luguber.info/inful/texbuilder/internal/config"
	"git.home.luguber.info/inful/texbuilder/internal/engine"
	"git.home.luguber.info/inful/texbuilder/internal/events"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
	"git.home.luguber.info/inful/texbuilder/internal/metrics"
	"git.home.luguber.info/inful/texbuilder/internal/server"
	"git.home.luguber.info/inful/texbuilder/internal/sweep"
	"git.home.luguber.info/inful/texbuilder/internal/version"
	"git.home.luguber.info/inful/texbuilder/internal/watch"
	"git.home.luguber.info/inful/texbuilder/internal/workspace"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Daemon owns every long-running component.
type Daemon struct {
	cfg       *config.Config
	status    atomic.Value // Status
	startTime time.Time
	stopChan  chan struct{}
	stopOnce  sync.Once
	mu        sync.Mutex

	coord     *compile.Coordinator
	server    *server.Server
	publisher events.Publisher
	watcher   *watch.Watcher
	sweeper   *sweep.Sweeper
}

// New wires the components described by cfg. Nothing is started yet.
func New(cfg *config.Config) (*Daemon, error) {
	return newWithDiscovery(cfg, engine.DiscoverOptions{
		SearchPaths:   cfg.Compile.SearchPaths,
		DefaultEngine: cfg.Compile.DefaultEngine,
	})
}

func newWithDiscovery(cfg *config.Config, discover engine.DiscoverOptions) (*Daemon, error) {
	store, err := workspace.NewStore(cfg.Workspace.Root, cfg.Workspace.MaxSourceBytes)
	if err != nil {
		return nil, err
	}

	registry := engine.Discover(discover)
	if !registry.AnyEngineAvailable() {
		slog.Warn("No TeX engine found; compiles will fail until one is installed",
			slog.Any("search_paths", discover.SearchPaths))
	}
	for _, tool := range registry.Tools() {
		slog.Debug("Discovered tool", logfields.Engine(tool.ID), logfields.Path(tool.Path), slog.Bool("available", tool.Available))
	}

	reg := metrics.NewRegistry()
	publisher := events.New(&cfg.Events)
	coord := compile.NewCoordinator(store, registry, compile.OptionsFromConfig(cfg)).
		WithRecorder(metrics.NewPrometheusRecorder(reg)).
		WithPublisher(publisher)

	d := &Daemon{
		cfg:       cfg,
		stopChan:  make(chan struct{}),
		coord:     coord,
		publisher: publisher,
		server:    server.New(cfg, coord, server.Options{Gatherer: reg}),
	}
	d.status.Store(StatusStopped)

	if cfg.Watch.Enabled {
		d.watcher, err = watch.New(store.Root(), coord, cfg.Watch.Engine, cfg.Watch.Debounce.Std())
		if err != nil {
			return nil, err
		}
	}
	if cfg.Sweep.Enabled {
		d.sweeper, err = sweep.New(store, coord, cfg.Sweep.StaleAfter.Std())
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Coordinator exposes the compile coordinator.
func (d *Daemon) Coordinator() *compile.Coordinator { return d.coord }

// Start starts every component and blocks until ctx is done or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if s := d.GetStatus(); s != StatusStopped {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not in stopped state: %s", s)
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()
	slog.Info("Starting texbuilder daemon", slog.String("version", version.Version))

	if err := d.server.Start(ctx); err != nil {
		d.status.Store(StatusError)
		d.mu.Unlock()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			slog.Error("Failed to start source watcher", logfields.Error(err))
		}
	}
	if d.sweeper != nil {
		if _, err := d.sweeper.Start(d.cfg.Sweep.Interval.Std()); err != nil {
			slog.Error("Failed to start sweeper", logfields.Error(err))
		}
	}

	d.status.Store(StatusRunning)
	slog.Info("texbuilder daemon started",
		slog.String("address", d.cfg.Server.Address),
		logfields.Path(d.coord.Store().Root()),
		slog.Bool("watch", d.watcher != nil),
		slog.Bool("sweep", d.sweeper != nil),
		slog.Bool("events", d.cfg.Events.Enabled))
	d.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-d.stopChan:
	}
	return nil
}

// Stop shuts components down in reverse start order.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s := d.GetStatus(); s == StatusStopped || s == StatusStopping {
		return nil
	}
	d.status.Store(StatusStopping)
	slog.Info("Stopping texbuilder daemon")
	d.stopOnce.Do(func() { close(d.stopChan) })

	var errs []error
	if d.watcher != nil {
		if err := d.watcher.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("watcher: %w", err))
		}
	}
	if d.sweeper != nil {
		if err := d.sweeper.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sweeper: %w", err))
		}
	}
	if err := d.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := d.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("event publisher: %w", err))
	}

	d.status.Store(StatusStopped)
	slog.Info("texbuilder daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return errors.Join(errs...)
}

// GetStatus returns the current daemon status.
func (d *Daemon) GetStatus() Status {
	status, ok := d.status.Load().(Status)
	if !ok {
		return StatusError
	}
	return status
}
