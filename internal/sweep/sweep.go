// Package sweep periodically removes temporary files left behind by
// interrupted saves and artifact publications.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	ferrors "git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
	"git.home.luguber.info/inful/texbuilder/internal/workspace"
)

// Locker runs fn while holding a document's compile lock.
type Locker interface {
	WithLock(name string, fn func(name string) error) error
}

// Sweeper removes stale ".tmp-" files from every document directory.
// Each document is swept under its lock so a running publish is never touched.
type Sweeper struct {
	scheduler  gocron.Scheduler
	store      *workspace.Store
	locker     Locker
	staleAfter time.Duration
	now        func() time.Time
}

// New creates a sweeper. Call Start to schedule it.
func New(store *workspace.Store, locker Locker, staleAfter time.Duration) (*Sweeper, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Sweeper{
		scheduler:  s,
		store:      store,
		locker:     locker,
		staleAfter: staleAfter,
		now:        time.Now,
	}, nil
}

// Start schedules the sweep every interval and starts the scheduler.
func (s *Sweeper) Start(interval time.Duration) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.run),
		gocron.WithName("stale-temp-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create sweep job: %w", err)
	}
	slog.Info("Starting stale file sweeper",
		slog.Duration("interval", interval),
		slog.Duration("stale_after", s.staleAfter))
	s.scheduler.Start()
	return job.ID().String(), nil
}

// Stop shuts the scheduler down, waiting for a running sweep.
func (s *Sweeper) Stop(_ context.Context) error {
	slog.Info("Stopping stale file sweeper")
	return s.scheduler.Shutdown()
}

func (s *Sweeper) run() {
	if _, err := s.SweepOnce(); err != nil {
		slog.Error("Stale file sweep failed", logfields.Error(err))
	}
}

// SweepOnce sweeps every document once and returns the number of removed
// files. Documents that are compiling are skipped until the next run.
func (s *Sweeper) SweepOnce() (int, error) {
	names, err := s.store.ListSources()
	if err != nil {
		return 0, err
	}
	now := s.now()
	total := 0
	var errs []error
	for _, name := range names {
		err := s.locker.WithLock(name, func(name string) error {
			removed, err := s.store.RemoveStaleTemp(name, s.staleAfter, now)
			total += len(removed)
			for _, path := range removed {
				slog.Debug("Removed stale temporary file", logfields.Document(name), logfields.Path(path))
			}
			return err
		})
		switch {
		case ferrors.IsCode(err, ferrors.CodeBusy):
			slog.Debug("Skipping busy document", logfields.Document(name))
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if total > 0 {
		slog.Info("Stale file sweep finished", slog.Int("removed", total), slog.Int("documents", len(names)))
	}
	return total, errors.Join(errs...)
}
