// Package watch recompiles documents when their source changes on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/texbuilder/internal/compile"
	ferrors "git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
	"git.home.luguber.info/inful/texbuilder/internal/workspace"
)

// Compiler starts a compile job.
type Compiler interface {
	Compile(ctx context.Context, name, engineID string) (*compile.Job, error)
}

// Watcher watches the build root and each document directory. A burst of
// writes to one source triggers a single compile after the debounce delay.
type Watcher struct {
	root     string
	compiler Compiler
	engine   string
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

// New creates a watcher for the documents under root. engineID may be empty
// to use the default engine.
func New(root string, compiler Compiler, engineID string, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to resolve build root: %w", err)
	}
	return &Watcher{
		root:     abs,
		compiler: compiler,
		engine:   engineID,
		debounce: debounce,
		watcher:  fw,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Start adds the build root and existing document directories and begins
// processing events until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.root); err != nil {
		return fmt.Errorf("failed to watch build root %s: %w", w.root, err)
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("failed to list build root: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			w.addDir(filepath.Join(w.root, entry.Name()))
		}
	}

	slog.Info("Watching sources for changes", logfields.Path(w.root), slog.Duration("debounce", w.debounce))
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop closes the watcher, cancels pending compiles and waits for compiles
// that already fired, or until ctx is done.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	w.stopped = true
	for name, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, name)
	}
	w.mu.Unlock()

	err := w.watcher.Close()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return errors.Join(err, fmt.Errorf("waiting for automatic compiles: %w", ctx.Err()))
	}
}

func (w *Watcher) addDir(dir string) {
	if err := w.watcher.Add(dir); err != nil {
		slog.Warn("Failed to watch document directory", logfields.Path(dir), logfields.Error(err))
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Source watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	dir, file := filepath.Split(event.Name)
	dir = filepath.Clean(dir)

	// A new document directory appeared in the root.
	if dir == w.root {
		if event.Op&fsnotify.Create != 0 {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				w.addDir(event.Name)
			}
		}
		return
	}

	if filepath.Dir(dir) != w.root || strings.HasPrefix(file, ".tmp-") {
		return
	}
	name := filepath.Base(dir)
	if file != workspace.SourceFileName(name) {
		return
	}
	slog.Debug("Source change detected", logfields.Document(name), slog.String("op", event.Op.String()))
	w.schedule(ctx, name)
}

// schedule (re)arms the debounce timer for name. Every armed timer holds a
// wg slot until its callback returns or it is stopped before firing.
func (w *Watcher) schedule(ctx context.Context, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.timers[name]; ok && t.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.timers[name] == t {
			delete(w.timers, name)
		}
		w.mu.Unlock()
		w.compile(ctx, name)
	})
	w.timers[name] = t
}

func (w *Watcher) compile(ctx context.Context, name string) {
	job, err := w.compiler.Compile(ctx, name, w.engine)
	switch {
	case ferrors.IsCode(err, ferrors.CodeBusy):
		// A compile started before this save; try again once it is done.
		slog.Debug("Document busy, rescheduling compile", logfields.Document(name))
		w.schedule(ctx, name)
	case ferrors.IsCode(err, ferrors.CodeNotFound):
		slog.Debug("Document vanished before compile", logfields.Document(name))
	case err != nil:
		slog.Warn("Automatic compile failed", logfields.Document(name), logfields.Error(err))
	default:
		slog.Info("Automatic compile finished", logfields.Document(name), logfields.JobID(job.ID))
	}
}
