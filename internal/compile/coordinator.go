// Package compile coordinates compile jobs: per-document exclusion, pass
// execution, artifact publication and cleanup.
package compile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/texbuilder/internal/config"
	"git.home.luguber.info/inful/texbuilder/internal/diagnostics"
	"git.home.luguber.info/inful/texbuilder/internal/engine"
	"git.home.luguber.info/inful/texbuilder/internal/events"
	ferrors "git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
	"git.home.luguber.info/inful/texbuilder/internal/metrics"
	"git.home.luguber.info/inful/texbuilder/internal/plan"
	"git.home.luguber.info/inful/texbuilder/internal/runner"
	"git.home.luguber.info/inful/texbuilder/internal/workspace"
)

// Options tune how jobs run.
type Options struct {
	Timeout           time.Duration
	RerunPolicy       config.RerunPolicy
	KeepAux           bool
	ScratchExtensions []string
	Parser            diagnostics.Parser
}

// OptionsFromConfig maps the compile section of the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Timeout:           cfg.Compile.Timeout.Std(),
		RerunPolicy:       cfg.Compile.RerunPolicy,
		KeepAux:           cfg.Compile.KeepAux,
		ScratchExtensions: slices.Clone(cfg.Compile.ScratchExtensions),
		Parser:            diagnostics.Parser{Lookahead: cfg.Compile.DiagnosticsLookahead},
	}
}

// Coordinator serialises jobs per document name while letting different
// documents compile in parallel.
type Coordinator struct {
	store   *workspace.Store
	engines *engine.Registry
	runner  *runner.Runner
	opts    Options

	recorder  metrics.Recorder
	publisher events.Publisher

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	inFlight map[string]*Info
}

// NewCoordinator wires a coordinator with no metrics and no event publishing.
func NewCoordinator(store *workspace.Store, engines *engine.Registry, opts Options) *Coordinator {
	if len(opts.ScratchExtensions) == 0 {
		opts.ScratchExtensions = slices.Clone(config.DefaultScratchExtensions)
	}
	return &Coordinator{
		store:     store,
		engines:   engines,
		runner:    runner.New(opts.Parser),
		opts:      opts,
		recorder:  metrics.NoopRecorder{},
		publisher: events.NoopPublisher{},
		locks:     make(map[string]*sync.Mutex),
		inFlight:  make(map[string]*Info),
	}
}

// WithRecorder injects a metrics recorder.
func (c *Coordinator) WithRecorder(r metrics.Recorder) *Coordinator {
	if r != nil {
		c.recorder = r
	}
	return c
}

// WithPublisher injects a compile event publisher.
func (c *Coordinator) WithPublisher(p events.Publisher) *Coordinator {
	if p != nil {
		c.publisher = p
	}
	return c
}

// Store exposes the workspace the coordinator operates on.
func (c *Coordinator) Store() *workspace.Store { return c.store }

// Engines exposes the discovered engine registry.
func (c *Coordinator) Engines() *engine.Registry { return c.engines }

// lockFor returns the mutex for name, creating it on first use. Entries are
// never removed, so two callers always agree on the mutex for a name.
func (c *Coordinator) lockFor(name string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[name]
	if !ok {
		l = &sync.Mutex{}
		c.locks[name] = l
	}
	return l
}

// tryLock takes the document's in-process mutex and then its advisory file
// lock, so a one-shot CLI compile and a running daemon sharing a build root
// exclude each other too. Either lock being held fails with Busy.
func (c *Coordinator) tryLock(name, op string) (func(), error) {
	l := c.lockFor(name)
	if !l.TryLock() {
		return nil, c.busy(name, op)
	}

	path, err := c.store.LockPath(name)
	if err != nil {
		l.Unlock()
		return nil, err
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		l.Unlock()
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to lock document").
			WithContext("document", name).
			WithContext("path", path).
			Build()
	}
	if !locked {
		l.Unlock()
		return nil, c.busy(name, op)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			slog.Warn("Failed to release document lock", logfields.Document(name), logfields.Error(err))
		}
		l.Unlock()
	}, nil
}

func (c *Coordinator) busy(name, op string) error {
	c.recorder.IncBusyRejection()
	slog.Info("Rejected request for busy document", logfields.Document(name), slog.String("operation", op))
	return ferrors.Busy("document is being compiled").
		WithContext("document", name).
		WithContext("operation", op).
		Build()
}

// Compile runs the full pass plan for a document with the given engine
// (empty selects the default engine).
//
// A concurrent compile of the same document fails immediately with Busy.
// The job is detached from ctx cancellation: a client that disconnects does
// not stop the engine, only the configured timeout does. For every failure
// after the engine is resolved the partial *Job is returned with the error.
func (c *Coordinator) Compile(ctx context.Context, name, engineID string) (*Job, error) {
	name, err := workspace.NormalizeName(name)
	if err != nil {
		return nil, err
	}
	exists, err := c.store.Exists(name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ferrors.NotFound("document not found").WithContext("document", name).Build()
	}

	unlock, err := c.tryLock(name, "compile")
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)

	inv, err := c.engines.Resolve(engineID)
	if err != nil {
		c.recorder.IncCompileOutcome(c.engineLabel(engineID), metrics.OutcomeRejected)
		return nil, err
	}

	job := &Job{
		ID:        uuid.NewString(),
		Document:  name,
		Engine:    inv.ID,
		CreatedAt: time.Now(),
		State:     runner.StateRunning,
	}
	c.track(job)
	defer c.untrack(name)

	log := slog.With(logfields.JobID(job.ID), logfields.Document(name), logfields.Engine(inv.ID))
	log.Info("Compile started")

	err = c.execute(ctx, job, inv, log)

	job.FinishedAt = time.Now()
	job.aggregate()
	c.finish(ctx, job, log)
	if err != nil {
		return job, err
	}
	return job, c.jobError(job)
}

func (c *Coordinator) execute(ctx context.Context, job *Job, inv engine.Invocation, log *slog.Logger) error {
	text, err := c.store.ReadSource(job.Document)
	if err != nil {
		job.State = runner.StateFailed
		return err
	}
	dir, err := c.store.WorkspacePath(job.Document)
	if err != nil {
		job.State = runner.StateFailed
		return err
	}
	job.Plan = plan.Plan(text, inv.ID, c.opts.RerunPolicy)
	log.Debug("Pass plan", slog.Int("passes", len(job.Plan)), slog.String("policy", string(c.opts.RerunPolicy)))

	for _, spec := range job.Plan {
		if spec.Conditional && !c.rerunRequested(job) {
			log.Debug("Skipping conditional pass", logfields.Pass(spec.Index))
			continue
		}
		passInv := inv
		if spec.Kind == plan.KindBibliography {
			passInv, err = c.engines.ResolveBibliography(spec.Tool)
			if err != nil {
				job.State = runner.StateFailed
				c.publish(job, dir, log)
				return err
			}
		}
		c.setPass(job.Document, spec.Index)

		res := c.runner.Run(ctx, runner.Request{
			Pass:       spec,
			Invocation: passInv,
			WorkDir:    dir,
			JobName:    job.Document,
			Timeout:    c.opts.Timeout,
		})
		job.Passes = append(job.Passes, res)
		c.recorder.ObservePassDuration(string(res.Kind), res.Tool, res.Duration)

		if res.Fatal {
			job.State = res.State
			c.publish(job, dir, log)
			return nil
		}
	}
	job.State = runner.StateSucceeded
	c.publish(job, dir, log)
	return nil
}

// rerunRequested reports whether the previous compile asked for another pass.
func (c *Coordinator) rerunRequested(job *Job) bool {
	last, ok := job.lastCompile()
	return ok && plan.NeedsRerun(last.Log)
}

// publish copies a PDF produced during this job into the artifact slot, then
// scrubs scratch files. A partial compile still publishes its PDF so the
// user can look at what rendered.
func (c *Coordinator) publish(job *Job, dir string, log *slog.Logger) {
	produced := filepath.Join(dir, job.Document+".pdf")
	if runner.IsFresh(produced, job.CreatedAt) {
		dest, err := c.store.PublishArtifact(job.Document, produced)
		if err != nil {
			log.Error("Failed to publish artifact", logfields.Error(err))
		} else {
			job.Artifact = dest
		}
	} else if job.State == runner.StateSucceeded {
		// Every compile pass checks for a fresh PDF, so this means the
		// output vanished between the last pass and publication.
		log.Error("Compiled PDF missing at publication", logfields.Path(produced))
		job.State = runner.StateFailed
	}

	if c.opts.KeepAux {
		return
	}
	removed, err := c.store.RemoveScratch(job.Document, c.opts.ScratchExtensions)
	if err != nil {
		log.Warn("Failed to remove scratch files", logfields.Error(err))
		return
	}
	if len(removed) > 0 {
		log.Debug("Removed scratch files", slog.Int("count", len(removed)))
	}
}

func (c *Coordinator) finish(ctx context.Context, job *Job, log *slog.Logger) {
	c.recorder.ObserveCompileDuration(job.Engine, job.Duration())
	c.recorder.IncCompileOutcome(job.Engine, outcomeLabel(job.State))

	log.Info("Compile finished",
		logfields.State(string(job.State)),
		logfields.DurationMS(float64(job.Duration().Milliseconds())),
		slog.Int("passes", len(job.Passes)),
		slog.Int("errors", job.Summary.Errors),
		slog.Int("warnings", job.Summary.Warnings))

	ev := events.CompileEvent{
		JobID:      job.ID,
		Document:   job.Document,
		Engine:     job.Engine,
		State:      string(job.State),
		Passes:     len(job.Passes),
		Errors:     job.Summary.Errors,
		Warnings:   job.Summary.Warnings,
		DurationMS: job.Duration().Milliseconds(),
		FinishedAt: job.FinishedAt,
	}
	if err := c.publisher.PublishCompile(ctx, ev); err != nil {
		log.Warn("Failed to publish compile event", logfields.Error(err))
	}
}

// jobError converts a failed job into PassFailed or TimedOut.
func (c *Coordinator) jobError(job *Job) error {
	if job.State == runner.StateSucceeded {
		return nil
	}
	last, _ := job.lastPass()
	first, hasError := diagnostics.FirstError(job.Diagnostics)

	var b *ferrors.ErrorBuilder
	if job.State == runner.StateTimedOut {
		b = ferrors.TimedOut(fmt.Sprintf("%s timed out after %s", last.Tool, c.opts.Timeout))
	} else {
		msg := fmt.Sprintf("%s pass %d failed", last.Kind, last.Index)
		if hasError {
			msg += ": " + first.Message
		}
		b = ferrors.PassFailed(msg)
	}
	b = b.WithContext("document", job.Document).
		WithContext("job_id", job.ID).
		WithContext("engine", job.Engine).
		WithContext("pass", last.Index).
		WithContext("diagnostics", job.Diagnostics)
	if hasError && first.Line > 0 {
		b = b.WithContext("line", first.Line)
	}
	if job.Artifact != "" {
		b = b.WithContext("partial_artifact", job.Artifact)
	}
	return b.Build()
}

// Delete removes a document. It fails with Busy while the document compiles.
func (c *Coordinator) Delete(_ context.Context, name string) error {
	name, err := workspace.NormalizeName(name)
	if err != nil {
		return err
	}
	unlock, err := c.tryLock(name, "delete")
	if err != nil {
		return err
	}
	defer unlock()
	return c.store.DeleteSource(name)
}

// Save writes a document source. Saving while the document compiles is
// allowed: the engine already read its input, and the next compile picks up
// the new text.
func (c *Coordinator) Save(_ context.Context, name, text string) error {
	return c.store.WriteSource(name, text)
}

// WithLock runs fn while holding the document lock. It fails with Busy
// without calling fn when the document is compiling.
func (c *Coordinator) WithLock(name string, fn func(name string) error) error {
	name, err := workspace.NormalizeName(name)
	if err != nil {
		return err
	}
	unlock, err := c.tryLock(name, "maintenance")
	if err != nil {
		return err
	}
	defer unlock()
	return fn(name)
}

// InFlight returns snapshots of running jobs ordered by document name.
func (c *Coordinator) InFlight() []Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Info, 0, len(c.inFlight))
	for _, info := range c.inFlight {
		out = append(out, *info)
	}
	slices.SortFunc(out, func(a, b Info) int {
		switch {
		case a.Document < b.Document:
			return -1
		case a.Document > b.Document:
			return 1
		}
		return 0
	})
	return out
}

func (c *Coordinator) track(job *Job) {
	c.mu.Lock()
	c.inFlight[job.Document] = &Info{ID: job.ID, Document: job.Document, Engine: job.Engine, StartedAt: job.CreatedAt}
	n := len(c.inFlight)
	c.mu.Unlock()
	c.recorder.SetInFlight(n)
}

func (c *Coordinator) untrack(name string) {
	c.mu.Lock()
	delete(c.inFlight, name)
	n := len(c.inFlight)
	c.mu.Unlock()
	c.recorder.SetInFlight(n)
}

func (c *Coordinator) setPass(name string, index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if info, ok := c.inFlight[name]; ok {
		info.Pass = index
	}
}

// unknownEngineLabel stands in for engine IDs outside the supported set so
// request input never becomes a metric label.
const unknownEngineLabel = "unknown"

// engineLabel maps a requested engine ID onto a bounded label value.
func (c *Coordinator) engineLabel(engineID string) string {
	id := strings.ToLower(strings.TrimSpace(engineID))
	switch {
	case id == "":
		return c.engines.DefaultEngine()
	case engine.IsCompiler(id):
		return id
	default:
		return unknownEngineLabel
	}
}

func outcomeLabel(s runner.State) metrics.OutcomeLabel {
	switch s {
	case runner.StateSucceeded:
		return metrics.OutcomeSucceeded
	case runner.StateTimedOut:
		return metrics.OutcomeTimedOut
	default:
		return metrics.OutcomeFailed
	}
}
