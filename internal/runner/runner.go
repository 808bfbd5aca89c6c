// Package runner executes a single compiler or bibliography pass as an OS process.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"git.home.luguber.info/inful/texbuilder/internal/diagnostics"
	"git.home.luguber.info/inful/texbuilder/internal/engine"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
	"git.home.luguber.info/inful/texbuilder/internal/plan"
)

const (
	// mtimeSlack absorbs the coarse clock the kernel uses for file timestamps.
	mtimeSlack = time.Second
	// waitDelay bounds how long Wait may block on the child's I/O after exit.
	waitDelay = 5 * time.Second
)

// Request describes one pass to execute.
type Request struct {
	Pass       plan.PassSpec
	Invocation engine.Invocation
	// WorkDir is the document directory; all side effects stay inside it.
	WorkDir string
	// JobName is the source file name without extension.
	JobName string
	Timeout time.Duration
}

// PassResult is the outcome of one pass.
type PassResult struct {
	Index     int           `json:"index"`
	Kind      plan.Kind     `json:"kind"`
	Tool      string        `json:"tool"`
	State     State         `json:"state"`
	ExitCode  int           `json:"exit_code"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	// Fatal is set when the pass failed in a way that must stop the plan.
	Fatal bool `json:"fatal"`
	// Output is the fresh PDF produced by a succeeding compile pass.
	Output      string               `json:"output,omitempty"`
	Log         string               `json:"-"`
	Diagnostics []diagnostics.Record `json:"diagnostics,omitempty"`
}

// Succeeded reports whether the pass finished successfully.
func (r *PassResult) Succeeded() bool { return r.State == StateSucceeded }

func (r *PassResult) transition(to State) {
	if err := Transition(r.State, to); err != nil {
		slog.Error("Pass state machine violated", logfields.Pass(r.Index), logfields.Error(err))
		r.State = StateFailed
		return
	}
	r.State = to
}

// Runner executes passes. The zero value is ready to use.
type Runner struct {
	// Parser controls diagnostics extraction.
	Parser diagnostics.Parser
}

// New returns a Runner using parser for diagnostics.
func New(parser diagnostics.Parser) *Runner {
	return &Runner{Parser: parser}
}

// Run executes req and always returns a result; failures are expressed
// through the result's state and diagnostics rather than an error.
//
// The process runs in its own process group. When the timeout expires the
// whole group is killed, so worker processes spawned by the engine die with it.
func (r *Runner) Run(ctx context.Context, req Request) PassResult {
	res := PassResult{
		Index: req.Pass.Index,
		Kind:  req.Pass.Kind,
		Tool:  req.Invocation.ID,
		State: StatePending,
	}

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.Command(req.Invocation.Path, req.Invocation.Args(req.JobName)...) // #nosec G204 -- path comes from the discovered engine registry
	cmd.Dir = req.WorkDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = waitDelay

	// Output goes to files rather than pipes so Wait returns when the engine
	// exits even while a background child still holds the descriptors.
	stdout, err := outputFile()
	if err == nil {
		defer func() { _ = stdout.Close() }()
		var stderr *os.File
		stderr, err = outputFile()
		if err == nil {
			defer func() { _ = stderr.Close() }()
			cmd.Stdout, cmd.Stderr = stdout, stderr
		}
	}

	res.StartedAt = time.Now()
	res.transition(StateRunning)
	slog.Debug("Starting pass",
		logfields.Pass(res.Index),
		logfields.PassKind(string(res.Kind)),
		logfields.Engine(res.Tool),
		logfields.Path(req.WorkDir))

	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		res.Duration = time.Since(res.StartedAt)
		res.ExitCode = -1
		res.Log = fmt.Sprintf("failed to start %s: %v", req.Invocation.Path, err)
		res.Diagnostics = []diagnostics.Record{diagnostics.Unclassified(res.Log)}
		res.Fatal = true
		res.transition(StateFailed)
		return res
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		killGroup(cmd.Process.Pid)
		waitErr = <-done
		timedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
		if !timedOut {
			slog.Warn("Pass cancelled", logfields.Pass(res.Index), logfields.Error(runCtx.Err()))
		}
	}
	// Workers the engine left behind die with it.
	killGroup(cmd.Process.Pid)
	res.Duration = time.Since(res.StartedAt)
	res.ExitCode = exitCode(cmd.ProcessState, waitErr)
	res.Log = r.rawLog(req, res.StartedAt, readOutput(cmd.Stdout), readOutput(cmd.Stderr))

	switch {
	case timedOut:
		res.Diagnostics = append(r.Parser.Parse(res.Log), diagnostics.Record{
			Severity: diagnostics.SeverityError,
			Message:  fmt.Sprintf("%s timed out after %s", res.Tool, req.Timeout),
			Context:  diagnostics.Tail(res.Log, 6),
		})
		res.Fatal = true
		res.transition(StateTimedOut)
	case res.Kind == plan.KindBibliography:
		r.finishBibliography(&res)
	default:
		r.finishCompile(&res, req)
	}

	summary := diagnostics.Summarize(res.Diagnostics)
	slog.Info("Pass finished",
		logfields.Pass(res.Index),
		logfields.PassKind(string(res.Kind)),
		logfields.Engine(res.Tool),
		logfields.State(string(res.State)),
		logfields.ExitCode(res.ExitCode),
		logfields.DurationMS(float64(res.Duration.Milliseconds())),
		slog.Int("errors", summary.Errors),
		slog.Int("warnings", summary.Warnings))
	return res
}

func (r *Runner) finishCompile(res *PassResult, req Request) {
	if res.ExitCode != 0 {
		res.Diagnostics = r.Parser.Classify(res.Log, res.ExitCode)
		res.Fatal = true
		res.transition(StateFailed)
		return
	}
	res.Diagnostics = r.Parser.Parse(res.Log)
	pdf := filepath.Join(req.WorkDir, req.JobName+".pdf")
	if !IsFresh(pdf, res.StartedAt) {
		res.Diagnostics = append(res.Diagnostics, diagnostics.Record{
			Severity: diagnostics.SeverityError,
			Message:  "no output produced",
			Context:  diagnostics.Tail(res.Log, 6),
		})
		res.Fatal = true
		res.transition(StateFailed)
		return
	}
	res.Output = pdf
	res.transition(StateSucceeded)
}

// finishBibliography treats a nonzero exit that only produced warnings as a
// non-fatal failure: bibtex exits 1 or 2 for warnings such as missing fields.
func (r *Runner) finishBibliography(res *PassResult) {
	if res.ExitCode == 0 {
		res.Diagnostics = r.Parser.Parse(res.Log)
		res.transition(StateSucceeded)
		return
	}
	records := r.Parser.Parse(res.Log)
	summary := diagnostics.Summarize(records)
	if summary.Errors == 0 && summary.Warnings > 0 {
		res.Diagnostics = records
		res.transition(StateFailed)
		return
	}
	res.Diagnostics = r.Parser.Classify(res.Log, res.ExitCode)
	res.Fatal = true
	res.transition(StateFailed)
}

// rawLog prefers the tool's own log file (.log for engines, .blg for
// bibliography tools) and falls back to the captured output streams.
func (r *Runner) rawLog(req Request, started time.Time, stdout, stderr string) string {
	ext := ".log"
	if req.Pass.Kind == plan.KindBibliography {
		ext = ".blg"
	}
	path := filepath.Join(req.WorkDir, req.JobName+ext)
	if IsFresh(path, started) {
		if data, err := os.ReadFile(path); err == nil {
			return string(data)
		}
	}
	switch {
	case stdout == "":
		return stderr
	case stderr == "":
		return stdout
	default:
		return stdout + "\n" + stderr
	}
}

// IsFresh reports whether path is a regular file modified at or after since,
// allowing for the coarse timestamps some filesystems record.
func IsFresh(path string, since time.Time) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return !info.ModTime().Before(since.Add(-mtimeSlack))
}

// exitCode prefers the reaped process state: Wait may also report
// exec.ErrWaitDelay for a process that exited normally.
func exitCode(state *os.ProcessState, err error) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
	}
	return -1
}

// killGroup sends SIGKILL to the process group led by pid. A negative pid
// addresses the whole group; ESRCH just means nothing is left.
func killGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

// outputFile returns an anonymous temporary file for child output.
func outputFile() (*os.File, error) {
	f, err := os.CreateTemp("", "texbuilder-output-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	_ = os.Remove(f.Name())
	return f, nil
}

// readOutput returns everything written to w when it is an output file.
func readOutput(w io.Writer) string {
	f, ok := w.(*os.File)
	if !ok {
		return ""
	}
	data, err := io.ReadAll(io.NewSectionReader(f, 0, 1<<30))
	if err != nil {
		return ""
	}
	return string(data)
}
