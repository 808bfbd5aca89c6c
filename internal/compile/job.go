package compile

import (
	"fmt"
	"strings"
	"time"

	"git.home.luguber.info/inful/texbuilder/internal/diagnostics"
	"git.home.luguber.info/inful/texbuilder/internal/plan"
	"git.home.luguber.info/inful/texbuilder/internal/runner"
)

// Job is one compile request from lock acquisition to completion. It is
// created per request and never persisted.
type Job struct {
	ID          string               `json:"id"`
	Document    string               `json:"document"`
	Engine      string               `json:"engine"`
	CreatedAt   time.Time            `json:"created_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	State       runner.State         `json:"state"`
	Plan        []plan.PassSpec      `json:"plan"`
	Passes      []runner.PassResult  `json:"passes"`
	Artifact    string               `json:"artifact,omitempty"`
	Diagnostics []diagnostics.Record `json:"diagnostics"`
	Summary     diagnostics.Summary  `json:"summary"`
}

// Duration is the wall time from creation to completion.
func (j *Job) Duration() time.Duration {
	if j.FinishedAt.IsZero() {
		return time.Since(j.CreatedAt)
	}
	return j.FinishedAt.Sub(j.CreatedAt)
}

// Succeeded reports whether the job produced a complete PDF.
func (j *Job) Succeeded() bool { return j.State == runner.StateSucceeded }

// Log concatenates the raw logs of every pass that ran.
func (j *Job) Log() string {
	var b strings.Builder
	for _, p := range j.Passes {
		fmt.Fprintf(&b, "=== pass %d: %s (%s) %s exit=%d ===\n", p.Index, p.Kind, p.Tool, p.State, p.ExitCode)
		b.WriteString(p.Log)
		if !strings.HasSuffix(p.Log, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// lastPass returns the last pass that ran.
func (j *Job) lastPass() (runner.PassResult, bool) {
	if len(j.Passes) == 0 {
		return runner.PassResult{}, false
	}
	return j.Passes[len(j.Passes)-1], true
}

// lastCompile returns the most recent compile pass.
func (j *Job) lastCompile() (runner.PassResult, bool) {
	for i := len(j.Passes) - 1; i >= 0; i-- {
		if j.Passes[i].Kind == plan.KindCompile {
			return j.Passes[i], true
		}
	}
	return runner.PassResult{}, false
}

// aggregate keeps diagnostics that describe the final document: the last
// compile pass plus every bibliography pass. Earlier compile passes mostly
// report transient warnings (undefined references) that later passes resolve.
func (j *Job) aggregate() {
	var records []diagnostics.Record
	last, hasCompile := j.lastCompile()
	for _, p := range j.Passes {
		if p.Kind == plan.KindBibliography || (hasCompile && p.Index == last.Index) {
			records = append(records, p.Diagnostics...)
		}
	}
	if records == nil {
		records = []diagnostics.Record{}
	}
	j.Diagnostics = records
	j.Summary = diagnostics.Summarize(records)
}

// Info is a snapshot of an in-flight job.
type Info struct {
	ID        string    `json:"id"`
	Document  string    `json:"document"`
	Engine    string    `json:"engine"`
	StartedAt time.Time `json:"started_at"`
	Pass      int       `json:"pass"`
}
