// Package responses defines API response types used by the texbuilder HTTP handlers.
package responses

import (
	"time"

	"git.home.luguber.info/inful/texbuilder/internal/compile"
	"git.home.luguber.info/inful/texbuilder/internal/diagnostics"
	"git.home.luguber.info/inful/texbuilder/internal/engine"
	"git.home.luguber.info/inful/texbuilder/internal/runner"
)

// FileListResponse lists stored sources by file name.
type FileListResponse struct {
	Files []string `json:"files"`
}

// FileResponse returns a single source.
type FileResponse struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// SaveRequest is the body of POST /api/file.
type SaveRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// CompileRequest is the body of POST /api/compile.
type CompileRequest struct {
	Filename string `json:"filename"`
	Engine   string `json:"engine"`
}

// SuccessResponse acknowledges a mutation.
type SuccessResponse struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename,omitempty"`
	Message  string `json:"message,omitempty"`
}

// PassSummary is the per-pass view returned to clients.
type PassSummary struct {
	Index      int          `json:"index"`
	Kind       string       `json:"kind"`
	Tool       string       `json:"tool"`
	State      runner.State `json:"state"`
	ExitCode   int          `json:"exit_code"`
	DurationMS int64        `json:"duration_ms"`
	Errors     int          `json:"errors"`
	Warnings   int          `json:"warnings"`
}

// CompileResponse is returned for a successful compile.
type CompileResponse struct {
	Success     bool                 `json:"success"`
	JobID       string               `json:"job_id"`
	Document    string               `json:"document"`
	Engine      string               `json:"engine"`
	PDF         string               `json:"pdf"`
	DurationMS  int64                `json:"duration_ms"`
	Passes      []PassSummary        `json:"passes"`
	Diagnostics []diagnostics.Record `json:"diagnostics"`
	Summary     diagnostics.Summary  `json:"summary"`
}

// EnginesResponse reports discovered tool availability.
type EnginesResponse struct {
	Default string        `json:"default"`
	Engines []engine.Tool `json:"engines"`
}

// HealthResponse represents the health check API response.
type HealthResponse struct {
	Status           string         `json:"status"`
	Timestamp        time.Time      `json:"timestamp"`
	Version          string         `json:"version"`
	Uptime           float64        `json:"uptime"`
	EnginesAvailable bool           `json:"engines_available"`
	InFlight         []compile.Info `json:"in_flight"`
}

// SummarizePasses converts pass results to their client view.
func SummarizePasses(passes []runner.PassResult) []PassSummary {
	out := make([]PassSummary, 0, len(passes))
	for _, p := range passes {
		s := diagnostics.Summarize(p.Diagnostics)
		out = append(out, PassSummary{
			Index:      p.Index,
			Kind:       string(p.Kind),
			Tool:       p.Tool,
			State:      p.State,
			ExitCode:   p.ExitCode,
			DurationMS: p.Duration.Milliseconds(),
			Errors:     s.Errors,
			Warnings:   s.Warnings,
		})
	}
	return out
}
