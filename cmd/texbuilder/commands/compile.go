package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"git.home.luguber.info/inful/texbuilder/internal/compile"
	"git.home.luguber.info/inful/texbuilder/internal/diagnostics"
	"git.home.luguber.info/inful/texbuilder/internal/workspace"
)

// CompileCmd implements the 'compile' command.
type CompileCmd struct {
	Name   string `arg:"" help:"Document name (with or without .tex)"`
	Engine string `short:"e" help:"Engine to use (pdflatex, xelatex, lualatex); defaults to compile.default_engine"`
	Log    bool   `help:"Print the full engine log after the diagnostics"`
}

func (c *CompileCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	coord, err := newCoordinator(cfg, discoverEngines(cfg))
	if err != nil {
		return err
	}
	return c.run(context.Background(), coord, os.Stdout)
}

func (c *CompileCmd) run(ctx context.Context, coord *compile.Coordinator, out io.Writer) error {
	job, err := coord.Compile(ctx, c.Name, c.Engine)
	if job != nil {
		printJob(out, job, coord.Store())
		if c.Log {
			_, _ = fmt.Fprint(out, job.Log())
		}
	}
	return err
}

func printJob(out io.Writer, job *compile.Job, store *workspace.Store) {
	file := workspace.SourceFileName(job.Document)
	for _, rec := range job.Diagnostics {
		printRecord(out, file, rec)
	}
	_, _ = fmt.Fprintf(out, "%s: %s with %s in %d passes (%d errors, %d warnings, %s)\n",
		job.Document, job.State, job.Engine, len(job.Passes),
		job.Summary.Errors, job.Summary.Warnings, job.Duration().Round(time.Millisecond))
	if job.Artifact != "" {
		_, _ = fmt.Fprintf(out, "output: %s\n", store.ArtifactPath(job.Document))
	}
}

func printRecord(out io.Writer, defaultFile string, rec diagnostics.Record) {
	file := rec.File
	if file == "" {
		file = defaultFile
	}
	if rec.Line > 0 {
		_, _ = fmt.Fprintf(out, "%s:%d: %s: %s\n", file, rec.Line, rec.Severity, rec.Message)
		return
	}
	_, _ = fmt.Fprintf(out, "%s: %s: %s\n", file, rec.Severity, rec.Message)
}
