package commands

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"git.home.luguber.info/inful/texbuilder/internal/engine"
)

// EnginesCmd implements the 'engines' command.
type EnginesCmd struct{}

func (e *EnginesCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	return printEngines(os.Stdout, discoverEngines(cfg))
}

func printEngines(out io.Writer, reg *engine.Registry) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TOOL\tKIND\tAVAILABLE\tPATH")
	for _, t := range reg.Tools() {
		id := t.ID
		if id == reg.DefaultEngine() {
			id += " (default)"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", id, t.Kind, t.Available, t.Path)
	}
	return tw.Flush()
}
