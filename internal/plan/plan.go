// Package plan decides which passes a document needs before its PDF is complete.
package plan

import (
	"regexp"
	"strings"

	"git.home.luguber.info/inful/texbuilder/internal/config"
	"git.home.luguber.info/inful/texbuilder/internal/engine"
)

// Kind is the kind of pass.
type Kind string

const (
	KindCompile      Kind = "compile"
	KindBibliography Kind = "bibliography"
)

// PassSpec describes one planned pass.
type PassSpec struct {
	Index int    `json:"index"`
	Kind  Kind   `json:"kind"`
	Tool  string `json:"tool"`
	// Conditional passes run only when the previous compile log asks for a rerun.
	Conditional bool `json:"conditional,omitempty"`
}

var (
	bibliographyDirective = regexp.MustCompile(`\\bibliography\s*\{[^}]*\}`)
	addBibResource        = regexp.MustCompile(`\\addbibresource\s*(\[[^\]]*\])?\s*\{[^}]*\}`)
	biblatexBibtexBackend = regexp.MustCompile(`\\usepackage\s*\[[^\]]*backend\s*=\s*bibtex[^\]]*\]\s*\{biblatex\}`)
)

// rerunSignals are the phrases LaTeX and hyperref print when labels or
// outlines changed during the pass.
var rerunSignals = []string{
	"Rerun to get cross-references right",
	"Rerun to get outlines right",
	"Label(s) may have changed. Rerun",
	"Rerun to get citations correct",
}

// Plan returns the ordered passes for documentText compiled with engineID.
// It is deterministic and has no side effects.
func Plan(documentText, engineID string, policy config.RerunPolicy) []PassSpec {
	text := StripComments(documentText)
	compile := func() PassSpec { return PassSpec{Kind: KindCompile, Tool: engineID} }

	var passes []PassSpec
	if tool, ok := BibliographyTool(text); ok {
		passes = []PassSpec{
			compile(),
			{Kind: KindBibliography, Tool: tool},
			compile(),
			compile(),
		}
	} else {
		switch policy {
		case config.RerunSingle:
			passes = []PassSpec{compile()}
		case config.RerunDetect:
			rerun := compile()
			rerun.Conditional = true
			passes = []PassSpec{compile(), rerun}
		default:
			passes = []PassSpec{compile(), compile()}
		}
	}
	for i := range passes {
		passes[i].Index = i
	}
	return passes
}

// BibliographyTool reports which bibliography processor text needs, if any.
// Comments must already be stripped.
func BibliographyTool(text string) (string, bool) {
	if addBibResource.MatchString(text) {
		if biblatexBibtexBackend.MatchString(text) {
			return engine.BibTeX, true
		}
		return engine.Biber, true
	}
	if bibliographyDirective.MatchString(text) {
		return engine.BibTeX, true
	}
	return "", false
}

// NeedsRerun reports whether a compile log asks for another pass.
func NeedsRerun(log string) bool {
	for _, signal := range rerunSignals {
		if strings.Contains(log, signal) {
			return true
		}
	}
	return false
}

// StripComments removes TeX comments: an unescaped % up to the end of the line.
// A backslash escapes % only when it is itself unescaped, so `\\%` still starts a comment.
func StripComments(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, line := range strings.SplitAfter(text, "\n") {
		b.WriteString(stripLine(line))
	}
	return b.String()
}

func stripLine(line string) string {
	backslashes := 0
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			backslashes++
			continue
		case '%':
			if backslashes%2 == 0 {
				if strings.HasSuffix(line, "\n") {
					return line[:i] + "\n"
				}
				return line[:i]
			}
		}
		backslashes = 0
	}
	return line
}
