// Package engine maps engine identifiers to executable invocations.
//
// Availability is discovered once (Discover) and captured in an immutable Registry
// that is shared by every request for the lifetime of the process. Installing
// or removing a TeX distribution therefore requires a restart.
package engine

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	ferrors "git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
)

// Kind distinguishes document compilers from bibliography processors.
type Kind string

const (
	KindCompiler     Kind = "compiler"
	KindBibliography Kind = "bibliography"
)

// Supported tool identifiers. The sets are closed: anything else is UnknownEngine.
const (
	PDFLaTeX = "pdflatex"
	XeLaTeX  = "xelatex"
	LuaLaTeX = "lualatex"
	BibTeX   = "bibtex"
	Biber    = "biber"
)

var (
	compilers      = []string{PDFLaTeX, XeLaTeX, LuaLaTeX}
	bibliographies = []string{BibTeX, Biber}
)

// wellKnownDirs are searched before PATH, matching common TeX Live and MacTeX installs.
var wellKnownDirs = []string{
	"/Library/TeX/texbin",
	"/usr/local/texlive/*/bin/*",
	"/opt/texlive/*/bin/*",
}

// Tool is one discovered executable.
type Tool struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	Path      string `json:"path,omitempty"`
	Available bool   `json:"available"`
}

// Invocation is the template for running one tool.
type Invocation struct {
	ID   string
	Kind Kind
	Path string
}

// Args returns the argument vector for processing jobName inside the working
// directory. Compilers get the source file name and run non-interactively so
// an error never blocks on terminal input.
func (inv Invocation) Args(jobName string) []string {
	if inv.Kind == KindBibliography {
		return []string{jobName}
	}
	return []string{
		"-interaction=nonstopmode",
		"-file-line-error",
		"-synctex=1",
		jobName + ".tex",
	}
}

// Registry is the immutable result of probing. It has no mutators, so
// concurrent readers need no synchronisation.
type Registry struct {
	tools         map[string]Tool
	defaultEngine string
}

// DiscoverOptions configures Discover.
type DiscoverOptions struct {
	// SearchPaths are checked before the well-known TeX directories and PATH.
	SearchPaths   []string
	DefaultEngine string
	// LookPath defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

// Discover locates every supported tool once and returns the Registry.
func Discover(opts DiscoverOptions) *Registry {
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	dirs := append(slices.Clone(opts.SearchPaths), expandDirs(wellKnownDirs)...)

	paths := make(map[string]string)
	for _, id := range append(slices.Clone(compilers), bibliographies...) {
		if p := findTool(id, dirs, lookPath); p != "" {
			paths[id] = p
		}
	}
	r := NewRegistry(paths, opts.DefaultEngine)
	for _, t := range r.Tools() {
		slog.Debug("Discovered tool", slog.String("tool", t.ID), slog.Bool("available", t.Available), slog.String("path", t.Path))
	}
	return r
}

// NewRegistry builds a Registry from explicit tool paths. Tools missing from
// paths are recorded as unavailable; ids outside the supported sets are ignored.
func NewRegistry(paths map[string]string, defaultEngine string) *Registry {
	if defaultEngine == "" {
		defaultEngine = PDFLaTeX
	}
	tools := make(map[string]Tool, len(compilers)+len(bibliographies))
	add := func(ids []string, kind Kind) {
		for _, id := range ids {
			p := paths[id]
			tools[id] = Tool{ID: id, Kind: kind, Path: p, Available: p != ""}
		}
	}
	add(compilers, KindCompiler)
	add(bibliographies, KindBibliography)
	return &Registry{tools: tools, defaultEngine: defaultEngine}
}

// DefaultEngine returns the engine used when a request names none.
func (r *Registry) DefaultEngine() string { return r.defaultEngine }

// Resolve returns the invocation for a compiler engine. An empty id selects the default.
func (r *Registry) Resolve(engineID string) (Invocation, error) {
	id := strings.ToLower(strings.TrimSpace(engineID))
	if id == "" {
		id = r.defaultEngine
	}
	return r.resolve(id, KindCompiler, compilers)
}

// ResolveBibliography returns the invocation for bibtex or biber.
func (r *Registry) ResolveBibliography(toolID string) (Invocation, error) {
	return r.resolve(strings.ToLower(strings.TrimSpace(toolID)), KindBibliography, bibliographies)
}

func (r *Registry) resolve(id string, kind Kind, allowed []string) (Invocation, error) {
	if !slices.Contains(allowed, id) {
		return Invocation{}, ferrors.UnknownEngine(fmt.Sprintf("%s %q is not supported", kind, id)).
			WithContext("engine", id).
			WithContext("supported", strings.Join(allowed, ",")).
			Build()
	}
	tool := r.tools[id]
	if !tool.Available {
		return Invocation{}, ferrors.EngineUnavailable(fmt.Sprintf("%s is not installed", id)).
			WithContext("engine", id).
			WithContext("hint", "install a TeX distribution (e.g. texlive-full or mactex) and restart").
			Build()
	}
	return Invocation{ID: id, Kind: kind, Path: tool.Path}, nil
}

// Tools lists every supported tool, compilers first, in a stable order.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, id := range compilers {
		out = append(out, r.tools[id])
	}
	for _, id := range bibliographies {
		out = append(out, r.tools[id])
	}
	return out
}

// AnyEngineAvailable reports whether at least one compiler was found.
func (r *Registry) AnyEngineAvailable() bool {
	for _, id := range compilers {
		if r.tools[id].Available {
			return true
		}
	}
	return false
}

// IsCompiler reports whether id names a supported compiler engine.
func IsCompiler(id string) bool {
	return slices.Contains(compilers, strings.ToLower(strings.TrimSpace(id)))
}

func findTool(id string, dirs []string, lookPath func(string) (string, error)) string {
	for _, dir := range dirs {
		candidate := filepath.Join(dir, id)
		if isExecutable(candidate) {
			return candidate
		}
	}
	if p, err := lookPath(id); err == nil {
		return p
	}
	return ""
}

// expandDirs resolves glob patterns, newest TeX Live year first.
func expandDirs(patterns []string) []string {
	var out []string
	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[") {
			out = append(out, pattern)
			continue
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		sort.Sort(sort.Reverse(sort.StringSlice(matches)))
		out = append(out, matches...)
	}
	return out
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&fs.FileMode(0o111) != 0
}
