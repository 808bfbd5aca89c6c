// Package diagnostics turns raw engine and bibliography logs into structured records.
//
// The parser is line oriented and forgiving: TeX logs are not a grammar, so
// anything it does not recognise is kept as context on the record before it
// rather than dropped.
package diagnostics

import (
	"regexp"
	"strconv"
	"strings"
)

// Severity of a diagnostic record.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// UnclassifiedMessage is the message of the record added when a tool failed
// without printing anything the parser recognises.
const UnclassifiedMessage = "unclassified failure"

const (
	DefaultLookahead  = 8
	DefaultMaxContext = 6
	tailLines         = 20
)

// Record is one diagnostic. Line is zero when the log gives no line number.
type Record struct {
	Severity Severity `json:"severity"`
	Line     int      `json:"line,omitempty"`
	Message  string   `json:"message"`
	File     string   `json:"file,omitempty"`
	Context  []string `json:"context,omitempty"`
}

// IsError reports whether the record is an error.
func (r Record) IsError() bool { return r.Severity == SeverityError }

var (
	errorLine       = regexp.MustCompile(`^! (.*)$`)
	fileLineError   = regexp.MustCompile(`^(\.{0,2}/?[^:\s()]+\.(?:tex|sty|cls|ltx|dtx|bib|bbl|def|cfg|clo)):(\d+): (.*)$`)
	lineNumber      = regexp.MustCompile(`^l\.(\d+)`)
	latexWarning    = regexp.MustCompile(`^(LaTeX|LaTeX Font|Package \S+|Class \S+|pdfTeX) [Ww]arning: (.*)$`)
	boxWarning      = regexp.MustCompile(`^(Overfull|Underfull) \\[hv]box.*$`)
	continuation    = regexp.MustCompile(`^\([A-Za-z0-9@_.-]+\)\s+(.*)$`)
	onInputLine     = regexp.MustCompile(`on input line (\d+)`)
	atLines         = regexp.MustCompile(`at lines? (\d+)`)
	bibtexWarning   = regexp.MustCompile(`^Warning--(.*)$`)
	bibtexOpen      = regexp.MustCompile(`^I couldn't open (.*)$`)
	bibtexFoundNo   = regexp.MustCompile(`^I found no (.*)$`)
	bibtexLineError = regexp.MustCompile(`^(.+)---line (\d+) of file (\S+)$`)
	biberMessage    = regexp.MustCompile(`\b(ERROR|WARN) - (.*)$`)
	fileOpen        = regexp.MustCompile(`^\((\.{0,2}/[^\s()]+\.(?:tex|ltx))`)
)

// Parser extracts records from raw logs. The zero value uses the defaults.
type Parser struct {
	// Lookahead bounds how far after a "!" line the l.<n> marker is searched.
	Lookahead int
	// MaxContext bounds unrecognised lines attached to a single record.
	MaxContext int
}

// Parse extracts records with the default parser.
func Parse(rawLog string) []Record {
	return Parser{}.Parse(rawLog)
}

// Classify parses rawLog and, when exitCode is nonzero and no error was
// recognised, appends an unclassified failure carrying the log tail.
func Classify(rawLog string, exitCode int) []Record {
	return Parser{}.Classify(rawLog, exitCode)
}

// Classify is the Parser form of the package-level Classify.
func (p Parser) Classify(rawLog string, exitCode int) []Record {
	records := p.Parse(rawLog)
	if exitCode == 0 || Summarize(records).Errors > 0 {
		return records
	}
	return append(records, Unclassified(rawLog))
}

// Unclassified builds the fallback error record for rawLog.
func Unclassified(rawLog string) Record {
	return Record{
		Severity: SeverityError,
		Message:  UnclassifiedMessage,
		Context:  Tail(rawLog, tailLines),
	}
}

// Tail returns the last n non-empty lines of text.
func Tail(text string, n int) []string {
	lines := splitLines(text)
	var out []string
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			out = append(out, lines[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Parse extracts records from rawLog in log order.
func (p Parser) Parse(rawLog string) []Record {
	lookahead := p.Lookahead
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	maxContext := p.MaxContext
	if maxContext <= 0 {
		maxContext = DefaultMaxContext
	}

	lines := splitLines(rawLog)
	var (
		records []Record
		files   fileStack
		// folding is true while continuation lines may extend the last warning.
		folding bool
	)
	add := func(r Record) {
		if r.File == "" {
			r.File = files.current()
		}
		records = append(records, r)
	}

	for i, line := range lines {
		if folding {
			if m := continuation.FindStringSubmatch(line); m != nil {
				last := &records[len(records)-1]
				last.Message += " " + strings.TrimSpace(m[1])
				if last.Line == 0 {
					last.Line = findLine(last.Message)
				}
				continue
			}
			folding = false
		}

		if r, ok := p.match(lines, i, lookahead); ok {
			add(r)
			folding = r.Severity == SeverityWarning && !boxWarning.MatchString(line)
			continue
		}

		files.scan(line)
		if len(records) == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		if last := &records[len(records)-1]; len(last.Context) < maxContext {
			last.Context = append(last.Context, line)
		}
	}
	return records
}

// match recognises a record starting at lines[i].
func (p Parser) match(lines []string, i, lookahead int) (Record, bool) {
	line := lines[i]

	if m := errorLine.FindStringSubmatch(line); m != nil {
		return Record{
			Severity: SeverityError,
			Message:  strings.TrimSpace(m[1]),
			Line:     lookupLineMarker(lines, i, lookahead),
		}, true
	}
	if m := fileLineError.FindStringSubmatch(line); m != nil {
		n, _ := strconv.Atoi(m[2])
		return Record{Severity: SeverityError, File: m[1], Line: n, Message: strings.TrimSpace(m[3])}, true
	}
	if m := latexWarning.FindStringSubmatch(line); m != nil {
		msg := strings.TrimSpace(m[2])
		if !strings.HasPrefix(m[1], "LaTeX") {
			msg = m[1] + ": " + msg
		}
		return Record{Severity: SeverityWarning, Message: msg, Line: findLine(msg)}, true
	}
	if boxWarning.MatchString(line) {
		msg := strings.TrimSpace(line)
		return Record{Severity: SeverityWarning, Message: msg, Line: findLine(msg)}, true
	}
	if m := bibtexWarning.FindStringSubmatch(line); m != nil {
		return Record{Severity: SeverityWarning, Message: strings.TrimSpace(m[1])}, true
	}
	if m := bibtexOpen.FindStringSubmatch(line); m != nil {
		return Record{Severity: SeverityError, Message: "I couldn't open " + strings.TrimSpace(m[1])}, true
	}
	if m := bibtexFoundNo.FindStringSubmatch(line); m != nil {
		return Record{Severity: SeverityError, Message: "I found no " + strings.TrimSpace(m[1])}, true
	}
	if m := bibtexLineError.FindStringSubmatch(line); m != nil {
		n, _ := strconv.Atoi(m[2])
		return Record{Severity: SeverityError, Message: strings.TrimSpace(m[1]), Line: n, File: m[3]}, true
	}
	if m := biberMessage.FindStringSubmatch(line); m != nil {
		sev := SeverityWarning
		if m[1] == "ERROR" {
			sev = SeverityError
		}
		return Record{Severity: sev, Message: strings.TrimSpace(m[2])}, true
	}
	return Record{}, false
}

// lookupLineMarker searches the lines after an error for TeX's l.<n> marker.
func lookupLineMarker(lines []string, from, lookahead int) int {
	for j := from + 1; j < len(lines) && j <= from+lookahead; j++ {
		if m := lineNumber.FindStringSubmatch(lines[j]); m != nil {
			n, _ := strconv.Atoi(m[1])
			return n
		}
		if errorLine.MatchString(lines[j]) {
			break
		}
	}
	return 0
}

func findLine(msg string) int {
	for _, re := range []*regexp.Regexp{onInputLine, atLines} {
		if m := re.FindStringSubmatch(msg); m != nil {
			n, _ := strconv.Atoi(m[1])
			return n
		}
	}
	return 0
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}

// fileStack approximates which input file TeX is reading by following the
// "(./file.tex" openings and the matching ")" closings in the log.
type fileStack struct {
	stack []string
}

func (s *fileStack) scan(line string) {
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '(':
			if m := fileOpen.FindStringSubmatch(line[i:]); m != nil {
				s.stack = append(s.stack, m[1])
				i += len(m[1])
				continue
			}
			s.stack = append(s.stack, "")
		case ')':
			if len(s.stack) > 0 {
				s.stack = s.stack[:len(s.stack)-1]
			}
		}
	}
}

// current returns the innermost open file, or "" for the main document.
// The outermost file is the job's own source and is left implicit.
func (s *fileStack) current() string {
	var files []string
	for _, f := range s.stack {
		if f != "" {
			files = append(files, f)
		}
	}
	if len(files) < 2 {
		return ""
	}
	return files[len(files)-1]
}
