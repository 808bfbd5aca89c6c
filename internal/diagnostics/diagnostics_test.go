package diagnostics

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const undefinedControlSequence = `This is pdfTeX, Version 3.141592653-2.6-1.40.25 (TeX Live 2023)
(./doc.tex
LaTeX2e <2022-11-01>
! Undefined control sequence.
l.7 \foo
        
The control sequence at the end of the top line
of your error message was never \def'ed.
)
No pages of output.
`

func TestParse_ErrorWithLineMarker(t *testing.T) {
	records := Parse(undefinedControlSequence)
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, SeverityError, r.Severity)
	assert.Equal(t, "Undefined control sequence.", r.Message)
	assert.Equal(t, 7, r.Line)
	assert.Contains(t, r.Context, `l.7 \foo`)
	assert.LessOrEqual(t, len(r.Context), DefaultMaxContext)
}

func TestParse_LineMarkerBeyondLookahead(t *testing.T) {
	var b strings.Builder
	b.WriteString("! Emergency stop.\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "noise %d\n", i)
	}
	b.WriteString("l.3 x\n")

	records := Parser{Lookahead: 4}.Parse(b.String())
	require.Len(t, records, 1)
	assert.Zero(t, records[0].Line)
	assert.Len(t, records[0].Context, DefaultMaxContext)
}

func TestParse_FileLineError(t *testing.T) {
	log := "(./doc.tex\n./doc.tex:12: Missing $ inserted.\n<inserted text> \n                $\nl.12 a^b\n)"
	records := Parse(log)
	require.Len(t, records, 1)
	assert.Equal(t, SeverityError, records[0].Severity)
	assert.Equal(t, "./doc.tex", records[0].File)
	assert.Equal(t, 12, records[0].Line)
	assert.Equal(t, "Missing $ inserted.", records[0].Message)
}

func TestParse_Warnings(t *testing.T) {
	log := strings.Join([]string{
		"LaTeX Warning: Reference `fig:a' on page 1 undefined on input line 42.",
		"",
		"Package hyperref Warning: Token not allowed in a PDF string (Unicode):",
		"(hyperref)                removing `math shift' on input line 9.",
		"",
		"LaTeX Font Warning: Font shape `OT1/cmr/bx/sc' undefined",
		"(Font)              using `OT1/cmr/bx/n' instead on input line 15.",
		"Overfull \\hbox (12.3pt too wide) in paragraph at lines 20--22",
		"Class beamer Warning: frame too tall.",
	}, "\n")

	records := Parse(log)
	require.Len(t, records, 5)
	for _, r := range records {
		assert.Equal(t, SeverityWarning, r.Severity)
	}
	assert.Equal(t, 42, records[0].Line)
	assert.Equal(t, 9, records[1].Line)
	assert.Contains(t, records[1].Message, "Package hyperref")
	assert.Contains(t, records[1].Message, "removing `math shift'")
	assert.Equal(t, 15, records[2].Line)
	assert.Equal(t, 20, records[3].Line)
	assert.Zero(t, records[4].Line)
	assert.Equal(t, Summary{Warnings: 5}, Summarize(records))
}

func TestParse_IncludedFile(t *testing.T) {
	log := "(./doc.tex (/usr/share/texmf/article.cls) (./chapters/intro.tex\n" +
		"LaTeX Warning: Citation `x' on page 1 undefined on input line 3.\n" +
		")\nLaTeX Warning: There were undefined references.\n)"

	records := Parse(log)
	require.Len(t, records, 2)
	assert.Equal(t, "./chapters/intro.tex", records[0].File)
	assert.Equal(t, 3, records[0].Line)
	assert.Empty(t, records[1].File)
}

func TestParse_BibTeX(t *testing.T) {
	log := strings.Join([]string{
		"This is BibTeX, Version 0.99d",
		"The top-level auxiliary file: doc.aux",
		"I couldn't open database file refs.bib",
		"---line 3 of file doc.aux",
		"Warning--I didn't find a database entry for \"knuth84\"",
		"I was expecting a `,' or a `}'---line 12 of file refs.bib",
		"I found no \\bibstyle command---while reading file doc.aux",
	}, "\n")

	records := Parse(log)
	require.Len(t, records, 4)
	assert.Equal(t, SeverityError, records[0].Severity)
	assert.Equal(t, "I couldn't open database file refs.bib", records[0].Message)
	assert.Equal(t, SeverityWarning, records[1].Severity)
	assert.Equal(t, 12, records[2].Line)
	assert.Equal(t, "refs.bib", records[2].File)
	assert.True(t, strings.HasPrefix(records[3].Message, "I found no"))
	assert.Equal(t, Summary{Errors: 3, Warnings: 1}, Summarize(records))
}

func TestParse_Biber(t *testing.T) {
	log := "[0] Config.pm:307> INFO - This is Biber 2.19\n" +
		"[52] Biber.pm:4153> WARN - I didn't find a database entry for 'x'\n" +
		"[60] Utils.pm:411> ERROR - Cannot find 'refs.bib'!\n"
	records := Parse(log)
	require.Len(t, records, 2)
	assert.Equal(t, SeverityWarning, records[0].Severity)
	assert.Equal(t, SeverityError, records[1].Severity)
	assert.Equal(t, "Cannot find 'refs.bib'!", records[1].Message)
}

func TestClassify_Unclassified(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 30; i++ {
		fmt.Fprintf(&b, "line %d\n\n", i)
	}
	records := Classify(b.String(), 1)
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, SeverityError, r.Severity)
	assert.Equal(t, UnclassifiedMessage, r.Message)
	require.Len(t, r.Context, 20)
	assert.Equal(t, "line 11", r.Context[0])
	assert.Equal(t, "line 30", r.Context[19])
}

func TestClassify_KeepsRecognisedErrors(t *testing.T) {
	records := Classify(undefinedControlSequence, 1)
	require.Len(t, records, 1)
	assert.NotEqual(t, UnclassifiedMessage, records[0].Message)

	// Warnings alone do not explain a failing exit code.
	records = Classify("Warning--empty journal in x\n", 2)
	require.Len(t, records, 2)
	assert.Equal(t, UnclassifiedMessage, records[1].Message)

	assert.Empty(t, Classify("all good\n", 0))
}

func TestSummaryHelpers(t *testing.T) {
	records := []Record{{Severity: SeverityWarning, Message: "w"}, {Severity: SeverityError, Message: "e"}}
	s := Summarize(records).Add(Summary{Errors: 1})
	assert.Equal(t, Summary{Errors: 2, Warnings: 1}, s)

	first, ok := FirstError(records)
	require.True(t, ok)
	assert.Equal(t, "e", first.Message)

	_, ok = FirstError(nil)
	assert.False(t, ok)
}

func TestTail(t *testing.T) {
	assert.Equal(t, []string{"b", "c"}, Tail("a\n\nb\r\n\nc\n", 2))
	assert.Empty(t, Tail("", 5))
}
