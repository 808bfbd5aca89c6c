package workspace

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	ferrors "git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
)

// SourceExt is the extension of every source document.
const SourceExt = ".tex"

const maxNameLength = 128

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// foldAccents decomposes characters and drops combining marks ("Über" -> "Uber").
var foldAccents = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName turns a user supplied document name (with or without the .tex
// suffix) into the canonical name. Accented letters are folded to ASCII; any
// other character outside [A-Za-z0-9_.-], a leading dot, a ".." sequence or a
// path separator yields an InvalidName error.
func NormalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	name = strings.TrimSuffix(name, SourceExt)

	folded, _, err := transform.String(foldAccents, name)
	if err != nil {
		return "", invalidName(raw, "unicode normalisation failed")
	}

	switch {
	case folded == "":
		return "", invalidName(raw, "name is empty")
	case len(folded) > maxNameLength:
		return "", invalidName(raw, "name is too long")
	case strings.Contains(folded, ".."):
		return "", invalidName(raw, "name must not contain '..'")
	case strings.ContainsAny(folded, `/\`):
		return "", invalidName(raw, "name must not contain path separators")
	case !validName.MatchString(folded):
		return "", invalidName(raw, "name may only contain letters, digits, '_', '-' and '.'")
	}
	return folded, nil
}

func invalidName(raw, reason string) error {
	return ferrors.InvalidName(reason).
		WithContext("name", raw).
		Build()
}
