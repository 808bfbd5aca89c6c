package diagnostics

// Summary counts records by severity.
type Summary struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

// Summarize counts errors and warnings in records.
func Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		switch r.Severity {
		case SeverityError:
			s.Errors++
		case SeverityWarning:
			s.Warnings++
		}
	}
	return s
}

// Add returns the sum of two summaries.
func (s Summary) Add(other Summary) Summary {
	return Summary{Errors: s.Errors + other.Errors, Warnings: s.Warnings + other.Warnings}
}

// FirstError returns the first error record, if any.
func FirstError(records []Record) (Record, bool) {
	for _, r := range records {
		if r.IsError() {
			return r, true
		}
	}
	return Record{}, false
}
