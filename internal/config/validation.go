package config

import (
	"errors"
	"fmt"
	"strings"

	ferrors "git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
)

// Validate checks every section and reports all problems at once. Enum values
// are normalised in place.
func (c *Config) Validate() error {
	var problems []error

	if strings.TrimSpace(c.Workspace.Root) == "" {
		problems = append(problems, errors.New("workspace.root must not be empty"))
	}
	if c.Workspace.MaxSourceBytes <= 0 {
		problems = append(problems, errors.New("workspace.max_source_bytes must be > 0"))
	}
	if c.Compile.Timeout <= 0 {
		problems = append(problems, errors.New("compile.timeout must be > 0"))
	}
	if c.Compile.DiagnosticsLookahead < 1 {
		problems = append(problems, errors.New("compile.diagnostics_lookahead must be >= 1"))
	}
	for _, ext := range c.Compile.ScratchExtensions {
		if !strings.HasPrefix(ext, ".") || ext == ".log" || ext == ".tex" || ext == ".pdf" {
			problems = append(problems, fmt.Errorf("compile.scratch_extensions: %q not allowed", ext))
		}
	}

	if p, err := parseEnum("compile.rerun_policy", string(c.Compile.RerunPolicy), rerunPolicies); err != nil {
		problems = append(problems, err)
	} else {
		c.Compile.RerunPolicy = p
	}
	if l, err := parseEnum("logging.level", string(c.Logging.Level), logLevels); err != nil {
		problems = append(problems, err)
	} else {
		c.Logging.Level = l
	}
	if f, err := parseEnum("logging.format", string(c.Logging.Format), logFormats); err != nil {
		problems = append(problems, err)
	} else {
		c.Logging.Format = f
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		problems = append(problems, fmt.Errorf("metrics.path must start with '/': %q", c.Metrics.Path))
	}
	if c.Events.Enabled && c.Events.NATSURL == "" {
		problems = append(problems, errors.New("events.nats_url is required when events are enabled"))
	}
	if c.Events.Enabled && c.Events.Subject == "" {
		problems = append(problems, errors.New("events.subject is required when events are enabled"))
	}

	if len(problems) == 0 {
		return nil
	}
	return ferrors.WrapError(errors.Join(problems...), ferrors.CategoryConfig, "invalid configuration").
		WithCode(ferrors.CodeInvalidConfig).
		Fatal().
		WithContext("problems", len(problems)).
		Build()
}
