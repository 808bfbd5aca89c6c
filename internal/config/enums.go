package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// RerunPolicy selects how many compile passes a document without citations gets.
type RerunPolicy string

const (
	RerunFixed  RerunPolicy = "fixed"  // always two compile passes
	RerunDetect RerunPolicy = "detect" // second pass only when the log asks for a rerun
	RerunSingle RerunPolicy = "single" // one pass, for quick previews
)

// LogLevel enumerates supported logging levels.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat enumerates supported log output formats.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

var (
	rerunPolicies = []RerunPolicy{RerunFixed, RerunDetect, RerunSingle}
	logLevels     = []LogLevel{LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError}
	logFormats    = []LogFormat{LogFormatJSON, LogFormatText}
)

// parseEnum matches raw case-insensitively against the allowed values.
func parseEnum[T ~string](field, raw string, allowed []T) (T, error) {
	cleaned := T(strings.ToLower(strings.TrimSpace(raw)))
	if slices.Contains(allowed, cleaned) {
		return cleaned, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q, valid options: %v", field, raw, allowed)
}

// SlogLevel maps the configured level onto slog.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
