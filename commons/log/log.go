package log

import (
	"context"
	"fmt"
	"strings"
)

// Logger is the common interface for log implementation.
type Logger interface {
	Info(args ...any)
	Infof(format string, args ...any)
	Infoln(args ...any)

	Error(args ...any)
	Errorf(format string, args ...any)
	Errorln(args ...any)

	Warn(args ...any)
	Warnf(format string, args ...any)
	Warnln(args ...any)

	Debug(args ...any)
	Debugf(format string, args ...any)
	Debugln(args ...any)

	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Fatalln(args ...any)

	WithFields(fields ...any) Logger
	WithDefaultMessageTemplate(message string) Logger

	// WithContext binds a call chain to the logger. Every record emitted by the
	// returned logger is enriched from ctx at emission time.
	WithContext(ctx context.Context) Logger

	// Named returns a logger for a category. Per-category level overrides are
	// matched against this name.
	Named(category string) Logger

	Sync() error
}

// Level represents the severity of a log entry.
type Level int8

// Levels ordered from most to least verbose.
const (
	DebugLevel Level = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case FatalLevel:
		return "fatal"
	default:
		return fmt.Sprintf("Level(%d)", l)
	}
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	}

	return InfoLevel, fmt.Errorf("invalid log level %q", s)
}

// ParseLevelOverrides parses "category=level,category=level" into a map.
func ParseLevelOverrides(s string) (map[string]Level, error) {
	overrides := make(map[string]Level)

	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		category, levelName, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(category) == "" {
			return nil, fmt.Errorf("invalid level override %q", pair)
		}

		lvl, err := ParseLevel(levelName)
		if err != nil {
			return nil, err
		}

		overrides[strings.TrimSpace(category)] = lvl
	}

	return overrides, nil
}
