package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Level represents logging severity.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

// slogTrace sits below slog.LevelDebug.
const slogTrace = slog.Level(-8)

var (
	mu               sync.RWMutex
	currentLevel     = LevelWarn
	currentVerbosity = 0
	levelVar         = new(slog.LevelVar)
	logger           = newLogger(os.Stderr, "text")
)

func init() {
	levelVar.Set(toSlog(currentLevel))
}

func newLogger(w io.Writer, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: levelVar,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= slogTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With(slog.String("service", "tinnicap"))
}

// Setup replaces the output writer and format ("text" or "json").
func Setup(w io.Writer, format string) {
	if w == nil {
		w = os.Stderr
	}
	mu.Lock()
	logger = newLogger(w, format)
	mu.Unlock()
}

// Logger returns the structured logger for key/value style calls.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetVerbosity configures logger output from count of -v flags (0-4).
func SetVerbosity(count int) {
	if count < 0 {
		count = 0
	}
	if count > 4 {
		count = 4
	}
	mu.Lock()
	defer mu.Unlock()
	currentVerbosity = count
	switch count {
	case 0:
		currentLevel = LevelWarn
	case 1:
		currentLevel = LevelInfo
	case 2:
		currentLevel = LevelDebug
	default:
		currentLevel = LevelTrace
	}
	levelVar.Set(toSlog(currentLevel))
}

// SetLevel configures the level by name, keeping the -v count in sync.
func SetLevel(name string) error {
	_, count, err := ParseLevel(name)
	if err != nil {
		return err
	}
	if strings.EqualFold(name, "error") {
		mu.Lock()
		currentVerbosity = 0
		currentLevel = LevelError
		levelVar.Set(toSlog(LevelError))
		mu.Unlock()
		return nil
	}
	SetVerbosity(count)
	return nil
}

// Verbosity returns the stored -v count.
func Verbosity() int {
	mu.RLock()
	defer mu.RUnlock()
	return currentVerbosity
}

// LevelName returns current level label.
func LevelName() string {
	mu.RLock()
	defer mu.RUnlock()
	return LevelToString(currentLevel)
}

// LevelToString converts a Level to human readable text.
func LevelToString(l Level) string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// ParseLevel returns Level + verbosity count from string.
func ParseLevel(s string) (Level, int, error) {
	switch strings.ToLower(s) {
	case "error":
		return LevelError, 0, nil
	case "warn", "warning":
		return LevelWarn, 0, nil
	case "info":
		return LevelInfo, 1, nil
	case "debug":
		return LevelDebug, 2, nil
	case "trace":
		return LevelTrace, 4, nil
	default:
		return LevelWarn, Verbosity(), fmt.Errorf("unknown level %s", s)
	}
}

func toSlog(l Level) slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelInfo:
		return slog.LevelInfo
	case LevelDebug:
		return slog.LevelDebug
	default:
		return slogTrace
	}
}

func logf(l Level, format string, args ...any) {
	lg := Logger()
	lvl := toSlog(l)
	ctx := context.Background()
	if !lg.Enabled(ctx, lvl) {
		return
	}
	lg.Log(ctx, lvl, fmt.Sprintf(format, args...))
}

// Errorf always prints.
func Errorf(format string, args ...any) {
	logf(LevelError, format, args...)
}

func Warnf(format string, args ...any) {
	logf(LevelWarn, format, args...)
}

func Infof(format string, args ...any) {
	logf(LevelInfo, format, args...)
}

func Debugf(format string, args ...any) {
	logf(LevelDebug, format, args...)
}

func Tracef(format string, args ...any) {
	logf(LevelTrace, format, args...)
}
