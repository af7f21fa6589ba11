// Package vlog provides leveled logging for latchvision.
//
// No structured logging library is pulled in anywhere across the
// reference corpus this project was built from; every component there
// logs through the standard log package, optionally behind a small
// leveled wrapper. vlog follows that: a thin wrapper around log.Logger
// with Debug/Info/Warn/Error levels and an optional key=value suffix.
//
// The hot loop never logs above Warn on the per-frame path.
package vlog

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// Level controls which messages are emitted.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

var (
	currentLevel int32 = int32(LevelInfo)
	logger             = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

// SetLevel adjusts the minimum level emitted.
func SetLevel(l Level) {
	atomic.StoreInt32(&currentLevel, int32(l))
}

// Fields is a set of structured key=value pairs appended to a log line.
type Fields map[string]any

func (f Fields) String() string {
	if len(f) == 0 {
		return ""
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, f[k]))
	}
	return " " + strings.Join(parts, " ")
}

func emit(l Level, msg string, fields Fields) {
	if Level(atomic.LoadInt32(&currentLevel)) > l {
		return
	}
	logger.Printf("[%s] %s%s", l, msg, fields)
}

// Debug logs at debug level.
func Debug(msg string, fields Fields) { emit(LevelDebug, msg, fields) }

// Info logs at info level.
func Info(msg string, fields Fields) { emit(LevelInfo, msg, fields) }

// Warn logs at warn level.
func Warn(msg string, fields Fields) { emit(LevelWarn, msg, fields) }

// Error logs at error level.
func Error(msg string, fields Fields) { emit(LevelError, msg, fields) }
