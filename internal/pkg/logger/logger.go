// Package logger provides package-level structured logging backed by zerolog.
// Fields are passed as alternating key/value pairs.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var zerologLevels = map[Level]zerolog.Level{
	DEBUG: zerolog.DebugLevel,
	INFO:  zerolog.InfoLevel,
	WARN:  zerolog.WarnLevel,
	ERROR: zerolog.ErrorLevel,
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level. Unknown
// names yield INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	}
	return INFO
}

// Logger provides structured JSON logging with optional PII redaction.
type Logger struct {
	mu        sync.RWMutex
	zl        zerolog.Logger
	level     Level
	redactPII bool
	sentry    bool
}

func newLogger(w io.Writer) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return &Logger{
		zl:        zerolog.New(w).With().Timestamp().Logger(),
		level:     INFO,
		redactPII: true,
	}
}

var defaultLogger = newLogger(os.Stderr)

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) {
	defaultLogger.mu.Lock()
	defaultLogger.level = l
	defaultLogger.mu.Unlock()
}

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) {
	defaultLogger.mu.Lock()
	defaultLogger.redactPII = r
	defaultLogger.mu.Unlock()
}

// SetOutput redirects the default logger.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.zl = zerolog.New(w).With().Timestamp().Logger()
	defaultLogger.mu.Unlock()
}

// InitSentry enables forwarding of ERROR entries to Sentry. An empty DSN
// leaves forwarding disabled.
func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Environment: environment}); err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}
	defaultLogger.mu.Lock()
	defaultLogger.sentry = true
	defaultLogger.mu.Unlock()
	return nil
}

// Flush waits for buffered Sentry events to be delivered.
func Flush(timeout time.Duration) {
	defaultLogger.mu.RLock()
	enabled := defaultLogger.sentry
	defaultLogger.mu.RUnlock()
	if enabled {
		sentry.Flush(timeout)
	}
}

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if level < l.level {
		return
	}

	kv := make(map[string]string, len(fields)/2)
	keys := make([]string, 0, len(fields)/2)
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redactPII {
			val = redactPIIValue(key, val)
		}
		if _, dup := kv[key]; !dup {
			keys = append(keys, key)
		}
		kv[key] = val
	}

	ev := l.zl.WithLevel(zerologLevels[level])
	for _, k := range keys {
		ev = ev.Str(k, kv[k])
	}
	ev.Msg(msg)

	if level == ERROR && l.sentry {
		sentry.WithScope(func(scope *sentry.Scope) {
			for k, v := range kv {
				scope.SetExtra(k, v)
			}
			sentry.CaptureMessage(msg)
		})
	}
}
