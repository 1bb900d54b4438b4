// Package log provides leveled logging for the winicon toolkit. It
// configures the process-wide slog default, so module loggers created
// through the service manager share the same handler, format and
// level.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tevino/abool"
)

// Severity is the numeric rank of a log level.
type Severity uint32

// Log levels.
const (
	TraceLevel    Severity = 1
	DebugLevel    Severity = 2
	InfoLevel     Severity = 3
	WarningLevel  Severity = 4
	ErrorLevel    Severity = 5
	CriticalLevel Severity = 6
)

var (
	logLevel atomic.Uint32

	logWriter   io.Writer = os.Stdout
	logFile     *os.File
	logToStdout bool

	initializing = abool.NewBool(false)
	started      = abool.NewBool(false)
	shutdownFlag = abool.NewBool(false)
)

var levelNames = map[Severity]string{
	TraceLevel:    "trace",
	DebugLevel:    "debug",
	InfoLevel:     "info",
	WarningLevel:  "warning",
	ErrorLevel:    "error",
	CriticalLevel: "critical",
}

// Name returns the lowercase name of the log level.
func (s Severity) Name() string {
	if name, ok := levelNames[s]; ok {
		return name
	}
	return "none"
}

// ParseLevel returns the severity for a log level name.
// It returns 0 for unknown names.
func ParseLevel(level string) Severity {
	level = strings.ToLower(level)
	for s, name := range levelNames {
		if name == level {
			return s
		}
	}
	return 0
}

// GetLogLevel returns the currently active log level.
func GetLogLevel() Severity {
	return Severity(logLevel.Load())
}

// SetLogLevel sets a new log level.
func SetLogLevel(level Severity) {
	logLevel.Store(uint32(level))
	setupSLog(level, logWriter, logToStdout)
}

// Start starts the logging system. Logs go to stdout or to a fresh
// file in logDir. Must be called for leveled output; before that,
// messages pass through the stock slog default.
func Start(level string, toStdout bool, logDir string) error {
	if !initializing.SetToIf(false, true) {
		return nil
	}

	initialLevel := InfoLevel
	if level != "" {
		if parsed := ParseLevel(level); parsed != 0 {
			initialLevel = parsed
		} else {
			fmt.Fprintf(os.Stderr, "log warning: unknown log level %q, using info\n", level)
		}
	}

	logToStdout = toStdout
	if toStdout {
		logWriter = os.Stdout
	} else {
		var err error
		logFile, err = openLogFile(logDir)
		if err != nil {
			return fmt.Errorf("failed to initialize log file: %w", err)
		}
		logWriter = logFile
	}

	SetLogLevel(initialLevel)
	started.Set()

	// Drop log files older than a month.
	if !toStdout {
		if err := CleanOldLogs(logDir, 30*24*time.Hour); err != nil {
			Errorf("log: failed to clean old log files: %s", err)
		}
	}
	return nil
}

// Shutdown flushes and stops the logging system.
func Shutdown() {
	if !shutdownFlag.SetToIf(false, true) {
		return
	}
	if logFile != nil {
		_ = logFile.Sync()
		_ = logFile.Close()
	}
}

func logf(s Severity, format string, args ...any) {
	if started.IsSet() && GetLogLevel() > s {
		return
	}
	slog.Log(context.Background(), s.toSLogLevel(), fmt.Sprintf(format, args...))
}

// Tracef logs a message at trace level.
func Tracef(format string, args ...any) { logf(TraceLevel, format, args...) }

// Debugf logs a message at debug level.
func Debugf(format string, args ...any) { logf(DebugLevel, format, args...) }

// Infof logs a message at info level.
func Infof(format string, args ...any) { logf(InfoLevel, format, args...) }

// Warningf logs a message at warning level.
func Warningf(format string, args ...any) { logf(WarningLevel, format, args...) }

// Errorf logs a message at error level.
func Errorf(format string, args ...any) { logf(ErrorLevel, format, args...) }

// Criticalf logs a message at critical level.
func Criticalf(format string, args ...any) { logf(CriticalLevel, format, args...) }
