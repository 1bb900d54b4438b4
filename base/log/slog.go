package log

import (
	"io"
	"log/slog"

	"github.com/lmittmann/tint"
)

const timeFormat = "2006-01-02 15:04:05.000"

func (s Severity) toSLogLevel() slog.Level {
	switch s {
	case TraceLevel, DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarningLevel:
		return slog.LevelWarn
	case ErrorLevel, CriticalLevel:
		return slog.LevelError
	}
	return slog.LevelWarn
}

func setupSLog(level Severity, w io.Writer, color bool) {
	handler := tint.NewHandler(w, &tint.Options{
		AddSource:  true,
		Level:      level.toSLogLevel(),
		TimeFormat: timeFormat,
		NoColor:    !color,
	})

	slog.SetDefault(slog.New(handler))
	setLogLoggerLevel(level.toSLogLevel())
}
