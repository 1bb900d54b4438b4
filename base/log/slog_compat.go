//go:build go1.22

package log

import "log/slog"

func setLogLoggerLevel(level slog.Level) {
	slog.SetLogLoggerLevel(level)
}
