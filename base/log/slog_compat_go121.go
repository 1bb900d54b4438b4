//go:build !go1.22

package log

import "log/slog"

// slog.SetLogLoggerLevel is only available since Go 1.22; on older
// toolchains the log package bridge stays at its default level.
func setLogLoggerLevel(_ slog.Level) {}
