package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const logFilePrefix = "winicon-"

// openLogFile creates a fresh, timestamp-named log file in logDir,
// creating the directory if needed.
func openLogFile(logDir string) (*os.File, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := logFilePrefix + time.Now().Format("2006-01-02-15-04-05") + ".log"
	f, err := os.Create(filepath.Join(logDir, name))
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}
	return f, nil
}

// CleanOldLogs removes log files in logDir that are older than maxAge.
func CleanOldLogs(logDir string, maxAge time.Duration) error {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), logFilePrefix) || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(logDir, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
