package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/safing/winicon/base/log"
)

var (
	dataDir     string
	logLevel    string
	logToStdout bool
)

var rootCmd = &cobra.Command{
	Use:   "icotool",
	Short: "A tool to inspect, convert and serve Windows icon and cursor resources",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logDir := ""
		if !logToStdout {
			if dataDir == "" {
				return errors.New("logging to file requires --data")
			}
			logDir = filepath.Join(dataDir, "logs")
		}
		return log.Start(logLevel, logToStdout, logDir)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "data directory for the icon store and logs")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warning", "log level: trace, debug, info, warning, error, critical")
	rootCmd.PersistentFlags().BoolVar(&logToStdout, "log-to-stdout", true, "log to stdout instead of a file in the data directory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	log.Shutdown()
}
