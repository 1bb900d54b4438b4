package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/safing/winicon/base/log"
	"github.com/safing/winicon/service"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:8817", "address for the HTTP API to listen on")
}

var (
	listenAddr string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the icon store and its HTTP API",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}
)

func serve(cmd *cobra.Command, args []string) error {
	if dataDir == "" {
		return errors.New("serve requires --data")
	}

	instance, err := service.New(service.Config{
		DataDir:    dataDir,
		ListenAddr: listenAddr,
	})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	run(instance)
	return nil
}

// run starts the service instance and blocks until it stops, either
// through a signal or on its own. It does not return.
func run(instance *service.Instance) {
	go func() {
		if err := instance.Start(); err != nil {
			fmt.Printf("instance start failed: %s\n", err)
			os.Exit(1)
		}
	}()

	// Shut down on interrupt style signals.
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	select {
	case <-signalCh:
		fmt.Println(" <INTERRUPT>") // CLI output.
		slog.Warn("program was interrupted, stopping")

	case <-instance.Stopped():
		// The instance stopped on its own.
		log.Shutdown()
		os.Exit(instance.ExitCode())
	}

	// Force the exit when the shutdown hangs or the user insists.
	go forceExitOnSignals(signalCh)
	go forceExitAfter(3 * time.Minute)

	if err := instance.Stop(); err != nil {
		slog.Error("failed to stop", "err", err)
	}
	log.Shutdown()
	os.Exit(instance.ExitCode())
}

// forceExitOnSignals kills the process with a stack dump after five more
// interrupts during shutdown.
func forceExitOnSignals(signalCh <-chan os.Signal) {
	for remaining := 5; ; {
		<-signalCh
		remaining--
		if remaining <= 0 {
			printStackTo(os.Stderr, "PRINTING STACK ON FORCED EXIT")
			os.Exit(1)
		}
		fmt.Printf(" <INTERRUPT> again, but already shutting down - %d more to force\n", remaining)
	}
}

// forceExitAfter kills the process with a stack dump when the shutdown
// takes longer than the given limit.
func forceExitAfter(limit time.Duration) {
	time.Sleep(limit)
	printStackTo(os.Stderr, "PRINTING STACK - TAKING TOO LONG FOR SHUTDOWN")
	os.Exit(1)
}

func printStackTo(writer io.Writer, msg string) {
	_, err := fmt.Fprintf(writer, "===== %s =====\n", msg)
	if err == nil {
		err = pprof.Lookup("goroutine").WriteTo(writer, 1)
	}
	if err != nil {
		slog.Error("failed to write stack trace", "err", err)
	}
}
