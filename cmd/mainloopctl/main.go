// Command mainloopctl drives a mainloop context from the command line: a
// countdown timer, a file descriptor watch, and a synthetic workload that
// reports the context's metrics.
//
// Logs are written to stderr as JSON lines. Every flag may also be set in a
// config file (--config) or through the environment, prefixed with
// MAINLOOPCTL_ (e.g. MAINLOOPCTL_LOG_LEVEL=debug).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
