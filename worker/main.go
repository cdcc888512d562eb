package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/samber/lo"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupInterrupts(cancel)

	cmd := newWorkerCmd()
	cmd.Version = fmt.Sprintf("%s (%s)", version, commit[:min(len(commit), 7)])
	if err := cmd.ExecuteContext(ctx); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, color.HiRedString(fmt.Sprint(err))))
		os.Exit(1)
	}
}

// setupInterrupts cancels ctx on the first signal so running trials are
// handed back to the launcher, and exits right away on the second one.
func setupInterrupts(cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		lo.Must(fmt.Fprintln(os.Stderr, "Shutdown signal received, stopping running trials"))
		cancel()
		<-sig
		lo.Must(fmt.Fprintln(os.Stderr, color.HiRedString("Second shutdown signal received, forcing exit")))
		os.Exit(1)
	}()
}
