// Package main provides the macpilot command: it executes tool requests
// (shell commands, file operations, browser actions) behind a safety gate
// and recovers automatically when a tool fails.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version of the macpilot CLI (set at build time)
var Version = "0.1.0"

// errReported means the command already printed its failure.
var errReported = errors.New("failure reported")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}
