// Package main provides the drivemirror CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ghyeongl/drivemirror/sync"
)

// Exit codes.
const (
	exitOK           = 0
	exitError        = 1
	exitUnauthorized = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := Execute(ctx)
	stop()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, sync.ErrUnauthorized):
		fmt.Fprintln(os.Stderr, "Error: authorization failed; refresh the access token and rerun:", err)
		return exitUnauthorized
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitError
	}
}
