package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spmirror/spmirror/internal/catalog"
	"github.com/spmirror/spmirror/internal/config"
	"github.com/spmirror/spmirror/internal/graph"
)

// Exit codes. Scripts drive spmirror, so failures are classified rather
// than collapsed into a single non-zero.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitConnectionAuth = 2
	exitSyncFailed     = 3
	exitAlreadyRunning = 4
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to the documented exit code.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, config.ErrConfig):
		return exitConfigError
	case errors.Is(err, catalog.ErrAlreadyRunning):
		return exitAlreadyRunning
	case errors.Is(err, graph.ErrAuth), errors.Is(err, graph.ErrUnauthorized), errors.Is(err, graph.ErrForbidden):
		return exitConnectionAuth
	default:
		return exitSyncFailed
	}
}
