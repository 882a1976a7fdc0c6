package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spmirror/spmirror/internal/catalog"
	"github.com/spmirror/spmirror/internal/config"
	"github.com/spmirror/spmirror/internal/graph"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"config error", fmt.Errorf("loading: %w", config.ErrConfig), exitConfigError},
		{"already running", fmt.Errorf("sync: %w", catalog.ErrAlreadyRunning), exitAlreadyRunning},
		{"auth failure", fmt.Errorf("run: %w", graph.ErrAuth), exitConnectionAuth},
		{"rejected token", fmt.Errorf("run: %w", graph.ErrUnauthorized), exitConnectionAuth},
		{"forbidden", fmt.Errorf("run: %w", graph.ErrForbidden), exitConnectionAuth},
		{"generic sync failure", errors.New("boom"), exitSyncFailed},
		{"server error", fmt.Errorf("run: %w", graph.ErrServerError), exitSyncFailed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCodeFor(tc.err))
		})
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0 B", formatSize(0))
	assert.Equal(t, "0 B", formatSize(-5))
	assert.NotEmpty(t, formatSize(1500))
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "-", formatTimestamp(""))
	assert.Equal(t, "garbage", formatTimestamp("garbage"))
	assert.NotEmpty(t, formatTimestamp("2024-06-01T12:00:00Z"))
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	cmd := newRootCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{"sync", "status", "list", "export", "verify", "reset-cursors", "test-connection"} {
		assert.True(t, names[want], "missing command %q", want)
	}
}
