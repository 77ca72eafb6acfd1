package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/logworker/internal/config"
	"github.com/telhawk-systems/logworker/internal/deadletter"
	"github.com/telhawk-systems/logworker/internal/logging"
)

func TestNewDeadLetterWriter(t *testing.T) {
	ctx := context.Background()
	logger := logging.Discard()

	w, check, closeFn, err := newDeadLetterWriter(ctx, config.DeadLetterConfig{Backend: "log"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &deadletter.LogWriter{}, w)
	assert.Nil(t, check, "local sinks add no readiness check")
	closeFn()

	w, check, closeFn, err = newDeadLetterWriter(ctx, config.DeadLetterConfig{Backend: "file", BasePath: t.TempDir()}, logger)
	require.NoError(t, err)
	assert.IsType(t, &deadletter.FileWriter{}, w)
	assert.Nil(t, check)
	closeFn()

	_, _, _, err = newDeadLetterWriter(ctx, config.DeadLetterConfig{Backend: "kafka"}, logger)
	assert.Error(t, err)
}

func TestRootCommandWiring(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
	assert.True(t, names["deadletter"])

	flag := serveCmd.Flags().Lookup("migrate")
	require.NotNil(t, flag)
	assert.Equal(t, "true", flag.DefValue)
}
