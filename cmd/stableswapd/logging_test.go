package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/defistate/defistate-stableswap-go/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	_, _, err := newLogger(config.Daemon{LogLevel: "loud"})
	require.Error(t, err)

	logger, closer, err := newLogger(config.Daemon{LogLevel: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
	require.NoError(t, closer.Close())

	path := filepath.Join(t.TempDir(), "stableswapd.log")
	logger, closer, err = newLogger(config.Daemon{LogLevel: "debug", LogFile: path, LogMaxSizeMB: 1})
	require.NoError(t, err)
	logger.Debug("rotated", "pool", 1)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"rotated"`)
}
