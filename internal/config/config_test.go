package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-desktop/strategy-optimizer/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/ws", cfg.Server.WebSocketPath)
	assert.Equal(t, 5, cfg.Optimizer.GridSteps)
	assert.Equal(t, 100, cfg.Optimizer.MaxGridSteps)
	assert.Equal(t, 100, cfg.Optimizer.PersistLimit)
	assert.Equal(t, 20, cfg.Optimizer.ResponseLimit)
	assert.Equal(t, time.Hour, cfg.Evaluator.Interval)
	assert.Equal(t, 25, cfg.Evaluator.DefaultSampleSize)
	assert.Empty(t, cfg.Database.DSN)
	assert.Equal(t, "localhost:8080", cfg.Addr())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 9000
optimizer:
  grid_steps: 4
evaluator:
  interval: 30m
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("OPTIMIZER_DATABASE_DSN", "postgres://localhost/optimizer")
	t.Setenv("OPTIMIZER_SERVER_PORT", "9100")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Optimizer.GridSteps)
	assert.Equal(t, 30*time.Minute, cfg.Evaluator.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "postgres://localhost/optimizer", cfg.Database.DSN)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("optimizer:\n  grid_steps: 0\n"), 0o600))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsGridCeilingBelowDefaultSteps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("optimizer:\n  grid_steps: 8\n  max_grid_steps: 4\n"), 0o600))

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_grid_steps")
}
