package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  host: localhost
  name: sentinel
  user: sentinel
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, time.Minute, cfg.Collector.PollInterval)
	assert.Equal(t, 30, cfg.Collector.BackfillDays)
	assert.Equal(t, 100, cfg.Collector.BatchLimit)
	assert.Equal(t, 10, cfg.Collector.SweepBatchSize)
	assert.Equal(t, 0.80, cfg.Matcher.MatchThreshold)
	assert.Equal(t, 0.05, cfg.Matcher.AmbiguityMargin)
	assert.Equal(t, 5*time.Minute, cfg.Intel.RunInterval)
	assert.Equal(t, 500, cfg.Intel.PageSize)
	assert.Equal(t, "sentinel:intel:leader", cfg.Intel.LockKey)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadParsesSites(t *testing.T) {
	path := writeConfig(t, `
collector:
  poll_interval: 30s
  backfill_days: 7
  sites:
    - id: hq
      name: Headquarters
      api_base: https://hq.cameras.example.com/api
    - id: warehouse
      name: Warehouse
      api_base: https://wh.cameras.example.com/api
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Collector.PollInterval)
	assert.Equal(t, 7, cfg.Collector.BackfillDays)
	require.Len(t, cfg.Collector.Sites, 2)
	assert.Equal(t, "hq", cfg.Collector.Sites[0].ID)
	assert.Equal(t, "https://wh.cameras.example.com/api", cfg.Collector.Sites[1].APIBase)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_DB_HOST", "db.internal")
	t.Setenv("SENTINEL_DB_PASSWORD", "supersecret")
	t.Setenv("SENTINEL_API_KEY", "env-key")
	t.Setenv("SENTINEL_HUB_BASE_URL", "http://hub.internal:8080")

	path := writeConfig(t, `
server:
  api_key: file-key
database:
  host: localhost
  name: sentinel
  user: sentinel
  password: filepass
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "supersecret", cfg.Database.Password)
	assert.Equal(t, "env-key", cfg.Server.APIKey)
	assert.Equal(t, "http://hub.internal:8080", cfg.Hub.BaseURL)
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "localhost", Port: 5432, Name: "sentinel", User: "app", Password: "pw"}
	assert.Equal(t, "postgres://app:pw@localhost:5432/sentinel?sslmode=disable", d.DSN())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
