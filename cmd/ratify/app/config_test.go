package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/ratify/pkg/reconcile"
)

// isolate runs the test in an empty directory with an empty home so no
// stray .ratify.yaml or .env is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "ratify.db", cfg.Database)
	assert.Equal(t, reconcile.DefaultCommitTimeout, cfg.CommitTimeout)
	assert.True(t, cfg.Metrics)
	assert.Empty(t, cfg.LogLevel)
	assert.Equal(t, "auto", cfg.LogFormat)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/api/v1", cfg.Server.PathPrefix)
	assert.Empty(t, cfg.ConfigFile)
}

func TestLoadConfigFileAndEnvironment(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "ratify.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database: from-file.db
lock_timeout: 5s
server:
  port: 3000
  prefix: /v2
  rate_limit: 2.5
log:
  level: debug
`), 0o600))

	t.Setenv("RATIFY_DATABASE", "from-env.db")
	t.Setenv("RATIFY_SERVER_API_KEY", "secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, "from-env.db", cfg.Database)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/v2", cfg.Server.PathPrefix)
	assert.InDelta(t, 2.5, cfg.Server.RateLimit, 0.0001)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigDiscoversDotFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ratify.yaml"), []byte("database: ':memory:'\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("RATIFY_FORMAT=yaml\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("RATIFY_FORMAT") })

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":memory:", cfg.Database)
	assert.Equal(t, "yaml", cfg.Format)
}

func TestLoadConfigMissingFile(t *testing.T) {
	dir := isolate(t)
	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestUpdateFromFlags(t *testing.T) {
	cfg := &Config{Format: "table", Database: "ratify.db", LogLevel: "info"}
	cfg.UpdateFromFlags(true, false, true, "", "", "other.db")

	assert.True(t, cfg.Verbose)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "table", cfg.Format)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "other.db", cfg.Database)

	cfg.UpdateFromFlags(false, false, false, "json", "error", "")
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, "other.db", cfg.Database)
}
