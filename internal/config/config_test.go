// ABOUTME: Tests for configuration loading, env expansion, and validation
// ABOUTME: Covers YAML parsing, duration conversion, and required-field checks

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
	path := filepath.Join(t.TempDir(), "warrant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Full(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/warrant/warrant.db
logging:
  level: debug
  format: json
capability:
  token_ttl: 5m
  signing_secret: s3cret
audit:
  strict_append: true
metrics:
  enabled: true
  path: /metrics
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/warrant/warrant.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 5*time.Minute, cfg.Capability.TokenTTL)
	assert.Equal(t, "s3cret", cfg.Capability.SigningSecret)
	assert.True(t, cfg.Audit.StrictAppend)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("WARRANT_TEST_DB", "/tmp/expanded.db")
	t.Setenv("WARRANT_TEST_SECRET", "from-env")

	path := writeConfig(t, `
database:
  path: ${WARRANT_TEST_DB}
capability:
  signing_secret: ${WARRANT_TEST_SECRET}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/expanded.db", cfg.Database.Path)
	assert.Equal(t, "from-env", cfg.Capability.SigningSecret)
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	path := writeConfig(t, `
database:
  path: ${WARRANT_DEFINITELY_UNSET_VAR}
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path is required")
}

func TestLoad_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path is required")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/warrant.db
capability:
  token_ttl: not-a-duration
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_ttl")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}
