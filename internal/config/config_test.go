package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := Default()
	assert.Equal(t, "info", c.Log.Level)
	assert.True(t, c.Parse.CollectRepeated)
	assert.False(t, c.Parse.JSONLines)
	assert.False(t, c.Export.KeepDuplicates)
	assert.Equal(t, 512, c.Parse.MaxDepth)
	assert.Equal(t, int64(32<<20), c.Source.MaxBytes)
	assert.Equal(t, 30*time.Second, c.Source.Timeout)
	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "none", c.Metrics.Backend)
	assert.Equal(t, 512, c.Export.BatchSize)
	assert.NoError(t, c.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATAGRID_SERVER_ADDR", ":9090")
	t.Setenv("DATAGRID_SERVER_RATE_PER_MINUTE", "5")
	t.Setenv("DATAGRID_PARSE_COLLECT_REPEATED", "false")
	t.Setenv("DATAGRID_PARSE_JSON_LINES", "true")
	t.Setenv("DATAGRID_EXPORT_KEEP_DUPLICATES", "true")
	t.Setenv("DATAGRID_SOURCE_TIMEOUT", "2s")
	t.Setenv("DATAGRID_SOURCE_S3_ACCESS_KEY", "AK")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.Server.Addr)
	assert.Equal(t, 5, c.Server.RatePerMinute)
	assert.False(t, c.Parse.CollectRepeated)
	assert.True(t, c.Parse.JSONLines)
	assert.True(t, c.Export.KeepDuplicates)
	assert.Equal(t, 2*time.Second, c.Source.Timeout)
	assert.Equal(t, "AK", c.Source.S3.AccessKey)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "datagrid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
query:
  locale: de-DE
export:
  backend: postgres
  table: people
`), 0o600))
	t.Setenv("DATAGRID_EXPORT_TABLE", "override")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "de-DE", c.Query.Locale)
	assert.Equal(t, "postgres", c.Export.Backend)
	assert.Equal(t, "override", c.Export.Table)
	assert.Equal(t, "text", c.Log.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := Default()
	c.Source.MaxBytes = 0
	c.Metrics.Backend = "prometheus"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.max_bytes")
	assert.Contains(t, err.Error(), "metrics.backend")
}
