package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, c.IndexIdleTimeout())
	assert.Equal(t, 5*time.Minute, c.GraphGCTimeout())
	assert.Equal(t, 10*time.Second, c.AwaitTxIDTimeout())
	assert.Equal(t, "", c.DefaultStringLocale())
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relayctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
index:
  idle-timeout: 1m
orderby:
  default-locale: de
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, c.IndexIdleTimeout())
	assert.Equal(t, "de", c.DefaultStringLocale())
	// unset keys still fall back to defaults
	assert.Equal(t, 5*time.Minute, c.GraphGCTimeout())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, c.AwaitTxIDTimeout())
}
