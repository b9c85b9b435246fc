package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cgiserve.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	cfg.Root = t.TempDir()
	require.NoError(t, cfg.Validate())

	assert.True(t, filepath.IsAbs(cfg.Root))
	assert.Equal(t, filepath.Join(cfg.Root, "scripts"), cfg.ScriptsDir())
	assert.Equal(t, 64<<10, cfg.RequestLimits().MaxHeaderBytes)
	assert.Equal(t, int64(10<<20), cfg.RequestLimits().MaxBodyBytes)
}

func TestLoadFile(t *testing.T) {
	root := t.TempDir()
	p := writeFile(t, `
port: 9090
root: `+root+`
read_timeout: 5s
script_timeout: 1m30s
max_connections: 8
inherit_env: [PATH, LANG]
log_level: debug
`)

	cfg, err := LoadFile(p)
	require.NoError(t, err)

	assert.Equal(t, uint16(9090), cfg.Port)
	assert.Equal(t, root, cfg.Root)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 90*time.Second, cfg.ScriptTimeout)
	assert.Equal(t, int64(8), cfg.MaxConnections)
	assert.Equal(t, []string{"PATH", "LANG"}, cfg.InheritEnv)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Untouched keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, int64(64<<20), cfg.CacheMaxBytes)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileEmpty(t *testing.T) {
	cfg, err := LoadFile(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	_, err := LoadFile(writeFile(t, "prot: 80\n"))
	assert.Error(t, err)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateErrors(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing root", func(c *Config) { c.Root = filepath.Join(root, "missing") }},
		{"root is a file", func(c *Config) { c.Root = file }},
		{"read timeout", func(c *Config) { c.ReadTimeout = 0 }},
		{"script timeout", func(c *Config) { c.ScriptTimeout = -time.Second }},
		{"header limit", func(c *Config) { c.MaxHeaderBytes = 0 }},
		{"body limit", func(c *Config) { c.MaxBodyBytes = -1 }},
		{"connections", func(c *Config) { c.MaxConnections = 0 }},
		{"cache", func(c *Config) { c.CacheMaxBytes = -1 }},
		{"log level", func(c *Config) { c.LogLevel = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Root = root
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateCanonicalizesSymlinkedRoot(t *testing.T) {
	base := t.TempDir()
	real := filepath.Join(base, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	link := filepath.Join(base, "link")
	require.NoError(t, os.Symlink(real, link))

	cfg := Default()
	cfg.Root = link
	require.NoError(t, cfg.Validate())

	want, err := filepath.EvalSymlinks(real)
	require.NoError(t, err)
	assert.Equal(t, want, cfg.Root)
}
