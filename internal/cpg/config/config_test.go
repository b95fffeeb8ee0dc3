package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etenlab/core/internal/cpg/cpgerr"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "cpg.db", cfg.DB.Path)
	assert.Equal(t, "sqlite3", cfg.DB.Driver)
	assert.Equal(t, ":8090", cfg.Server.Listen)
	assert.Equal(t, time.Minute, cfg.Daemon.Interval)
	assert.Equal(t, 8080, cfg.Dashboard.Port)
	assert.Equal(t, "cpg.db.state", cfg.State.Dir)
}

func TestLoad_StateDirFollowsDB(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	v := NewViper("")
	v.Set("db.path", "/var/lib/cpg/other.db")
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/cpg/other.db.state", cfg.State.Dir)

	v = NewViper("")
	v.Set("db.path", "/var/lib/cpg/other.db")
	v.Set("state.dir", StateMemory)
	cfg, err = Load(v)
	require.NoError(t, err)
	assert.Equal(t, StateMemory, cfg.State.Dir)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(NewViper(""))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(Default(), cfg))
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(NewViper(filepath.Join(t.TempDir(), "absent.toml")))
	assert.Error(t, err)
}

func TestLoad_TOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpg.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[db]
path = "/var/lib/cpg/graph.db"
driver = "SQLite"

[server]
url = "https://sync.example.org"

[daemon]
interval = "30s"
inbox = "/var/lib/cpg/inbox"
`), 0o644))

	cfg, err := Load(NewViper(path))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/cpg/graph.db", cfg.DB.Path)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "https://sync.example.org", cfg.Server.URL)
	assert.Equal(t, 30*time.Second, cfg.Daemon.Interval)
	assert.Equal(t, "/var/lib/cpg/inbox", cfg.Daemon.Inbox)
	assert.Equal(t, 200*time.Millisecond, cfg.Daemon.Debounce)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\ndashboard:\n  port: 9000\n"), 0o644))

	cfg, err := Load(NewViper(path))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9000, cfg.Dashboard.Port)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CPG_DB_PATH", "/tmp/env.db")
	t.Setenv("CPG_SERVER_RATE_LIMIT", "2.5")
	t.Setenv("CPG_DAEMON_INTERVAL", "5s")

	cfg, err := Load(NewViper(""))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.DB.Path)
	assert.Equal(t, 2.5, cfg.Server.RateLimit)
	assert.Equal(t, 5*time.Second, cfg.Daemon.Interval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.DB.Driver = "postgres" }},
		{"empty path", func(c *Config) { c.DB.Path = " " }},
		{"bad url scheme", func(c *Config) { c.Server.URL = "ftp://peer" }},
		{"url without host", func(c *Config) { c.Server.URL = "http://" }},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }},
		{"negative burst", func(c *Config) { c.Server.Burst = -1 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"negative interval", func(c *Config) { c.Daemon.Interval = -time.Second }},
		{"port out of range", func(c *Config) { c.Dashboard.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, cpgerr.IsValidation(err))
		})
	}
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpg.toml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(NewViper(path))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(Default(), cfg))

	err = WriteDefault(path)
	require.Error(t, err)
	assert.True(t, cpgerr.IsAlreadyExists(err))
}

func TestYAML(t *testing.T) {
	data, err := Default().YAML()
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "driver: sqlite3")
	assert.Contains(t, out, "rate_limit: 50")
	assert.Contains(t, out, "interval: 1m0s")
}
