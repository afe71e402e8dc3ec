package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "plain", cfg.Output.Format)
	assert.True(t, cfg.Watch.ShowSeq)
}

func TestLoadConfig_DefaultsWhenNoFile(t *testing.T) {
	// Use a path that doesn't exist
	cfg, err := LoadConfig("/nonexistent/path/kcbridge.toml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Output.Format, cfg.Output.Format)
}

func TestLoadConfig_ParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kcbridge.toml")

	content := `
[output]
format = "json"

[watch]
show_seq = false
`
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Output.Format)
	assert.False(t, cfg.Watch.ShowSeq)
}

func TestLoadConfig_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kcbridge.toml")

	content := `this is not valid toml [`
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)

	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestConfig_Save(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdir", "kcbridge.toml")

	cfg := DefaultConfig()
	cfg.Output.Format = "yaml"

	err := cfg.Save(path)
	require.NoError(t, err)

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "yaml", loaded.Output.Format)
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/kcbridge/kcbridge.toml", ConfigPath())
}

func TestDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	assert.Equal(t, "/custom/data/kcbridge", DataPath())
}

func TestBackupPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	assert.Equal(t, "/custom/data/kcbridge/suppression-backup.json", BackupPath())
}

func TestEnsureDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	err := EnsureDataDir()
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "kcbridge"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDefaultDaemonConfig(t *testing.T) {
	cfg := DefaultDaemonConfig()

	assert.Equal(t, 5*time.Second, cfg.Bus.CallTimeout.Duration())
	assert.Equal(t, 500*time.Millisecond, cfg.Bus.RetryInitial.Duration())
	assert.Equal(t, 10*time.Second, cfg.Bus.RetryMax.Duration())
	assert.Equal(t, 5, cfg.Bus.RetryAttempts)
	assert.Equal(t, 30*time.Second, cfg.Bus.ReconnectMax.Duration())
	assert.Equal(t, 3*time.Second, cfg.Bus.PollInterval.Duration())
	assert.Equal(t, 30*time.Second, cfg.Pairing.Timeout.Duration())
	assert.Equal(t, string(TieBreakInbound), cfg.Pairing.TieBreak)
	assert.Equal(t, 2*time.Minute, cfg.Registry.UnreachableAfter.Duration())
	assert.True(t, cfg.Suppression.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)

	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.InboundWins())
}

func TestLoadDaemonConfig_ParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kcbridged.toml")

	content := `
[bus]
call_timeout = "2s"
retry_attempts = 3
poll_interval = 1500

[pairing]
timeout = "45s"
tie_break = "outbound"

[registry]
unreachable_after = "5m"

[suppression]
enabled = false

[log]
level = "debug"
`
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadDaemonConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Bus.CallTimeout.Duration())
	assert.Equal(t, 3, cfg.Bus.RetryAttempts)
	// Integer values are milliseconds
	assert.Equal(t, 1500*time.Millisecond, cfg.Bus.PollInterval.Duration())
	assert.Equal(t, 45*time.Second, cfg.Pairing.Timeout.Duration())
	assert.False(t, cfg.InboundWins())
	assert.Equal(t, 5*time.Minute, cfg.Registry.UnreachableAfter.Duration())
	assert.False(t, cfg.Suppression.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Unset sections keep defaults
	assert.Equal(t, 500*time.Millisecond, cfg.Bus.RetryInitial.Duration())
}

func TestLoadDaemonConfig_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := LoadDaemonConfig("/nonexistent/path/kcbridged.toml")
	require.NoError(t, err)
	assert.Equal(t, DefaultDaemonConfig().Pairing.Timeout, cfg.Pairing.Timeout)
}

func TestDaemonConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DaemonConfig)
	}{
		{"bad tie break", func(c *DaemonConfig) { c.Pairing.TieBreak = "coinflip" }},
		{"bad log level", func(c *DaemonConfig) { c.Log.Level = "trace" }},
		{"zero pairing timeout", func(c *DaemonConfig) { c.Pairing.Timeout = 0 }},
		{"zero call timeout", func(c *DaemonConfig) { c.Bus.CallTimeout = 0 }},
		{"too many attempts", func(c *DaemonConfig) { c.Bus.RetryAttempts = 50 }},
		{"retry max below initial", func(c *DaemonConfig) { c.Bus.RetryMax = Duration(100 * time.Millisecond) }},
		{"poll too fast", func(c *DaemonConfig) { c.Bus.PollInterval = Duration(10 * time.Millisecond) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultDaemonConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveDaemonConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "kcbridged.toml")

	cfg := DefaultDaemonConfig()
	cfg.Pairing.Timeout = Duration(time.Minute)

	err := SaveDaemonConfig(cfg, path)
	require.NoError(t, err)

	// No temp file left behind
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	loaded, err := LoadDaemonConfig(path)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, loaded.Pairing.Timeout.Duration())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration

	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.NoError(t, d.UnmarshalText([]byte("250")))
	assert.Equal(t, 250*time.Millisecond, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
