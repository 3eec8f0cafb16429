package tune

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.MySQL.Addr = "" }},
		{"empty user", func(c *Config) { c.MySQL.User = "" }},
		{"zero top-n", func(c *Config) { c.Collect.TopN = 0 }},
		{"tiny digest text", func(c *Config) { c.Collect.MaxDigestText = 10 }},
		{"sub-second interval", func(c *Config) { c.Daemon.SampleInterval = Duration(100 * time.Millisecond) }},
		{"retention under interval", func(c *Config) { c.Daemon.Retention = Duration(time.Second); c.Daemon.SampleInterval = Duration(time.Minute) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tune.toml")
	content := `
[mysql]
addr = "db1.internal:3307"
user = "perf"
schema = "shop"

[collect]
top-n = 5

[daemon]
sample-interval = "30s"
retention = "2h"

[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "db1.internal:3307", cfg.MySQL.Addr)
	require.Equal(t, "perf", cfg.MySQL.User)
	require.Equal(t, 5, cfg.Collect.TopN)
	require.Equal(t, Duration(30*time.Second), cfg.Daemon.SampleInterval)
	require.Equal(t, "debug", cfg.Log.Level)
	// Untouched sections keep defaults.
	require.Equal(t, 1024, cfg.Collect.MaxDigestText)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/tune.toml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "/nonexistent/tune.toml")
}

func TestDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MySQL.Addr = "10.0.0.5:3306"
	cfg.MySQL.User = "perf"
	cfg.MySQL.Password = "secret"
	cfg.MySQL.Schema = "shop"

	dsn := cfg.DSN()
	require.Contains(t, dsn, "perf:secret@tcp(10.0.0.5:3306)/shop")
	require.Contains(t, dsn, "parseTime=true")
	require.Contains(t, dsn, "interpolateParams=true")
}
