package tune

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-sql-driver/mysql"
	"github.com/pingcap/errors"
)

// Duration wraps time.Duration so TOML values like "30s" decode.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Annotatef(err, "parse duration %q", text)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MySQLConfig holds connection settings for the target server.
type MySQLConfig struct {
	Addr        string   `toml:"addr"`
	User        string   `toml:"user"`
	Password    string   `toml:"password"`
	Schema      string   `toml:"schema"`
	DialTimeout Duration `toml:"dial-timeout"`
	ReadTimeout Duration `toml:"read-timeout"`
}

// CollectConfig bounds what the collectors pull from the server.
type CollectConfig struct {
	TopN          int      `toml:"top-n"`
	MinLatency    Duration `toml:"min-latency"`
	MaxDigestText int      `toml:"max-digest-text"`
}

// AdvisorConfig holds the thresholds the heuristic rules fire on.
type AdvisorConfig struct {
	ExaminedRatio    float64 `toml:"examined-ratio"`
	FullScanCalls    uint64  `toml:"full-scan-calls"`
	TmpDiskRatio     float64 `toml:"tmp-disk-ratio"`
	BufferPoolHitPct float64 `toml:"buffer-pool-hit-pct"`
	LargeTableRows   uint64  `toml:"large-table-rows"`
}

// DaemonConfig holds settings for the sampling daemon.
type DaemonConfig struct {
	ListenAddr     string   `toml:"listen-addr"`
	SampleInterval Duration `toml:"sample-interval"`
	Retention      Duration `toml:"retention"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Config is the top-level configuration for the engine.
type Config struct {
	MySQL   MySQLConfig   `toml:"mysql"`
	Collect CollectConfig `toml:"collect"`
	Advisor AdvisorConfig `toml:"advisor"`
	Daemon  DaemonConfig  `toml:"daemon"`
	Log     LogConfig     `toml:"log"`
}

// DefaultConfig returns a configuration with working defaults for a local
// MySQL server.
func DefaultConfig() *Config {
	return &Config{
		MySQL: MySQLConfig{
			Addr:        "127.0.0.1:3306",
			User:        "root",
			DialTimeout: Duration(5 * time.Second),
			ReadTimeout: Duration(30 * time.Second),
		},
		Collect: CollectConfig{
			TopN:          20,
			MinLatency:    0,
			MaxDigestText: 1024,
		},
		Advisor: AdvisorConfig{
			ExaminedRatio:    100,
			FullScanCalls:    100,
			TmpDiskRatio:     0.1,
			BufferPoolHitPct: 99,
			LargeTableRows:   10000,
		},
		Daemon: DaemonConfig{
			ListenAddr:     "127.0.0.1:8125",
			SampleInterval: Duration(time.Minute),
			Retention:      Duration(24 * time.Hour),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads a TOML configuration file and merges it over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "read config %s", path)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Annotatef(err, "decode config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (cfg *Config) Validate() error {
	if cfg.MySQL.Addr == "" {
		return errors.New("mysql.addr must not be empty")
	}
	if cfg.MySQL.User == "" {
		return errors.New("mysql.user must not be empty")
	}
	if cfg.Collect.TopN <= 0 {
		return errors.Errorf("collect.top-n must be positive, got %d", cfg.Collect.TopN)
	}
	if cfg.Collect.MaxDigestText < 64 {
		return errors.Errorf("collect.max-digest-text must be at least 64, got %d", cfg.Collect.MaxDigestText)
	}
	if time.Duration(cfg.Daemon.SampleInterval) < time.Second {
		return errors.Errorf("daemon.sample-interval must be at least 1s, got %s", cfg.Daemon.SampleInterval)
	}
	if cfg.Daemon.Retention < cfg.Daemon.SampleInterval {
		return errors.New("daemon.retention must not be shorter than daemon.sample-interval")
	}
	return nil
}

// DSN builds the go-sql-driver DSN for the configured server.
func (cfg *Config) DSN() string {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = cfg.MySQL.Addr
	mc.User = cfg.MySQL.User
	mc.Passwd = cfg.MySQL.Password
	mc.DBName = cfg.MySQL.Schema
	mc.Timeout = time.Duration(cfg.MySQL.DialTimeout)
	mc.ReadTimeout = time.Duration(cfg.MySQL.ReadTimeout)
	mc.ParseTime = true
	// Client-side interpolation keeps the tool's own statements out of the
	// server's prepared-statement instrumentation.
	mc.InterpolateParams = true
	return mc.FormatDSN()
}
