// Package config loads and validates pool configuration from a YAML file,
// following the same read-unmarshal-validate-default shape the rest of the
// corpus uses for its own configuration loaders.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of configuration a pool recognises. Duration-ish
// fields are stored in their natural YAML unit (seconds, minutes) and
// exposed as time.Duration via helper methods, mirroring how the reference
// config layer keeps on-disk units human-friendly while giving callers
// typed durations.
type Config struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	MinConnections int `yaml:"min_connections"`
	MaxConnections int `yaml:"max_connections"`
	WarningSize    int `yaml:"warning_size"`

	WaitTimeoutMillis int64 `yaml:"wait_timeout_millis"`

	MaxInactiveTimeSecs int64 `yaml:"max_inactive_time_secs"`
	MaxAgeMinutes       int64 `yaml:"max_age_minutes"`
	TrimPoolFreqSecs    int64 `yaml:"trim_pool_freq_secs"`

	HeartbeatFreqSecs       int64  `yaml:"heartbeat_freq_secs"`
	HeartbeatTimeoutSeconds int64  `yaml:"heartbeat_timeout_seconds"`
	HeartbeatSQL            string `yaml:"heartbeat_sql"`

	LeakTimeMinutes int64 `yaml:"leak_time_minutes"`

	CaptureStackTrace bool `yaml:"capture_stack_trace"`
	MaxStackTraceSize int  `yaml:"max_stack_trace_size"`

	IsolationLevel string `yaml:"isolation_level"`
	AutoCommit     bool   `yaml:"auto_commit"`

	PstmtCacheSize int `yaml:"pstmt_cache_size"`

	ConnectionTimeoutSecs int64             `yaml:"connection_timeout_secs"`
	CustomProperties      map[string]string `yaml:"custom_properties"`
}

// fileConfig mirrors the top-level YAML structure: a single "pool" key,
// so a deployment can carry other top-level sections (logging, metrics
// server port, ...) in the same file without colliding with pool fields.
type fileConfig struct {
	Pool Config `yaml:"pool"`
}

// Load reads, parses, validates, and defaults a pool configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pool config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing pool config %s: %w", path, err)
	}

	cfg := fc.Pool
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	cfg.ApplyDefaults()

	return &cfg, nil
}

// Validate checks the mandatory fields required at construction. A
// failure here is the ConfigInvalid error kind — fatal, raised before
// the pool exists.
func (c *Config) Validate() error {
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("username and password are both required")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections is required and must be positive")
	}
	if c.MinConnections < 0 {
		return fmt.Errorf("min_connections must not be negative")
	}
	if c.MinConnections > c.MaxConnections {
		return fmt.Errorf("min_connections (%d) exceeds max_connections (%d)", c.MinConnections, c.MaxConnections)
	}
	if c.WarningSize != 0 && c.WarningSize > c.MaxConnections {
		return fmt.Errorf("warning_size (%d) exceeds max_connections (%d)", c.WarningSize, c.MaxConnections)
	}
	return nil
}

// ApplyDefaults fills in reasonable defaults for unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.WarningSize == 0 {
		c.WarningSize = c.MaxConnections
	}
	if c.WaitTimeoutMillis == 0 {
		c.WaitTimeoutMillis = 30_000
	}
	if c.TrimPoolFreqSecs == 0 {
		c.TrimPoolFreqSecs = 60
	}
	if c.HeartbeatTimeoutSeconds == 0 {
		c.HeartbeatTimeoutSeconds = 5
	}
	if c.ConnectionTimeoutSecs == 0 {
		c.ConnectionTimeoutSecs = 30
	}
	if c.MaxStackTraceSize == 0 {
		c.MaxStackTraceSize = 5
	}
	if c.Name == "" {
		c.Name = "pool"
	}
}

// WaitTimeout is the borrow deadline as a time.Duration.
func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutMillis) * time.Millisecond
}

// MaxInactiveMillis is the idle-trim threshold in milliseconds.
func (c *Config) MaxInactiveMillis() int64 {
	return c.MaxInactiveTimeSecs * 1000
}

// MaxAgeMillis is the age-trim threshold in milliseconds. Zero disables age trim.
func (c *Config) MaxAgeMillis() int64 {
	return c.MaxAgeMinutes * 60 * 1000
}

// TrimPoolFreqMillis gates how often trim may run.
func (c *Config) TrimPoolFreqMillis() int64 {
	return c.TrimPoolFreqSecs * 1000
}

// HeartbeatFreq is the health-monitor tick interval. Zero disables the monitor.
func (c *Config) HeartbeatFreq() time.Duration {
	return time.Duration(c.HeartbeatFreqSecs) * time.Second
}

// HeartbeatTimeout bounds a single liveness probe.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSeconds) * time.Second
}

// LeakTime is the busy-session age past which reset() reclaims it.
func (c *Config) LeakTime() time.Duration {
	return time.Duration(c.LeakTimeMinutes) * time.Minute
}

// ConnectionTimeout bounds a single session-creation call.
func (c *Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutSecs) * time.Second
}
