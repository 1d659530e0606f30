package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, yamlContent string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
pool:
  name: primary
  host: db.internal
  port: 1433
  database: orders
  username: svc
  password: secret
  max_connections: 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.WarningSize)
	assert.Equal(t, int64(30_000), cfg.WaitTimeoutMillis)
	assert.Equal(t, int64(60), cfg.TrimPoolFreqSecs)
	assert.Equal(t, int64(5), cfg.HeartbeatTimeoutSeconds)
	assert.Equal(t, 5, cfg.MaxStackTraceSize)
	assert.Equal(t, 30*time.Second, cfg.ConnectionTimeout())
}

func TestLoad_RejectsMissingCredentials(t *testing.T) {
	path := writeConfigFile(t, `
pool:
  name: primary
  max_connections: 10
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate_MinExceedsMax(t *testing.T) {
	cfg := Config{Username: "u", Password: "p", MinConnections: 5, MaxConnections: 2}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_WarningSizeExceedsMax(t *testing.T) {
	cfg := Config{Username: "u", Password: "p", MaxConnections: 10, WarningSize: 20}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_ZeroWarningSizeIsFine(t *testing.T) {
	cfg := Config{Username: "u", Password: "p", MaxConnections: 10}
	require.NoError(t, cfg.Validate())
}

func TestDurationHelpers(t *testing.T) {
	cfg := Config{
		MaxInactiveTimeSecs:     30,
		MaxAgeMinutes:           10,
		TrimPoolFreqSecs:        60,
		HeartbeatFreqSecs:       15,
		HeartbeatTimeoutSeconds: 5,
		LeakTimeMinutes:         3,
		ConnectionTimeoutSecs:   7,
		WaitTimeoutMillis:       2500,
	}

	assert.Equal(t, int64(30_000), cfg.MaxInactiveMillis())
	assert.Equal(t, int64(600_000), cfg.MaxAgeMillis())
	assert.Equal(t, int64(60_000), cfg.TrimPoolFreqMillis())
	assert.Equal(t, 15*time.Second, cfg.HeartbeatFreq())
	assert.Equal(t, 5*time.Second, cfg.HeartbeatTimeout())
	assert.Equal(t, 3*time.Minute, cfg.LeakTime())
	assert.Equal(t, 7*time.Second, cfg.ConnectionTimeout())
	assert.Equal(t, 2500*time.Millisecond, cfg.WaitTimeout())
}
