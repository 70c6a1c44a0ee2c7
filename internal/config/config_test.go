package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowaudit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")

	cfg, used, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, used)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9090"
db_path: /var/lib/flowaudit.db
ruleset_dirs: [rulesets, /abs/rulesets]
log_level: debug
low_match_rate: 0.75
`)

	cfg, used, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/flowaudit.db", cfg.DBPath)
	assert.Equal(t, []string{filepath.Join(filepath.Dir(path), "rulesets"), "/abs/rulesets"}, cfg.RulesetDirs)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0.75, cfg.LowMatchRate)
	assert.Equal(t, "text", cfg.LogFormat, "unset keys keep defaults")
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
}

func TestLoad_EnvConfigPath(t *testing.T) {
	path := writeConfig(t, "listen_addr: \":7070\"\n")
	t.Setenv(EnvConfigPath, path)

	cfg, used, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, ":7070", cfg.ListenAddr)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "listen_addr: \":9090\"\nread_timeout_seconds: 5\n")
	t.Setenv("FLOWAUDIT_LISTEN_ADDR", ":1234")
	t.Setenv("FLOWAUDIT_READ_TIMEOUT_SECONDS", "42")
	t.Setenv("FLOWAUDIT_LOG_FORMAT", "json")

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":1234", cfg.ListenAddr)
	assert.Equal(t, 42, cfg.ReadTimeoutSeconds)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_UnknownKeyFails(t *testing.T) {
	path := writeConfig(t, "listen_adr: \":9090\"\n")

	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen_adr")
}

func TestLoad_MalformedFails(t *testing.T) {
	path := writeConfig(t, "listen_addr: [\n")

	_, _, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, used, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, Default().ListenAddr, cfg.ListenAddr)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("FLOWAUDIT_MAX_UPLOAD_BYTES", "lots")

	_, _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLOWAUDIT_MAX_UPLOAD_BYTES")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "loud"
	cfg.LowMatchRate = 2
	cfg.MaxUploadBytes = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "low_match_rate")
	assert.Contains(t, err.Error(), "max_upload_bytes")
}

func TestTimeouts(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "15s", cfg.ReadTimeout().String())
	assert.Equal(t, "30s", cfg.WriteTimeout().String())
}
