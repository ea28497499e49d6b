package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Build.MaxAttempts)
	assert.Equal(t, "/opt/zephyr", cfg.Build.ZephyrBase)
	assert.Equal(t, 2, cfg.Jobs.Workers)
	assert.Equal(t, time.Hour, cfg.Jobs.MaxAge.Std())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Addr(), cfg.Server.Addr())
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
build:
  workspace_root: /var/lib/nabla
  max_attempts: 3
  attempt_timeout: 2m
jobs:
  workers: 4
  max_age: 30m
customer:
  name: acme-corp
  allowed_installation_ids: ["42", "43"]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/var/lib/nabla", cfg.Build.WorkspaceRoot)
	assert.Equal(t, 3, cfg.Build.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Build.AttemptTimeout.Std())
	assert.Equal(t, 4, cfg.Jobs.Workers)
	assert.Equal(t, 30*time.Minute, cfg.Jobs.MaxAge.Std())
	assert.Equal(t, "acme-corp", cfg.Customer.Name)
	assert.Equal(t, []string{"42", "43"}, cfg.Customer.AllowedInstallationIDs)
	// Untouched sections keep their defaults.
	assert.Equal(t, 100, cfg.Jobs.QueueSize)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	t.Setenv("NABLA_PORT", "7070")
	t.Setenv("NABLA_WORKERS", "8")
	t.Setenv("NABLA_ATTEMPT_TIMEOUT", "90s")
	t.Setenv("NABLA_ALLOWED_INSTALLATION_IDS", "10, 11,")
	t.Setenv("ZEPHYR_BASE", "/srv/zephyr")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Jobs.Workers)
	assert.Equal(t, 90*time.Second, cfg.Build.AttemptTimeout.Std())
	assert.Equal(t, []string{"10", "11"}, cfg.Customer.AllowedInstallationIDs)
	assert.Equal(t, "/srv/zephyr", cfg.Build.ZephyrBase)
}

func TestLoadExpandsEnvInYAML(t *testing.T) {
	t.Setenv("BUILD_ROOT", "/mnt/builds")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("build:\n  workspace_root: ${BUILD_ROOT}\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/builds", cfg.Build.WorkspaceRoot)
}

func TestValidateRejectsBadValues(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"zero port":       func(c *Config) { c.Server.Port = 0 },
		"port too large":  func(c *Config) { c.Server.Port = 70000 },
		"zero attempts":   func(c *Config) { c.Build.MaxAttempts = 0 },
		"zero workers":    func(c *Config) { c.Jobs.Workers = 0 },
		"zero queue":      func(c *Config) { c.Jobs.QueueSize = 0 },
		"empty workspace": func(c *Config) { c.Build.WorkspaceRoot = "" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationAcceptsStringsAndSeconds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jobs:\n  cleanup_interval: 300\n  max_age: 45m\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, cfg.Jobs.CleanupInterval.Std())
	assert.Equal(t, 45*time.Minute, cfg.Jobs.MaxAge.Std())
}

func TestDurationRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jobs:\n  max_age: soon\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
