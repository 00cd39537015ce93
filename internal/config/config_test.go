package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Addr)
	assert.Equal(t, 10, cfg.MaxAgents)
	assert.Equal(t, 1800, cfg.AgentTimeout)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 3, cfg.RetryDelay)
	assert.Equal(t, 300, cfg.QuestionTimeout)
	assert.Equal(t, 600, cfg.PlanTimeout)
	assert.Equal(t, 15, cfg.WatchdogInterval)
	assert.Equal(t, 3600, cfg.HousekeepInterval)
	assert.Equal(t, 86400, cfg.EventRetention)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 10, cfg.Cache.MaxClients)
	assert.Equal(t, 300, cfg.Cache.TTLSeconds)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MAINTHREAD_MAX_AGENTS", "3")
	t.Setenv("MAINTHREAD_AGENT_TIMEOUT", "60")
	t.Setenv("CORS_ORIGINS", "http://localhost:3000, https://app.example.com")
	t.Setenv("DATABASE_PATH", "/data/custom.db")
	t.Setenv("CACHE_ENABLED", "false")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxAgents)
	assert.Equal(t, 60, cfg.AgentTimeout)
	assert.Equal(t, []string{"http://localhost:3000", "https://app.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, "/data/custom.db", cfg.DBPath())
	assert.False(t, cfg.Cache.Enabled)
}

func TestLoad_UnrelatedEnvIgnored(t *testing.T) {
	t.Setenv("PATH_MAX_AGENTS", "99")
	t.Setenv("MAX_AGENTS", "99")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.MaxAgents)
}

func TestLoad_FileAndFlagPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":9999\"\nmax_agents: 5\n"), 0o644))

	flags := &Config{File: path}
	cfg, err := Load(flags)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, 5, cfg.MaxAgents)

	// A set flag beats the file.
	flags = &Config{File: path, Addr: ":7777"}
	cfg, err = Load(flags)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Addr)
	assert.Equal(t, 5, cfg.MaxAgents)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_agents: 5\n"), 0o644))
	t.Setenv("MAINTHREAD_MAX_AGENTS", "7")

	cfg, err := Load(&Config{File: path})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxAgents)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	cfg := &Config{Addr: ":8000", DataDir: filepath.Join(dir, "data"), MaxAgents: 10, AgentTimeout: 1800}
	require.NoError(t, cfg.Validate())

	info, err := os.Stat(cfg.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.Error(t, (&Config{DataDir: dir, MaxAgents: 1, AgentTimeout: 1}).Validate())
	assert.Error(t, (&Config{Addr: ":1", DataDir: dir, MaxAgents: 0, AgentTimeout: 1}).Validate())
	assert.Error(t, (&Config{Addr: ":1", DataDir: dir, MaxAgents: 1, AgentTimeout: 0}).Validate())
	assert.Error(t, (&Config{Addr: ":1", DataDir: dir, MaxAgents: 1, AgentTimeout: 1, MaxRetries: -1}).Validate())
}

func TestDBPath_Default(t *testing.T) {
	cfg := &Config{DataDir: "/data/mainthread"}
	assert.Equal(t, "/data/mainthread/mainthread.db", cfg.DBPath())
}
