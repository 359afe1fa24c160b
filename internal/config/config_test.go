package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Monitor.Default())
	assert.Equal(t, 30*time.Minute, cfg.Monitor.Max())
	assert.Equal(t, 3, cfg.Health.ErrorThreshold)
	assert.Equal(t, 2, cfg.Health.NetworkErrorThreshold)
	assert.Equal(t, 120*time.Second, cfg.Recovery.Timeout())
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := Default()
	cfg.Monitor.DefaultSeconds = 45
	cfg.Providers = map[string][]string{
		"claude": {"anthropic", "bedrock"},
	}

	require.NoError(t, Save(dir, cfg))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 45, loaded.Monitor.DefaultSeconds)
	assert.Equal(t, []string{"anthropic", "bedrock"}, loaded.Priority("claude"))
	assert.Nil(t, loaded.Priority("codex"))
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	data := "[monitor]\nburst_seconds = 5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(data), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Monitor.Burst())
	// Untouched fields keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Monitor.Default())
	assert.Equal(t, 3, cfg.Monitor.BurstCount)
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("not toml ["), 0644))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestValidate_RejectsNonPositiveIntervals(t *testing.T) {
	cfg := Default()
	cfg.Monitor.DefaultSeconds = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Monitor.MaxMinutes = -1
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsDuplicateProviders(t *testing.T) {
	cfg := Default()
	cfg.Providers = map[string][]string{
		"claude": {"anthropic", "bedrock", "anthropic"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate provider")
}

func TestSave_Atomic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(dir, Default()))

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, FileName, entries[0].Name())
}
