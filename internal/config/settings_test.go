package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_Defaults(t *testing.T) {
	tmpDir := t.TempDir()

	s, err := LoadSettings(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, s.Host)
	assert.Equal(t, DefaultPort, s.Port)
	assert.Equal(t, tmpDir, s.DataDir)
	assert.Equal(t, filepath.Join(tmpDir, DatabaseFilename), s.DatabasePath())
}

func TestLoadSettings_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, SettingsFilename)
	require.NoError(t, os.WriteFile(path, []byte(`{"host":"0.0.0.0","port":8080}`), 0o644))

	s, err := LoadSettings(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", s.Host)
	assert.Equal(t, 8080, s.Port)
	assert.Equal(t, "http://0.0.0.0:8080", s.BaseURL())
}

func TestLoadSettings_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("AICODESWITCH_HOST", "10.0.0.1")
	t.Setenv("AICODESWITCH_PORT", "7001")

	s, err := LoadSettings(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", s.Host)
	assert.Equal(t, 7001, s.Port)
}

func TestLoadSettings_InvalidPort(t *testing.T) {
	t.Setenv("AICODESWITCH_PORT", "not-a-port")

	_, err := LoadSettings(t.TempDir())
	assert.Error(t, err)
}

func TestSaveSettings_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	s := Settings{Host: "127.0.0.1", Port: 9000, DataDir: tmpDir, LogLevel: "debug"}

	require.NoError(t, SaveSettings(s))

	loaded, err := LoadSettings(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
}
