package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 9527

	SettingsFilename = "settings.json"
	DatabaseFilename = "aicodeswitch.db"
)

// Settings is the process configuration: where the server listens and where
// its data lives. Routing entities live in the store, not here.
type Settings struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	DataDir  string `json:"dataDir,omitempty"`
	LogLevel string `json:"logLevel,omitempty"`
}

func (s Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BaseURL is the root clients are pointed at; client surfaces hang off it.
func (s Settings) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

func (s Settings) DatabasePath() string {
	return filepath.Join(s.DataDir, DatabaseFilename)
}

func (s Settings) settingsPath() string {
	return filepath.Join(s.DataDir, SettingsFilename)
}

// LoadSettings reads settings.json under baseDir, applies .env and
// AICODESWITCH_* environment overrides, and fills defaults. A missing
// settings file is not an error.
func LoadSettings(baseDir string) (Settings, error) {
	s := Settings{DataDir: baseDir}

	data, err := os.ReadFile(s.settingsPath())
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("unmarshal settings: %w", err)
		}
	case !os.IsNotExist(err):
		return s, fmt.Errorf("read settings file: %w", err)
	}

	// .env values do not override variables already set in the environment.
	_ = godotenv.Load(filepath.Join(baseDir, ".env"))

	if v := os.Getenv("AICODESWITCH_HOST"); v != "" {
		s.Host = v
	}

	if v := os.Getenv("AICODESWITCH_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return s, fmt.Errorf("invalid AICODESWITCH_PORT %q: %w", v, err)
		}

		s.Port = port
	}

	if v := os.Getenv("AICODESWITCH_DATA_DIR"); v != "" {
		s.DataDir = v
	}

	if v := os.Getenv("AICODESWITCH_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}

	if s.Host == "" {
		s.Host = DefaultHost
	}

	if s.Port == 0 {
		s.Port = DefaultPort
	}

	if s.DataDir == "" {
		s.DataDir = baseDir
	}

	return s, nil
}

// SaveSettings writes the settings file under its data dir.
func SaveSettings(s Settings) error {
	if err := os.MkdirAll(s.DataDir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(s.settingsPath(), data, 0o644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}

	return nil
}
