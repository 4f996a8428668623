// Package cmd wires the acs command line: the proxy daemon lifecycle,
// the client launchers, and configuration management.
package cmd

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
	"github.com/codeswitch-dev/aicodeswitch/internal/store"
)

const (
	AppName = "aicodeswitch"
	Version = "0.1.0"
)

var (
	logger  *slog.Logger
	homeDir string
	baseDir string
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	var err error

	homeDir, err = os.UserHomeDir()
	if err != nil {
		logger.Error("resolve home directory", "error", err)
		os.Exit(1)
	}

	baseDir = filepath.Join(homeDir, "."+AppName)
}

var rootCmd = &cobra.Command{
	Use:     "acs",
	Short:   "Local proxy between AI coding clients and LLM providers",
	Long:    `aicodeswitch runs a local reverse proxy that lets Claude Code and Codex talk to any Messages, Chat Completions, or Responses provider, translating requests and responses between the dialects on the fly.`,
	Version: Version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(claudeCmd)
	rootCmd.AddCommand(codexCmd)
	rootCmd.AddCommand(configCmd)
}

func setupLogging(verbose bool, level string) {
	lvl := slog.LevelInfo

	switch {
	case verbose:
		lvl = slog.LevelDebug
	case level != "":
		// An unknown level in settings falls back to info.
		_ = lvl.UnmarshalText([]byte(level))
	}

	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// openStore loads the process settings and opens the database under the
// data dir, creating the dir on first use.
func openStore() (*store.Store, config.Settings, error) {
	settings, err := config.LoadSettings(baseDir)
	if err != nil {
		return nil, settings, err
	}

	if err := os.MkdirAll(settings.DataDir, 0o755); err != nil {
		return nil, settings, err
	}

	st, err := store.Open(settings.DatabasePath(), logger)
	if err != nil {
		return nil, settings, err
	}

	return st, settings, nil
}
