package cmd

import (
	"os"
	"os/exec"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
	"github.com/codeswitch-dev/aicodeswitch/internal/onboard"
	"github.com/codeswitch-dev/aicodeswitch/internal/process"
)

var codexCmd = &cobra.Command{
	Use:   "codex [args...]",
	Short: "Launch Codex through the proxy",
	Long:  `Start the proxy service if needed, point the Codex CLI at it, and run codex.`,
	Args:  cobra.ArbitraryArgs,
	RunE:  runCodex,
}

func runCodex(_ *cobra.Command, args []string) error {
	settings, err := config.LoadSettings(baseDir)
	if err != nil {
		return err
	}

	procMgr := process.NewManager(baseDir)

	startedByUs, err := procMgr.StartServiceIfNeeded()
	if err != nil {
		return err
	}

	apiKey, err := proxyKey()
	if err != nil {
		return err
	}

	configPath, err := onboard.WriteCodexConfig(homeDir, settings.BaseURL())
	if err != nil {
		return err
	}

	if _, err := onboard.WriteCodexAuth(homeDir, apiKey); err != nil {
		return err
	}

	color.Green("Codex configured via %s", configPath)

	// Codex reads the provider from config.toml; a lingering base URL in
	// the environment would win over it.
	env := os.Environ()
	env = filterEnv(env, "OPENAI_BASE_URL")
	env = filterEnv(env, "OPENAI_API_KEY")

	if apiKey != "" {
		env = append(env, "OPENAI_API_KEY="+apiKey)
	}

	procMgr.IncrementRef()
	defer releaseSession(procMgr, startedByUs)

	codex := exec.Command("codex", args...)
	codex.Env = env
	codex.Stdin = os.Stdin
	codex.Stdout = os.Stdout
	codex.Stderr = os.Stderr

	return codex.Run()
}
