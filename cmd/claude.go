package cmd

import (
	"os"
	"os/exec"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
	"github.com/codeswitch-dev/aicodeswitch/internal/onboard"
	"github.com/codeswitch-dev/aicodeswitch/internal/process"
)

var claudeCmd = &cobra.Command{
	Use:   "claude [args...]",
	Short: "Launch Claude Code through the proxy",
	Long:  `Start the proxy service if needed, point Claude Code at it, and run the claude CLI.`,
	Args:  cobra.ArbitraryArgs,
	RunE:  runClaude,
}

func runClaude(_ *cobra.Command, args []string) error {
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

	settingsPath, err := onboard.WriteClaudeSettings(homeDir, settings.BaseURL(), apiKey)
	if err != nil {
		return err
	}

	color.Green("Claude Code configured via %s", settingsPath)

	// Inherited credentials would override the settings file.
	env := os.Environ()
	env = filterEnv(env, "ANTHROPIC_AUTH_TOKEN")
	env = filterEnv(env, "ANTHROPIC_API_KEY")
	env = filterEnv(env, "ANTHROPIC_BASE_URL")

	for k, v := range onboard.ClaudeEnv(settings.BaseURL(), apiKey) {
		env = append(env, k+"="+v)
	}

	procMgr.IncrementRef()
	defer releaseSession(procMgr, startedByUs)

	claude := exec.Command("claude", args...)
	claude.Env = env
	claude.Stdin = os.Stdin
	claude.Stdout = os.Stdout
	claude.Stderr = os.Stderr

	return claude.Run()
}

// proxyKey reads the key clients must present to the proxy, if one is set.
func proxyKey() (string, error) {
	st, _, err := openStore()
	if err != nil {
		return "", err
	}
	defer st.Close()

	cfg, err := st.AppConfig()
	if err != nil {
		return "", err
	}

	return cfg.APIKey, nil
}

// releaseSession drops the session reference and stops the service when
// this process auto-started it and no sessions remain.
func releaseSession(procMgr *process.Manager, startedByUs bool) {
	procMgr.DecrementRef()

	if startedByUs && procMgr.ReadRef() == 0 {
		color.Yellow("No more active sessions, stopping auto-started service...")

		if err := procMgr.Stop(); err != nil {
			color.Red("Stop service: %v", err)
		}
	}
}

func filterEnv(env []string, key string) []string {
	prefix := key + "="

	filtered := env[:0]
	for _, e := range env {
		if !strings.HasPrefix(e, prefix) {
			filtered = append(filtered, e)
		}
	}

	return filtered
}
