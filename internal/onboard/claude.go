// Package onboard writes the client-side configuration pointing Claude
// Code and Codex at the proxy: the settings.json env block for Claude
// Code, config.toml and auth.json for Codex. Existing client files are
// merged, never replaced.
package onboard

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

const (
	claudeDirName      = ".claude"
	claudeSettingsName = "settings.json"

	// Claude Code aborts slow responses client-side; streams through slow
	// upstreams need the headroom.
	clientTimeoutMS = 600000
)

// ClaudeEnv is the environment block that points Claude Code at the
// proxy. Without a proxy key the auth token is a placeholder, the client
// just needs one present.
func ClaudeEnv(baseURL, apiKey string) map[string]string {
	env := map[string]string{
		"ANTHROPIC_BASE_URL": baseURL + "/claude-code",
		"API_TIMEOUT_MS":     strconv.Itoa(clientTimeoutMS),
	}

	if apiKey != "" {
		env["ANTHROPIC_API_KEY"] = apiKey
	} else {
		env["ANTHROPIC_AUTH_TOKEN"] = "proxy"
	}

	return env
}

// WriteClaudeSettings merges the proxy env block into the user's
// ~/.claude/settings.json, keeping every other setting as-is. It returns
// the path written.
func WriteClaudeSettings(homeDir, baseURL, apiKey string) (string, error) {
	path := filepath.Join(homeDir, claudeDirName, claudeSettingsName)

	settings := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &settings)
	}

	env, _ := settings["env"].(map[string]any)
	if env == nil {
		env = map[string]any{}
	}

	// Stale credentials would shadow whichever of the two we set.
	delete(env, "ANTHROPIC_API_KEY")
	delete(env, "ANTHROPIC_AUTH_TOKEN")

	for k, v := range ClaudeEnv(baseURL, apiKey) {
		env[k] = v
	}

	settings["env"] = env

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return "", err
	}

	return path, os.WriteFile(path, append(data, '\n'), 0600)
}
