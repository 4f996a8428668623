package onboard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	codexDirName    = ".codex"
	codexConfigName = "config.toml"
	codexAuthName   = "auth.json"

	// providerKey names the proxy's entry in Codex's model_providers table.
	providerKey = "aicodeswitch"
)

// WriteCodexConfig merges the proxy's model provider into the user's
// ~/.codex/config.toml and selects it. Other keys in the file survive;
// comments do not, the file is re-encoded. It returns the path written.
func WriteCodexConfig(homeDir, baseURL string) (string, error) {
	dir := filepath.Join(homeDir, codexDirName)
	path := filepath.Join(dir, codexConfigName)

	cfg := map[string]any{}
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	providers, _ := cfg["model_providers"].(map[string]any)
	if providers == nil {
		providers = map[string]any{}
	}

	providers[providerKey] = map[string]any{
		"name":     "aicodeswitch proxy",
		"base_url": baseURL + "/codex",
		"wire_api": "responses",
	}

	cfg["model_provider"] = providerKey
	cfg["model_providers"] = providers

	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	return path, nil
}

// WriteCodexAuth writes ~/.codex/auth.json with the proxy key. Codex
// refuses to start without a key on file, so an empty proxy key becomes a
// placeholder.
func WriteCodexAuth(homeDir, apiKey string) (string, error) {
	dir := filepath.Join(homeDir, codexDirName)
	path := filepath.Join(dir, codexAuthName)

	if apiKey == "" {
		apiKey = "proxy"
	}

	data, err := json.MarshalIndent(map[string]string{"OPENAI_API_KEY": apiKey}, "", "  ")
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}

	return path, os.WriteFile(path, append(data, '\n'), 0600)
}
