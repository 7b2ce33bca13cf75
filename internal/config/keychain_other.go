//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "clippyb", "secrets.json")
}

// keychainGet reads service/account from the secrets file, a JSON object of
// objects: {"clippyb": {"openrouter_api_key": "...", "api_token": "..."}}.
func keychainGet(service, account string) ([]byte, error) {
	data, err := os.ReadFile(secretsFilePath())
	if err != nil {
		return nil, fmt.Errorf("secrets file not available: %w", err)
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	if val, ok := secrets[service][account]; ok {
		return []byte(val), nil
	}
	return nil, fmt.Errorf("no secret %s/%s", service, account)
}
