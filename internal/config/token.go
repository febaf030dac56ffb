package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TokenPath returns where the local API token lives inside the data
// directory.
func TokenPath(dataDir string) string {
	return filepath.Join(dataDir, "api-token")
}

// LoadOrCreateToken returns the API token used to authenticate local
// HTTP clients, generating and persisting a fresh one on first run.
// The token file is the shared secret between the daemon and the CLI;
// it is created user-readable only.
func LoadOrCreateToken(dataDir string) (string, error) {
	path := TokenPath(dataDir)
	data, err := os.ReadFile(path)
	if err == nil {
		token := strings.TrimSpace(string(data))
		if token != "" {
			return token, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading API token: %w", err)
	}

	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	token := hex.EncodeToString(raw[:])

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing API token: %w", err)
	}
	return token, nil
}
