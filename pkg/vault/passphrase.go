package vault

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
	"igcollector/pkg/config"
)

const (
	// PassphraseEnv overrides every other passphrase source
	PassphraseEnv = "IGCOLLECTOR_VAULT_PASSPHRASE"

	keyringService = "igcollector"
	keyringUser    = "vault-passphrase"
)

// Open builds a Vault using the passphrase source named by cfg.Backend.
// The environment variable always wins when set.
func Open(cfg config.VaultConfig) (*Vault, error) {
	passphrase, err := resolvePassphrase(cfg)
	if err != nil {
		return nil, err
	}
	return New(passphrase)
}

func resolvePassphrase(cfg config.VaultConfig) (string, error) {
	if pass := os.Getenv(PassphraseEnv); pass != "" {
		return pass, nil
	}

	switch strings.ToLower(cfg.Backend) {
	case "env":
		return "", fmt.Errorf("%w: %s is not set", ErrEmptyPassphrase, PassphraseEnv)
	case "keyring":
		return keyringPassphrase()
	case "file", "":
		return filePassphrase(cfg.KeyFile)
	default:
		return "", fmt.Errorf("unknown vault backend %q", cfg.Backend)
	}
}

// keyringPassphrase reads the passphrase from the system keychain,
// generating and storing one on first use.
func keyringPassphrase() (string, error) {
	pass, err := keyring.Get(keyringService, keyringUser)
	if err == nil && pass != "" {
		return pass, nil
	}
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("keyring not available: %w", err)
	}

	pass, err = generatePassphrase()
	if err != nil {
		return "", err
	}
	if err := keyring.Set(keyringService, keyringUser, pass); err != nil {
		return "", fmt.Errorf("failed to store passphrase in keyring: %w", err)
	}
	return pass, nil
}

// filePassphrase reads the passphrase from path, generating the file with
// 0600 permissions on first use.
func filePassphrase(path string) (string, error) {
	if path == "" {
		return "", errors.New("vault key file path is required")
	}
	if content, err := os.ReadFile(path); err == nil {
		if pass := strings.TrimSpace(string(content)); pass != "" {
			return pass, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read vault key file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("failed to create vault directory: %w", err)
	}
	pass, err := generatePassphrase()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(pass), 0600); err != nil {
		return "", fmt.Errorf("failed to save vault key file: %w", err)
	}
	return pass, nil
}

func generatePassphrase() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
