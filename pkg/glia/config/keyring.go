// Package config – keyring.go resolves secrets through the OS keyring
// (Linux: Secret Service, macOS: Keychain, Windows: Credential
// Manager).
//
// Priority for resolving each secret:
//  1. OS keyring (encrypted by the OS, requires user session)
//  2. Environment variable (GLIA_BOT_API_KEY, etc.)
//  3. .env file (loaded by godotenv before parsing)
//  4. config.yaml value (least secure — plaintext on disk)
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "glia"

	// Keyring key names.
	KeyBotAPIKey          = "bot_api_key"
	KeySessionTokenSecret = "session_token_secret"
	KeyAgentAPIKey        = "agent_api_key"
)

// Environment variable fallbacks per keyring key.
var secretEnvVars = map[string]string{
	KeyBotAPIKey:          "GLIA_BOT_API_KEY",
	KeySessionTokenSecret: "GLIA_SESSION_TOKEN_SECRET",
	KeyAgentAPIKey:        "GLIA_AGENT_API_KEY",
}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__glia_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveSecrets fills the secret config fields through the priority
// chain. Values already present in the config are only used when
// neither the keyring nor the environment has the secret.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Auth.BotAPIKey = resolveSecret(KeyBotAPIKey, cfg.Auth.BotAPIKey, logger)
	cfg.Auth.SessionTokenSecret = resolveSecret(KeySessionTokenSecret, cfg.Auth.SessionTokenSecret, logger)
	cfg.Agent.APIKey = resolveSecret(KeyAgentAPIKey, cfg.Agent.APIKey, logger)
}

func resolveSecret(key, configValue string, logger *slog.Logger) string {
	if val := GetKeyring(key); val != "" {
		logger.Debug("secret loaded from OS keyring", "key", key)
		return val
	}
	if val := os.Getenv(secretEnvVars[key]); val != "" {
		logger.Debug("secret loaded from environment", "key", key)
		return val
	}
	return configValue
}

// ReadPassword prompts for a secret on the terminal without echo.
func ReadPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}
