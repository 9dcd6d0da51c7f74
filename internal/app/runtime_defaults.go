package app

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const jwtSecretBytes = 48

// ApplyRuntimeDefaults fills in what a deployment may leave out and rejects
// collaboration settings that cannot work. The returned map names the keys that
// were generated so callers can log them without exposing values.
//
// A generated JWT secret only lives for the process, so tokens minted before a
// restart stop validating.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := generateHexKey(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	if err := checkCollab(cfg.Collab); err != nil {
		return nil, err
	}
	return generated, nil
}

func checkCollab(c CollabConfig) error {
	switch {
	case c.IdleLockTimeout < 0:
		return fmt.Errorf("collab.idle_lock_timeout must not be negative, got %s", c.IdleLockTimeout)
	case c.HistoryRetentionDays < 0:
		return fmt.Errorf("collab.history_retention_days must not be negative, got %d", c.HistoryRetentionDays)
	case c.MaxMessageSize < 0:
		return fmt.Errorf("collab.max_message_size must not be negative, got %d", c.MaxMessageSize)
	}
	return nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
