package session

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/rekey/internal/platform/config"
)

// sessionEnv holds raw env values before post-parse validation.
type sessionEnv struct {
	Issuer     string        `env:"REKEY_SESSION_ISSUER"`
	Audience   string        `env:"REKEY_SESSION_AUDIENCE"`
	PrivateKey string        `env:"REKEY_SESSION_PRIVATE_KEY"`
	TTL        time.Duration `env:"REKEY_SESSION_TTL"         envDefault:"12h"`
}

// Config defines how session tokens are signed and verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PrivateKey
	TTL      time.Duration
}

// PublicKey returns the verification half of the signing key.
func (c Config) PublicKey() ed25519.PublicKey {
	if len(c.Key) != ed25519.PrivateKeySize {
		return nil
	}
	return c.Key.Public().(ed25519.PublicKey)
}

// LoadConfigFromEnv reads session token configuration.
func LoadConfigFromEnv() (Config, error) {
	var raw sessionEnv
	if err := config.ParseEnv(&raw); err != nil {
		return Config{}, fmt.Errorf("parse session env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	privateKey := strings.TrimSpace(raw.PrivateKey)
	if issuer == "" {
		return Config{}, fmt.Errorf("REKEY_SESSION_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("REKEY_SESSION_AUDIENCE is required")
	}
	if privateKey == "" {
		return Config{}, fmt.Errorf("REKEY_SESSION_PRIVATE_KEY is required")
	}
	keyBytes, err := decodeBase64(privateKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode session private key: %w", err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return Config{}, fmt.Errorf("session private key must be %d bytes", ed25519.PrivateKeySize)
	}
	if raw.TTL <= 0 {
		return Config{}, fmt.Errorf("session ttl must be positive")
	}

	return Config{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PrivateKey(keyBytes),
		TTL:      raw.TTL,
	}, nil
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
