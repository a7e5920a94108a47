// Package session establishes and verifies authenticated web sessions.
//
// A session has two halves: a durable row that supports revocation and a
// signed EdDSA token carried by the client. Verify accepts a token only when
// both halves are still valid.
package session

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/rekey/internal/platform/errors"
	"github.com/louisbranch/rekey/internal/platform/id"
	"github.com/louisbranch/rekey/internal/storage"
)

// ErrInvalid indicates a session token that fails signature, claim, or
// revocation checks.
var ErrInvalid = apperrors.New(apperrors.CodeSessionInvalid, "session is invalid")

// ErrExpired indicates a session past its expiry.
var ErrExpired = apperrors.New(apperrors.CodeSessionExpired, "session is expired")

// Established is the result of a successful session establishment.
type Established struct {
	Session storage.WebSession
	Token   string
}

// Claims captures the validated contents of a session token.
type Claims struct {
	SessionID string
	UserID    string
	ExpiresAt time.Time
}

// tokenClaims is the internal claims type used for JWT signing and parsing.
type tokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// Manager issues and verifies web sessions.
type Manager struct {
	store       storage.WebSessionStore
	config      Config
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewManager builds a session manager backed by the given store.
func NewManager(store storage.WebSessionStore, config Config) *Manager {
	return &Manager{
		store:       store,
		config:      config,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// Establish creates a durable session row for the user and signs a matching
// token.
func (m *Manager) Establish(ctx context.Context, userID string) (Established, error) {
	if m == nil || m.store == nil {
		return Established{}, fmt.Errorf("session store is not configured")
	}
	if len(m.config.Key) != ed25519.PrivateKeySize {
		return Established{}, fmt.Errorf("session signer is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Established{}, fmt.Errorf("user id is required")
	}

	sessionID, err := m.idGenerator()
	if err != nil {
		return Established{}, fmt.Errorf("generate session id: %w", err)
	}
	now := m.clock().UTC()
	row := storage.WebSession{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.config.TTL),
	}
	if err := m.store.PutWebSession(ctx, row); err != nil {
		return Established{}, fmt.Errorf("store web session: %w", err)
	}

	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Audience:  jwt.ClaimStrings{m.config.Audience},
			Subject:   userID,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(row.ExpiresAt),
		},
		UserID: userID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(m.config.Key)
	if err != nil {
		return Established{}, fmt.Errorf("sign session token: %w", err)
	}

	return Established{Session: row, Token: token}, nil
}

// Verify checks a session token signature and claims, then confirms the
// backing row is neither revoked nor expired.
func (m *Manager) Verify(ctx context.Context, token string) (Claims, error) {
	if m == nil || m.store == nil {
		return Claims{}, fmt.Errorf("session store is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalid
	}
	publicKey := m.config.PublicKey()
	if publicKey == nil {
		return Claims{}, fmt.Errorf("session verifier is not configured")
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(token *jwt.Token) (any, error) {
		return publicKey, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, ErrInvalid
	}

	if parsed.Issuer != m.config.Issuer {
		return Claims{}, ErrInvalid
	}
	if !audienceContains(parsed.Audience, m.config.Audience) {
		return Claims{}, ErrInvalid
	}
	if parsed.ID == "" || parsed.UserID == "" || parsed.ExpiresAt == nil {
		return Claims{}, ErrInvalid
	}

	now := m.clock().UTC()
	if !parsed.ExpiresAt.Time.UTC().After(now) {
		return Claims{}, ErrExpired
	}

	row, err := m.store.GetWebSession(ctx, parsed.ID)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return Claims{}, ErrInvalid
		}
		return Claims{}, fmt.Errorf("load web session: %w", err)
	}
	if row.UserID != parsed.UserID {
		return Claims{}, ErrInvalid
	}
	if row.RevokedAt != nil {
		return Claims{}, ErrInvalid
	}
	if !row.ExpiresAt.After(now) {
		return Claims{}, ErrExpired
	}

	return Claims{
		SessionID: parsed.ID,
		UserID:    parsed.UserID,
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
	}, nil
}

// Revoke invalidates a session row so its token stops verifying.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("session store is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	return m.store.RevokeWebSession(ctx, sessionID, m.clock().UTC())
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}
