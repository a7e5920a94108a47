package recovery

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
	"time"

	apperrors "github.com/louisbranch/rekey/internal/platform/errors"
	"github.com/louisbranch/rekey/internal/storage"
)

// IssuedToken carries a freshly minted recovery token for out-of-band
// delivery. The raw value is never persisted.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// IssueToken mints a one-time recovery token for an existing user.
//
// Callers own delivery and enumeration safety; the method itself reports
// storage.ErrNotFound for unknown emails.
func (s *Service) IssueToken(ctx context.Context, email string) (IssuedToken, error) {
	if err := s.ready(); err != nil {
		return IssuedToken{}, err
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return IssuedToken{}, err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return IssuedToken{}, err
		}
		return IssuedToken{}, internalError("load user", err)
	}

	raw, err := s.tokenSource()
	if err != nil {
		return IssuedToken{}, internalError("generate recovery token", err)
	}
	now := s.clock().UTC()
	expiresAt := now.Add(s.config.TokenTTL)
	token := storage.RecoveryToken{
		TokenHash: hashToken(raw),
		UserID:    user.ID,
		Email:     user.Email,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	if err := s.tokens.PutRecoveryToken(ctx, token); err != nil {
		return IssuedToken{}, internalError("store recovery token", err)
	}

	return IssuedToken{Token: raw, ExpiresAt: expiresAt}, nil
}

// newRawToken returns a 256-bit URL-safe random token.
func newRawToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// hashToken returns the hex SHA-256 digest stored in place of the raw token.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "email is required")
	}
	parsed, err := mail.ParseAddress(input)
	if err != nil {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "email is invalid")
	}
	return strings.ToLower(parsed.Address), nil
}
