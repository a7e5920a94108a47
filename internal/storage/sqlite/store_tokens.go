package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/rekey/internal/storage"
)

// PutRecoveryToken stores a recovery token digest.
func (s *Store) PutRecoveryToken(ctx context.Context, token storage.RecoveryToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(token.TokenHash) == "" {
		return fmt.Errorf("token hash is required")
	}
	if strings.TrimSpace(token.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(token.Email) == "" {
		return fmt.Errorf("email is required")
	}

	var consumedAt sql.NullInt64
	if token.ConsumedAt != nil {
		consumedAt = sql.NullInt64{Int64: toMillis(*token.ConsumedAt), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO recovery_tokens (token_hash, user_id, email, created_at, expires_at, consumed_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		token.TokenHash,
		token.UserID,
		strings.ToLower(strings.TrimSpace(token.Email)),
		toMillis(token.CreatedAt),
		toMillis(token.ExpiresAt),
		consumedAt,
	)
	if err != nil {
		return fmt.Errorf("put recovery token: %w", err)
	}
	return nil
}

// GetRecoveryToken fetches a recovery token row by digest.
func (s *Store) GetRecoveryToken(ctx context.Context, tokenHash string) (storage.RecoveryToken, error) {
	if err := ctx.Err(); err != nil {
		return storage.RecoveryToken{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.RecoveryToken{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(tokenHash) == "" {
		return storage.RecoveryToken{}, fmt.Errorf("token hash is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT token_hash, user_id, email, created_at, expires_at, consumed_at
FROM recovery_tokens
WHERE token_hash = ?
`, tokenHash)

	var token storage.RecoveryToken
	var createdAt int64
	var expiresAt int64
	var consumedAt sql.NullInt64
	if err := row.Scan(&token.TokenHash, &token.UserID, &token.Email, &createdAt, &expiresAt, &consumedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RecoveryToken{}, storage.ErrNotFound
		}
		return storage.RecoveryToken{}, fmt.Errorf("get recovery token: %w", err)
	}
	token.CreatedAt = fromMillis(createdAt)
	token.ExpiresAt = fromMillis(expiresAt)
	if consumedAt.Valid {
		value := fromMillis(consumedAt.Int64)
		token.ConsumedAt = &value
	}
	return token, nil
}

// ConsumeRecoveryToken atomically marks a valid token consumed and returns it.
//
// The single UPDATE carries the whole validity rule, so two concurrent
// consumers of the same token cannot both succeed, and unknown tokens,
// expired tokens, consumed tokens, and email mismatches are all
// indistinguishable to the caller.
func (s *Store) ConsumeRecoveryToken(ctx context.Context, tokenHash string, email string, now time.Time) (storage.RecoveryToken, error) {
	if err := ctx.Err(); err != nil {
		return storage.RecoveryToken{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.RecoveryToken{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(tokenHash) == "" {
		return storage.RecoveryToken{}, fmt.Errorf("token hash is required")
	}
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return storage.RecoveryToken{}, fmt.Errorf("email is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE recovery_tokens
SET consumed_at = ?
WHERE token_hash = ?
  AND email = ?
  AND consumed_at IS NULL
  AND expires_at > ?
`,
		toMillis(now),
		tokenHash,
		normalized,
		toMillis(now),
	)
	if err != nil {
		return storage.RecoveryToken{}, fmt.Errorf("consume recovery token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.RecoveryToken{}, fmt.Errorf("consume recovery token: %w", err)
	}
	if affected == 0 {
		return storage.RecoveryToken{}, storage.ErrNotFound
	}
	return s.GetRecoveryToken(ctx, tokenHash)
}

// DeleteExpiredRecoveryTokens removes expired tokens and their challenge sessions.
func (s *Store) DeleteExpiredRecoveryTokens(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM challenge_sessions
WHERE token_hash IN (SELECT token_hash FROM recovery_tokens WHERE expires_at <= ?)
`, toMillis(now)); err != nil {
		return fmt.Errorf("delete expired challenge sessions: %w", err)
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM recovery_tokens WHERE expires_at <= ?
`, toMillis(now)); err != nil {
		return fmt.Errorf("delete expired recovery tokens: %w", err)
	}
	return nil
}
