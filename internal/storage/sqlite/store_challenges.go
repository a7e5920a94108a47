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

// PutChallengeSession stores the outstanding challenge for a consumed token,
// replacing any earlier session for the same token.
func (s *Store) PutChallengeSession(ctx context.Context, session storage.ChallengeSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(session.TokenHash) == "" {
		return fmt.Errorf("token hash is required")
	}
	if strings.TrimSpace(session.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(session.SessionJSON) == "" {
		return fmt.Errorf("session json is required")
	}

	var completedAt sql.NullInt64
	if session.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: toMillis(*session.CompletedAt), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO challenge_sessions (id, token_hash, user_id, session_json, created_at, expires_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(token_hash) DO UPDATE SET
	id = excluded.id,
	session_json = excluded.session_json,
	created_at = excluded.created_at,
	expires_at = excluded.expires_at,
	completed_at = excluded.completed_at
`,
		session.ID,
		session.TokenHash,
		session.UserID,
		session.SessionJSON,
		toMillis(session.CreatedAt),
		toMillis(session.ExpiresAt),
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("put challenge session: %w", err)
	}
	return nil
}

// GetChallengeSessionByToken fetches the challenge session minted for a token.
func (s *Store) GetChallengeSessionByToken(ctx context.Context, tokenHash string) (storage.ChallengeSession, error) {
	if err := ctx.Err(); err != nil {
		return storage.ChallengeSession{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ChallengeSession{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(tokenHash) == "" {
		return storage.ChallengeSession{}, fmt.Errorf("token hash is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, token_hash, user_id, session_json, created_at, expires_at, completed_at
FROM challenge_sessions
WHERE token_hash = ?
`, tokenHash)

	var session storage.ChallengeSession
	var createdAt int64
	var expiresAt int64
	var completedAt sql.NullInt64
	if err := row.Scan(&session.ID, &session.TokenHash, &session.UserID, &session.SessionJSON, &createdAt, &expiresAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ChallengeSession{}, storage.ErrNotFound
		}
		return storage.ChallengeSession{}, fmt.Errorf("get challenge session: %w", err)
	}
	session.CreatedAt = fromMillis(createdAt)
	session.ExpiresAt = fromMillis(expiresAt)
	if completedAt.Valid {
		value := fromMillis(completedAt.Int64)
		session.CompletedAt = &value
	}
	return session, nil
}

// ClaimChallengeSession atomically marks a session completed.
//
// A session can be claimed once; the losing side of a concurrent race
// observes ErrNotFound.
func (s *Store) ClaimChallengeSession(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("session id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE challenge_sessions
SET completed_at = ?
WHERE id = ? AND completed_at IS NULL
`, toMillis(now), id)
	if err != nil {
		return fmt.Errorf("claim challenge session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim challenge session: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteExpiredChallengeSessions removes expired challenge sessions.
func (s *Store) DeleteExpiredChallengeSessions(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM challenge_sessions WHERE expires_at <= ?
`, toMillis(now)); err != nil {
		return fmt.Errorf("delete expired challenge sessions: %w", err)
	}
	return nil
}
