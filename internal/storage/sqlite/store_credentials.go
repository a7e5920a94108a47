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

// EnrollCredential binds a new credential to a user in one transaction.
//
// The optional disable-existing step runs before the insert so no state with
// two enabled credentials is ever visible outside the transaction. The
// optional outbox event commits with the credential or not at all.
func (s *Store) EnrollCredential(ctx context.Context, params storage.EnrollCredentialParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	credential := params.Credential
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(credential.CredentialJSON) == "" {
		return fmt.Errorf("credential json is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if params.DisableExisting {
		if err := disableCredentials(ctx, tx, credential.UserID, credential.UpdatedAt); err != nil {
			return err
		}
	}

	if err := insertCredential(ctx, tx, credential); err != nil {
		return err
	}

	if params.Event != nil {
		if err := enqueueOutboxEvent(ctx, tx, *params.Event); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment: %w", err)
	}
	return nil
}

// GetCredential fetches a stored credential by ID.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Credential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.Credential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT credential_id, user_id, credential_json, enabled, created_at, updated_at, last_used_at
FROM credentials
WHERE credential_id = ?
`, credentialID)

	credential, err := scanCredential(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, storage.ErrNotFound
		}
		return storage.Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return credential, nil
}

// ListCredentials returns every credential a user owns, enabled or not.
func (s *Store) ListCredentials(ctx context.Context, userID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT credential_id, user_id, credential_json, enabled, created_at, updated_at, last_used_at
FROM credentials
WHERE user_id = ?
ORDER BY created_at
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var credentials []storage.Credential
	for rows.Next() {
		credential, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list credentials: %w", err)
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// DisableCredentials marks every credential of a user disabled. Idempotent;
// rows are kept for their audit and sign-count history.
func (s *Store) DisableCredentials(ctx context.Context, userID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	return disableCredentials(ctx, s.sqlDB, userID, now)
}

type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func disableCredentials(ctx context.Context, target execContexter, userID string, now time.Time) error {
	_, err := target.ExecContext(ctx, `
UPDATE credentials
SET enabled = 0, updated_at = ?
WHERE user_id = ? AND enabled = 1
`, toMillis(now), userID)
	if err != nil {
		return fmt.Errorf("disable credentials: %w", err)
	}
	return nil
}

func insertCredential(ctx context.Context, target execContexter, credential storage.Credential) error {
	enabled := 0
	if credential.Enabled {
		enabled = 1
	}
	var lastUsed sql.NullInt64
	if credential.LastUsedAt != nil {
		lastUsed = sql.NullInt64{Int64: toMillis(*credential.LastUsedAt), Valid: true}
	}

	_, err := target.ExecContext(ctx, `
INSERT INTO credentials (credential_id, user_id, credential_json, enabled, created_at, updated_at, last_used_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		credential.CredentialID,
		credential.UserID,
		credential.CredentialJSON,
		enabled,
		toMillis(credential.CreatedAt),
		toMillis(credential.UpdatedAt),
		lastUsed,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrDuplicateCredential
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func scanCredential(scan func(dest ...any) error) (storage.Credential, error) {
	var credential storage.Credential
	var enabled int
	var createdAt int64
	var updatedAt int64
	var lastUsed sql.NullInt64
	if err := scan(
		&credential.CredentialID,
		&credential.UserID,
		&credential.CredentialJSON,
		&enabled,
		&createdAt,
		&updatedAt,
		&lastUsed,
	); err != nil {
		return storage.Credential{}, err
	}
	credential.Enabled = enabled != 0
	credential.CreatedAt = fromMillis(createdAt)
	credential.UpdatedAt = fromMillis(updatedAt)
	if lastUsed.Valid {
		value := fromMillis(lastUsed.Int64)
		credential.LastUsedAt = &value
	}
	return credential, nil
}
