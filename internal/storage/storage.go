// Package storage defines persistence contracts for recovery assets.
//
// These interfaces exist so the orchestrator and HTTP handlers can depend on
// stable domain semantics without coupling to SQLite schema details.
package storage

import (
	"context"
	"time"

	"github.com/louisbranch/rekey/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrDuplicateCredential indicates a credential ID is already enrolled,
// for any user. Credential IDs are globally unique.
var ErrDuplicateCredential = errors.New(errors.CodeCredentialDuplicate, "credential id already enrolled")

// User represents an identity record that can own credentials.
type User struct {
	ID          string
	Email       string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RecoveryToken is a single-use out-of-band proof of identity.
//
// Only the SHA-256 digest of the raw token is stored; the raw value exists
// solely in the delivery channel.
type RecoveryToken struct {
	TokenHash  string
	UserID     string
	Email      string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// ChallengeSession stores the outstanding WebAuthn registration challenge
// minted when a recovery token was consumed.
type ChallengeSession struct {
	ID          string
	TokenHash   string
	UserID      string
	SessionJSON string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	CompletedAt *time.Time
}

// Credential stores a WebAuthn credential for a user. Disabled credentials
// are retained for their sign-count history, never deleted.
type Credential struct {
	CredentialID   string
	UserID         string
	CredentialJSON string
	Enabled        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// WebSession is a durable authenticated session established after recovery.
type WebSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Outbox event statuses.
const (
	OutboxStatusPending   = "pending"
	OutboxStatusLeased    = "leased"
	OutboxStatusSucceeded = "succeeded"
	OutboxStatusDead      = "dead"
)

// OutboxEvent is a domain event queued transactionally with the mutation
// that produced it and delivered at-least-once.
type OutboxEvent struct {
	ID             string
	EventType      string
	PayloadJSON    string
	DedupeKey      string
	Status         string
	AttemptCount   int
	NextAttemptAt  time.Time
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	LastError      string
	ProcessedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UserStore persists identity records.
type UserStore interface {
	PutUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, userID string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
}

// RecoveryTokenStore persists recovery tokens.
//
// ConsumeRecoveryToken is the atomicity point of the recovery flow: it marks
// the token consumed and returns it only when the token exists, matches the
// email, is unexpired, and was not consumed before. Every failure mode is
// ErrNotFound so callers cannot distinguish unknown users from bad tokens.
type RecoveryTokenStore interface {
	PutRecoveryToken(ctx context.Context, token RecoveryToken) error
	GetRecoveryToken(ctx context.Context, tokenHash string) (RecoveryToken, error)
	ConsumeRecoveryToken(ctx context.Context, tokenHash string, email string, now time.Time) (RecoveryToken, error)
	DeleteExpiredRecoveryTokens(ctx context.Context, now time.Time) error
}

// ChallengeSessionStore persists outstanding WebAuthn challenges.
//
// ClaimChallengeSession atomically marks a session completed; a concurrent
// second claim observes ErrNotFound.
type ChallengeSessionStore interface {
	PutChallengeSession(ctx context.Context, session ChallengeSession) error
	GetChallengeSessionByToken(ctx context.Context, tokenHash string) (ChallengeSession, error)
	ClaimChallengeSession(ctx context.Context, id string, now time.Time) error
	DeleteExpiredChallengeSessions(ctx context.Context, now time.Time) error
}

// EnrollCredentialParams describes a transactional credential enrollment.
//
// When DisableExisting is set, every credential the user currently owns is
// disabled before the new one is inserted, inside the same transaction, so
// no state with two enabled credentials is ever observable. Event, when
// present, is enqueued in that transaction as well.
type EnrollCredentialParams struct {
	Credential      Credential
	DisableExisting bool
	Event           *OutboxEvent
}

// CredentialStore persists WebAuthn credentials.
type CredentialStore interface {
	EnrollCredential(ctx context.Context, params EnrollCredentialParams) error
	GetCredential(ctx context.Context, credentialID string) (Credential, error)
	ListCredentials(ctx context.Context, userID string) ([]Credential, error)
	DisableCredentials(ctx context.Context, userID string, now time.Time) error
}

// WebSessionStore persists authenticated web sessions.
type WebSessionStore interface {
	PutWebSession(ctx context.Context, session WebSession) error
	GetWebSession(ctx context.Context, id string) (WebSession, error)
	RevokeWebSession(ctx context.Context, id string, revokedAt time.Time) error
}

// OutboxStore leases and acknowledges queued domain events.
type OutboxStore interface {
	EnqueueOutboxEvent(ctx context.Context, event OutboxEvent) error
	LeaseOutboxEvents(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]OutboxEvent, error)
	MarkOutboxSucceeded(ctx context.Context, eventID string, consumer string, processedAt time.Time) error
	MarkOutboxRetry(ctx context.Context, eventID string, consumer string, nextAttemptAt time.Time, lastError string) error
	MarkOutboxDead(ctx context.Context, eventID string, consumer string, lastError string, processedAt time.Time) error
}
