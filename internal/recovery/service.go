// Package recovery orchestrates account recovery through passkey enrollment.
//
// A user who lost their authenticator proves identity with a one-time
// recovery token, answers a WebAuthn registration challenge with a new
// authenticator, and ends with the credential bound and a session
// established. The orchestration guarantees that no step can be skipped,
// replayed, or reordered: the token is consumed atomically when the
// challenge is issued, and the challenge session is claimed atomically when
// the attestation is verified.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/louisbranch/rekey/internal/platform/errors"
	"github.com/louisbranch/rekey/internal/platform/id"
	"github.com/louisbranch/rekey/internal/session"
	"github.com/louisbranch/rekey/internal/storage"
)

// ErrInvalidToken covers every token failure mode: unknown email, unknown
// token, expired, already consumed, or a token that belongs to a different
// email. The single error keeps the surface enumeration-safe.
var ErrInvalidToken = apperrors.New(apperrors.CodeRecoveryInvalidToken, "recovery token is invalid")

// ErrInvalidAttestation covers attestation failures: malformed response,
// signature or origin mismatch, wrong challenge, or an expired challenge
// session.
var ErrInvalidAttestation = apperrors.New(apperrors.CodeRecoveryInvalidAttestation, "attestation response is invalid")

// EventCredentialEnrolled is emitted after a credential is bound through
// recovery.
const EventCredentialEnrolled = "credential.enrolled_via_recovery"

// Attached is the terminal success outcome of a recovery flow.
type Attached struct {
	User       storage.User
	Credential storage.Credential
	Session    session.Established
}

// SessionEstablisher turns a recovered user into an authenticated session.
type SessionEstablisher interface {
	Establish(ctx context.Context, userID string) (session.Established, error)
}

type challengeProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
}

type attestationParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
}

type defaultAttestationParser struct{}

func (defaultAttestationParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

// Service sequences the recovery state machine. It is stateless between
// calls; all state lives in token and challenge session rows.
type Service struct {
	users       storage.UserStore
	tokens      storage.RecoveryTokenStore
	challenges  storage.ChallengeSessionStore
	credentials storage.CredentialStore
	sessions    SessionEstablisher
	config      Config
	webAuthn    challengeProvider
	webAuthnErr error
	parser      attestationParser
	clock       func() time.Time
	idGenerator func() (string, error)
	tokenSource func() (string, error)
}

// Store is the persistence surface the orchestrator needs.
type Store interface {
	storage.UserStore
	storage.RecoveryTokenStore
	storage.ChallengeSessionStore
	storage.CredentialStore
}

// NewService builds a recovery orchestrator with configuration from env.
func NewService(store Store, sessions SessionEstablisher) *Service {
	config := LoadConfigFromEnv()
	webAuthn, err := webauthn.New(&webauthn.Config{
		RPDisplayName: config.RPDisplayName,
		RPID:          config.RPID,
		RPOrigins:     config.RPOrigins,
	})
	return &Service{
		users:       store,
		tokens:      store,
		challenges:  store,
		credentials: store,
		sessions:    sessions,
		config:      config,
		webAuthn:    webAuthn,
		webAuthnErr: err,
		parser:      defaultAttestationParser{},
		clock:       time.Now,
		idGenerator: id.NewID,
		tokenSource: newRawToken,
	}
}

func (s *Service) ready() error {
	if s == nil {
		return fmt.Errorf("recovery service is not configured")
	}
	if s.users == nil || s.tokens == nil || s.challenges == nil || s.credentials == nil {
		return fmt.Errorf("recovery store is not configured")
	}
	if s.webAuthnErr != nil || s.webAuthn == nil {
		return fmt.Errorf("webauthn configuration is not available")
	}
	if s.parser == nil {
		return fmt.Errorf("attestation parser is not configured")
	}
	return nil
}

// CleanupExpired removes expired recovery tokens and challenge sessions.
func (s *Service) CleanupExpired(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	now := s.clock().UTC()
	if err := s.tokens.DeleteExpiredRecoveryTokens(ctx, now); err != nil {
		return fmt.Errorf("delete expired recovery tokens: %w", err)
	}
	if err := s.challenges.DeleteExpiredChallengeSessions(ctx, now); err != nil {
		return fmt.Errorf("delete expired challenge sessions: %w", err)
	}
	return nil
}

// recoveryUser adapts a user record and its stored credentials to the
// webauthn engine.
type recoveryUser struct {
	user        storage.User
	credentials []webauthn.Credential
}

func (u *recoveryUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *recoveryUser) WebAuthnName() string {
	return u.user.Email
}

func (u *recoveryUser) WebAuthnDisplayName() string {
	return u.user.DisplayName
}

func (u *recoveryUser) WebAuthnIcon() string {
	return ""
}

func (u *recoveryUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (s *Service) loadRecoveryUser(ctx context.Context, userID string) (*recoveryUser, error) {
	base, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	records, err := s.credentials.ListCredentials(ctx, base.ID)
	if err != nil {
		return nil, err
	}
	parsed, err := decodeStoredCredentials(records)
	if err != nil {
		return nil, err
	}
	return &recoveryUser{user: base, credentials: parsed}, nil
}

func decodeStoredCredentials(records []storage.Credential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal([]byte(record.CredentialJSON), &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

func internalError(message string, cause error) error {
	return apperrors.Wrap(apperrors.CodeInternal, message, cause)
}
