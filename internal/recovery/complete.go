package recovery

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/louisbranch/rekey/internal/platform/errors"
	"github.com/louisbranch/rekey/internal/storage"
)

// CompleteParams carries the inputs of the final recovery step.
type CompleteParams struct {
	Email    string
	Token    string
	Response []byte
	// Unique disables every existing credential before the new one is
	// enrolled, leaving the new authenticator as the only way in.
	Unique bool
}

// CompleteRecovery verifies an attestation response against the outstanding
// challenge, binds the new credential, and establishes a session.
//
// The challenge session is claimed before the attestation is checked, so a
// failed attestation burns the token: the user must request a fresh one.
// Exactly one of two concurrent calls on the same token can reach Attached.
func (s *Service) CompleteRecovery(ctx context.Context, params CompleteParams) (Attached, error) {
	if err := s.ready(); err != nil {
		return Attached{}, err
	}
	if s.sessions == nil {
		return Attached{}, internalError("session establisher is not configured", nil)
	}
	email, err := normalizeEmail(params.Email)
	if err != nil {
		return Attached{}, err
	}
	token := strings.TrimSpace(params.Token)
	if token == "" {
		return Attached{}, apperrors.New(apperrors.CodeInvalidArgument, "token is required")
	}
	if len(params.Response) == 0 {
		return Attached{}, apperrors.New(apperrors.CodeInvalidArgument, "credential response is required")
	}

	now := s.clock().UTC()
	tokenHash := hashToken(token)

	tokenRow, err := s.tokens.GetRecoveryToken(ctx, tokenHash)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return Attached{}, ErrInvalidToken
		}
		return Attached{}, internalError("load recovery token", err)
	}
	if tokenRow.Email != email {
		return Attached{}, ErrInvalidToken
	}
	if !tokenRow.ExpiresAt.After(now) {
		return Attached{}, ErrInvalidToken
	}
	if tokenRow.ConsumedAt == nil {
		// No challenge was ever issued for this token.
		return Attached{}, ErrInvalidToken
	}

	sessionRow, err := s.challenges.GetChallengeSessionByToken(ctx, tokenHash)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return Attached{}, ErrInvalidToken
		}
		return Attached{}, internalError("load challenge session", err)
	}
	if sessionRow.CompletedAt != nil {
		return Attached{}, ErrInvalidToken
	}
	if err := s.challenges.ClaimChallengeSession(ctx, sessionRow.ID, now); err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			// Lost the race to a concurrent completion.
			return Attached{}, ErrInvalidToken
		}
		return Attached{}, internalError("claim challenge session", err)
	}
	if !sessionRow.ExpiresAt.After(now) {
		return Attached{}, ErrInvalidAttestation
	}

	var sessionData webauthn.SessionData
	if err := json.Unmarshal([]byte(sessionRow.SessionJSON), &sessionData); err != nil {
		return Attached{}, internalError("decode challenge session", err)
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(params.Response)
	if err != nil {
		return Attached{}, apperrors.Wrap(apperrors.CodeRecoveryInvalidAttestation, "attestation response is invalid", err)
	}

	recoveredUser, err := s.loadRecoveryUser(ctx, sessionRow.UserID)
	if err != nil {
		return Attached{}, internalError("load recovery user", err)
	}

	credential, err := s.webAuthn.CreateCredential(recoveredUser, sessionData, parsed)
	if err != nil {
		return Attached{}, apperrors.Wrap(apperrors.CodeRecoveryInvalidAttestation, "attestation response is invalid", err)
	}

	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return Attached{}, internalError("encode credential", err)
	}
	credentialID := encodeCredentialID(credential.ID)
	row := storage.Credential{
		CredentialID:   credentialID,
		UserID:         recoveredUser.user.ID,
		CredentialJSON: string(credentialJSON),
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	event, err := s.newEnrolledEvent(recoveredUser.user.ID, credentialID, params.Unique, now)
	if err != nil {
		return Attached{}, internalError("build enrollment event", err)
	}
	enrollParams := storage.EnrollCredentialParams{
		Credential:      row,
		DisableExisting: params.Unique,
		Event:           event,
	}
	if err := s.credentials.EnrollCredential(ctx, enrollParams); err != nil {
		if apperrors.GetCode(err) == apperrors.CodeCredentialDuplicate {
			return Attached{}, err
		}
		return Attached{}, internalError("enroll credential", err)
	}

	established, err := s.sessions.Establish(ctx, recoveredUser.user.ID)
	if err != nil {
		return Attached{}, internalError("establish session", err)
	}

	return Attached{
		User:       recoveredUser.user,
		Credential: row,
		Session:    established,
	}, nil
}

func (s *Service) newEnrolledEvent(userID string, credentialID string, unique bool, now time.Time) (*storage.OutboxEvent, error) {
	eventID, err := s.idGenerator()
	if err != nil {
		return nil, fmt.Errorf("generate event id: %w", err)
	}
	payload, err := json.Marshal(map[string]any{
		"user_id":       userID,
		"credential_id": credentialID,
		"unique":        unique,
		"enrolled_at":   now.Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("encode event payload: %w", err)
	}
	return &storage.OutboxEvent{
		ID:          eventID,
		EventType:   EventCredentialEnrolled,
		PayloadJSON: string(payload),
		DedupeKey:   credentialID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
