package recovery

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/louisbranch/rekey/internal/platform/errors"
	"github.com/louisbranch/rekey/internal/storage"
)

// BeginRecovery consumes a recovery token and issues a WebAuthn registration
// challenge for the token's owner.
//
// The token is consumed here, atomically, before any challenge exists: a
// second begin call with the same token fails regardless of whether the
// first flow ever completes. Unknown email, unknown token, expired,
// consumed, and mismatched pairs are indistinguishable to the caller.
func (s *Service) BeginRecovery(ctx context.Context, email string, token string) (json.RawMessage, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "token is required")
	}

	now := s.clock().UTC()
	consumed, err := s.tokens.ConsumeRecoveryToken(ctx, hashToken(token), email, now)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return nil, ErrInvalidToken
		}
		return nil, internalError("consume recovery token", err)
	}

	recoveredUser, err := s.loadRecoveryUser(ctx, consumed.UserID)
	if err != nil {
		return nil, internalError("load recovery user", err)
	}

	// Existing credentials are excluded so a lost-authenticator flow cannot
	// end with the authenticator it supposedly lost.
	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(recoveredUser.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(recoveredUser.credentials).CredentialDescriptors()))
	}

	creation, sessionData, err := s.webAuthn.BeginRegistration(recoveredUser, options...)
	if err != nil {
		return nil, internalError("begin webauthn registration", err)
	}

	sessionJSON, err := json.Marshal(sessionData)
	if err != nil {
		return nil, internalError("encode challenge session", err)
	}
	sessionID, err := s.idGenerator()
	if err != nil {
		return nil, internalError("generate challenge session id", err)
	}
	challenge := storage.ChallengeSession{
		ID:          sessionID,
		TokenHash:   consumed.TokenHash,
		UserID:      consumed.UserID,
		SessionJSON: string(sessionJSON),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.config.ChallengeTTL),
	}
	if err := s.challenges.PutChallengeSession(ctx, challenge); err != nil {
		return nil, internalError("store challenge session", err)
	}

	optionsJSON, err := json.Marshal(creation)
	if err != nil {
		return nil, internalError("encode registration options", err)
	}
	return optionsJSON, nil
}
