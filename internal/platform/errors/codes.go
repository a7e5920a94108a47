// Package errors provides structured error handling for the recovery service.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Recovery errors
	CodeRecoveryInvalidToken       Code = "RECOVERY_INVALID_TOKEN"
	CodeRecoveryInvalidAttestation Code = "RECOVERY_INVALID_ATTESTATION"

	// Credential errors
	CodeCredentialDuplicate Code = "CREDENTIAL_DUPLICATE"

	// Session errors
	CodeSessionInvalid Code = "SESSION_INVALID"
	CodeSessionExpired Code = "SESSION_EXPIRED"

	// Input errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Infrastructure errors
	CodeInternal Code = "INTERNAL"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeRecoveryInvalidToken, CodeSessionInvalid, CodeSessionExpired:
		return http.StatusUnauthorized
	case CodeRecoveryInvalidAttestation, CodeCredentialDuplicate:
		return http.StatusUnprocessableEntity
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
