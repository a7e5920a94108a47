package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	base := New(CodeRecoveryInvalidToken, "token rejected")
	other := New(CodeRecoveryInvalidToken, "different message")

	if !errors.Is(base, other) {
		t.Fatal("expected errors with the same code to match")
	}
	if errors.Is(base, New(CodeInternal, "internal")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	wrapped := Wrap(CodeInternal, "store credential", cause)

	if !errors.Is(wrapped, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
	if wrapped.Error() != "store credential" {
		t.Fatalf("unexpected message %q", wrapped.Error())
	}
}

func TestGetCodeTraversesChains(t *testing.T) {
	inner := New(CodeCredentialDuplicate, "credential exists")
	outer := fmt.Errorf("enroll: %w", inner)

	if got := GetCode(outer); got != CodeCredentialDuplicate {
		t.Fatalf("GetCode = %q, want %q", got, CodeCredentialDuplicate)
	}
	if got := GetCode(fmt.Errorf("plain")); got != CodeUnknown {
		t.Fatalf("GetCode = %q, want %q", got, CodeUnknown)
	}
	if got := GetCode(nil); got != CodeUnknown {
		t.Fatalf("GetCode(nil) = %q, want %q", got, CodeUnknown)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	if got := CodeRecoveryInvalidToken.HTTPStatus(); got != http.StatusUnauthorized {
		t.Fatalf("invalid token status = %d, want %d", got, http.StatusUnauthorized)
	}
	if got := CodeRecoveryInvalidAttestation.HTTPStatus(); got != http.StatusUnprocessableEntity {
		t.Fatalf("invalid attestation status = %d, want %d", got, http.StatusUnprocessableEntity)
	}
	if got := CodeCredentialDuplicate.HTTPStatus(); got != http.StatusUnprocessableEntity {
		t.Fatalf("duplicate credential status = %d, want %d", got, http.StatusUnprocessableEntity)
	}
	if got := CodeInternal.HTTPStatus(); got != http.StatusInternalServerError {
		t.Fatalf("internal status = %d, want %d", got, http.StatusInternalServerError)
	}
	if got := Code("SOMETHING_ELSE").HTTPStatus(); got != http.StatusInternalServerError {
		t.Fatalf("unknown code status = %d, want %d", got, http.StatusInternalServerError)
	}
}
