package session

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/rekey/internal/storage"
)

type fakeWebSessionStore struct {
	sessions map[string]storage.WebSession
	putErr   error
}

func newFakeWebSessionStore() *fakeWebSessionStore {
	return &fakeWebSessionStore{sessions: map[string]storage.WebSession{}}
}

func (f *fakeWebSessionStore) PutWebSession(_ context.Context, session storage.WebSession) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeWebSessionStore) GetWebSession(_ context.Context, id string) (storage.WebSession, error) {
	session, ok := f.sessions[id]
	if !ok {
		return storage.WebSession{}, storage.ErrNotFound
	}
	return session, nil
}

func (f *fakeWebSessionStore) RevokeWebSession(_ context.Context, id string, revokedAt time.Time) error {
	session, ok := f.sessions[id]
	if !ok || session.RevokedAt != nil {
		return storage.ErrNotFound
	}
	session.RevokedAt = &revokedAt
	f.sessions[id] = session
	return nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return Config{
		Issuer:   "rekey",
		Audience: "rekey-web",
		Key:      key,
		TTL:      time.Hour,
	}
}

func newTestManager(t *testing.T, store *fakeWebSessionStore) *Manager {
	t.Helper()
	manager := NewManager(store, testConfig(t))
	manager.clock = func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}
	return manager
}

func TestEstablishThenVerify(t *testing.T) {
	store := newFakeWebSessionStore()
	manager := newTestManager(t, store)

	established, err := manager.Establish(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if established.Token == "" {
		t.Fatal("expected signed token")
	}
	if established.Session.UserID != "user-1" {
		t.Fatalf("session user = %q, want user-1", established.Session.UserID)
	}

	claims, err := manager.Verify(context.Background(), established.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("claims user = %q, want user-1", claims.UserID)
	}
	if claims.SessionID != established.Session.ID {
		t.Fatalf("claims session = %q, want %q", claims.SessionID, established.Session.ID)
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	store := newFakeWebSessionStore()
	manager := newTestManager(t, store)

	established, err := manager.Establish(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("establish: %v", err)
	}

	other := newTestManager(t, store)
	_, err = other.Verify(context.Background(), established.Token)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for foreign signature, got %v", err)
	}
}

func TestVerifyRejectsRevokedSession(t *testing.T) {
	store := newFakeWebSessionStore()
	manager := newTestManager(t, store)

	established, err := manager.Establish(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if err := manager.Revoke(context.Background(), established.Session.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	_, err = manager.Verify(context.Background(), established.Token)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for revoked session, got %v", err)
	}
}

func TestVerifyRejectsExpiredSession(t *testing.T) {
	store := newFakeWebSessionStore()
	manager := newTestManager(t, store)

	established, err := manager.Establish(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("establish: %v", err)
	}

	manager.clock = func() time.Time {
		return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	}
	_, err = manager.Verify(context.Background(), established.Token)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyRejectsMissingRow(t *testing.T) {
	store := newFakeWebSessionStore()
	manager := newTestManager(t, store)

	established, err := manager.Establish(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	delete(store.sessions, established.Session.ID)

	_, err = manager.Verify(context.Background(), established.Token)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for missing row, got %v", err)
	}
}

func TestVerifyRejectsGarbageToken(t *testing.T) {
	manager := newTestManager(t, newFakeWebSessionStore())
	_, err := manager.Verify(context.Background(), "not-a-token")
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
