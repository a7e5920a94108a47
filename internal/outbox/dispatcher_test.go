package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/rekey/internal/storage"
)

type fakeOutboxStore struct {
	events   map[string]storage.OutboxEvent
	leaseErr error
}

func newFakeOutboxStore() *fakeOutboxStore {
	return &fakeOutboxStore{events: map[string]storage.OutboxEvent{}}
}

func (f *fakeOutboxStore) EnqueueOutboxEvent(_ context.Context, event storage.OutboxEvent) error {
	if event.Status == "" {
		event.Status = storage.OutboxStatusPending
	}
	f.events[event.ID] = event
	return nil
}

func (f *fakeOutboxStore) LeaseOutboxEvents(_ context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]storage.OutboxEvent, error) {
	if f.leaseErr != nil {
		return nil, f.leaseErr
	}
	leased := make([]storage.OutboxEvent, 0, limit)
	for id, event := range f.events {
		if len(leased) >= limit {
			break
		}
		due := event.Status == storage.OutboxStatusPending && !event.NextAttemptAt.After(now)
		expired := event.Status == storage.OutboxStatusLeased && event.LeaseExpiresAt != nil && !event.LeaseExpiresAt.After(now)
		if !due && !expired {
			continue
		}
		event.Status = storage.OutboxStatusLeased
		event.LeaseOwner = consumer
		expiresAt := now.Add(leaseTTL)
		event.LeaseExpiresAt = &expiresAt
		f.events[id] = event
		leased = append(leased, event)
	}
	return leased, nil
}

func (f *fakeOutboxStore) MarkOutboxSucceeded(_ context.Context, eventID string, consumer string, processedAt time.Time) error {
	event, ok := f.events[eventID]
	if !ok || event.Status != storage.OutboxStatusLeased || event.LeaseOwner != consumer {
		return storage.ErrNotFound
	}
	event.Status = storage.OutboxStatusSucceeded
	event.ProcessedAt = &processedAt
	f.events[eventID] = event
	return nil
}

func (f *fakeOutboxStore) MarkOutboxRetry(_ context.Context, eventID string, consumer string, nextAttemptAt time.Time, lastError string) error {
	event, ok := f.events[eventID]
	if !ok || event.Status != storage.OutboxStatusLeased || event.LeaseOwner != consumer {
		return storage.ErrNotFound
	}
	event.Status = storage.OutboxStatusPending
	event.AttemptCount++
	event.NextAttemptAt = nextAttemptAt
	event.LastError = lastError
	event.LeaseOwner = ""
	event.LeaseExpiresAt = nil
	f.events[eventID] = event
	return nil
}

func (f *fakeOutboxStore) MarkOutboxDead(_ context.Context, eventID string, consumer string, lastError string, processedAt time.Time) error {
	event, ok := f.events[eventID]
	if !ok || event.Status != storage.OutboxStatusLeased || event.LeaseOwner != consumer {
		return storage.ErrNotFound
	}
	event.Status = storage.OutboxStatusDead
	event.AttemptCount++
	event.LastError = lastError
	event.ProcessedAt = &processedAt
	f.events[eventID] = event
	return nil
}

type recordingSink struct {
	delivered []storage.OutboxEvent
	err       error
}

func (s *recordingSink) Deliver(_ context.Context, event storage.OutboxEvent) error {
	if s.err != nil {
		return s.err
	}
	s.delivered = append(s.delivered, event)
	return nil
}

func seedEvent(store *fakeOutboxStore, id string, attempts int) {
	store.events[id] = storage.OutboxEvent{
		ID:           id,
		EventType:    "credential.enrolled_via_recovery",
		PayloadJSON:  "{}",
		Status:       storage.OutboxStatusPending,
		AttemptCount: attempts,
	}
}

func TestDispatchOnceDeliversAndAcks(t *testing.T) {
	store := newFakeOutboxStore()
	seedEvent(store, "event-1", 0)
	seedEvent(store, "event-2", 0)
	sink := &recordingSink{}
	dispatcher := NewDispatcher(store, sink, "worker")

	delivered, err := dispatcher.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("dispatch once: %v", err)
	}
	if delivered != 2 {
		t.Fatalf("delivered = %d, want 2", delivered)
	}
	if len(sink.delivered) != 2 {
		t.Fatalf("sink received %d events, want 2", len(sink.delivered))
	}
	for _, id := range []string{"event-1", "event-2"} {
		if store.events[id].Status != storage.OutboxStatusSucceeded {
			t.Fatalf("event %s status = %q, want succeeded", id, store.events[id].Status)
		}
	}
}

func TestDispatchOnceSchedulesRetry(t *testing.T) {
	store := newFakeOutboxStore()
	seedEvent(store, "event-1", 0)
	sink := &recordingSink{err: errors.New("sink unavailable")}
	dispatcher := NewDispatcher(store, sink, "worker")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dispatcher.clock = func() time.Time { return now }

	delivered, err := dispatcher.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("dispatch once: %v", err)
	}
	if delivered != 0 {
		t.Fatalf("delivered = %d, want 0", delivered)
	}

	event := store.events["event-1"]
	if event.Status != storage.OutboxStatusPending {
		t.Fatalf("status = %q, want pending", event.Status)
	}
	if event.AttemptCount != 1 {
		t.Fatalf("attempt count = %d, want 1", event.AttemptCount)
	}
	if !event.NextAttemptAt.Equal(now.Add(defaultBaseBackoff)) {
		t.Fatalf("next attempt = %v, want %v", event.NextAttemptAt, now.Add(defaultBaseBackoff))
	}
	if event.LastError == "" {
		t.Fatal("expected last error recorded")
	}
}

func TestDispatchOnceBackoffDoubles(t *testing.T) {
	store := newFakeOutboxStore()
	seedEvent(store, "event-1", 3)
	sink := &recordingSink{err: errors.New("sink unavailable")}
	dispatcher := NewDispatcher(store, sink, "worker")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dispatcher.clock = func() time.Time { return now }

	if _, err := dispatcher.DispatchOnce(context.Background()); err != nil {
		t.Fatalf("dispatch once: %v", err)
	}

	event := store.events["event-1"]
	want := now.Add(8 * defaultBaseBackoff)
	if !event.NextAttemptAt.Equal(want) {
		t.Fatalf("next attempt = %v, want %v", event.NextAttemptAt, want)
	}
}

func TestDispatchOnceMarksDeadAfterMaxAttempts(t *testing.T) {
	store := newFakeOutboxStore()
	seedEvent(store, "event-1", defaultMaxAttempts-1)
	sink := &recordingSink{err: errors.New("sink unavailable")}
	dispatcher := NewDispatcher(store, sink, "worker")

	if _, err := dispatcher.DispatchOnce(context.Background()); err != nil {
		t.Fatalf("dispatch once: %v", err)
	}

	event := store.events["event-1"]
	if event.Status != storage.OutboxStatusDead {
		t.Fatalf("status = %q, want dead", event.Status)
	}
}

func TestDispatchOnceLeaseError(t *testing.T) {
	store := newFakeOutboxStore()
	store.leaseErr = errors.New("db locked")
	dispatcher := NewDispatcher(store, &recordingSink{}, "worker")

	_, err := dispatcher.DispatchOnce(context.Background())
	if err == nil {
		t.Fatal("expected lease error")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := newFakeOutboxStore()
	dispatcher := NewDispatcher(store, &recordingSink{}, "worker")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
