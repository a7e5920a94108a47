// Package outbox delivers queued domain events at-least-once.
//
// Events are enqueued transactionally with the mutation that produced them
// and leased here for delivery. A delivery failure schedules a retry with
// exponential backoff; events that exhaust their attempts are marked dead.
// Sinks must tolerate duplicate deliveries.
package outbox

import (
	"context"
	"log"
	"time"

	"github.com/louisbranch/rekey/internal/storage"
)

const (
	defaultLeaseLimit  = 50
	defaultLeaseTTL    = 30 * time.Second
	defaultBaseBackoff = 10 * time.Second
	defaultMaxAttempts = 8
)

// Sink receives dispatched events.
type Sink interface {
	Deliver(ctx context.Context, event storage.OutboxEvent) error
}

// LogSink writes events to the process log. It is the default sink when no
// downstream consumer is wired.
type LogSink struct{}

// Deliver implements Sink.
func (LogSink) Deliver(_ context.Context, event storage.OutboxEvent) error {
	log.Printf("outbox event %s type=%s dedupe=%s", event.ID, event.EventType, event.DedupeKey)
	return nil
}

// Dispatcher leases pending events and delivers them to a sink.
type Dispatcher struct {
	store       storage.OutboxStore
	sink        Sink
	consumer    string
	leaseLimit  int
	leaseTTL    time.Duration
	baseBackoff time.Duration
	maxAttempts int
	clock       func() time.Time
}

// NewDispatcher builds a dispatcher with delivery defaults.
func NewDispatcher(store storage.OutboxStore, sink Sink, consumer string) *Dispatcher {
	if sink == nil {
		sink = LogSink{}
	}
	return &Dispatcher{
		store:       store,
		sink:        sink,
		consumer:    consumer,
		leaseLimit:  defaultLeaseLimit,
		leaseTTL:    defaultLeaseTTL,
		baseBackoff: defaultBaseBackoff,
		maxAttempts: defaultMaxAttempts,
		clock:       time.Now,
	}
}

// Run dispatches on the given interval until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	if d == nil || d.store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil {
				log.Printf("outbox dispatch: %v", err)
			}
		}
	}
}

// DispatchOnce leases one batch of due events and delivers each, returning
// the number delivered successfully.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	if d == nil || d.store == nil {
		return 0, nil
	}
	now := d.clock().UTC()
	leased, err := d.store.LeaseOutboxEvents(ctx, d.consumer, d.leaseLimit, now, d.leaseTTL)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, event := range leased {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if err := d.sink.Deliver(ctx, event); err != nil {
			d.nack(ctx, event, err)
			continue
		}
		if err := d.store.MarkOutboxSucceeded(ctx, event.ID, d.consumer, d.clock().UTC()); err != nil {
			log.Printf("outbox ack %s: %v", event.ID, err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

func (d *Dispatcher) nack(ctx context.Context, event storage.OutboxEvent, cause error) {
	now := d.clock().UTC()
	// AttemptCount reflects attempts before this one.
	if event.AttemptCount+1 >= d.maxAttempts {
		if err := d.store.MarkOutboxDead(ctx, event.ID, d.consumer, cause.Error(), now); err != nil {
			log.Printf("outbox dead %s: %v", event.ID, err)
		}
		return
	}
	nextAttemptAt := now.Add(d.backoff(event.AttemptCount))
	if err := d.store.MarkOutboxRetry(ctx, event.ID, d.consumer, nextAttemptAt, cause.Error()); err != nil {
		log.Printf("outbox retry %s: %v", event.ID, err)
	}
}

// backoff doubles per attempt, capped at 32x the base.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	backoff := d.baseBackoff
	for i := 0; i < attempts && backoff < 32*d.baseBackoff; i++ {
		backoff *= 2
	}
	if backoff > 32*d.baseBackoff {
		backoff = 32 * d.baseBackoff
	}
	return backoff
}
