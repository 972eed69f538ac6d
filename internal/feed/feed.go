package feed

import (
	"context"
	"sync"

	"chat-client/internal/models"
)

// Feed is a source of realtime change events, one subscription per open
// conversation. Delivery is at-least-once and ordered per connection
// only; consumers must deduplicate by id.
type Feed interface {
	Subscribe(ctx context.Context, conversationID int64) (*Subscription, error)
}

// eventBuffer bounds the events held while the consumer is busy, e.g.
// while the authoritative fetch is still in flight.
const eventBuffer = 256

// Subscription is a cancellable handle on a conversation's event stream.
// The events channel is closed when the subscription ends; Err reports
// why, nil meaning a clean Close.
type Subscription struct {
	events chan models.Event
	cancel context.CancelFunc

	mu        sync.Mutex
	err       error
	closed    bool
	closeOnce sync.Once
}

func newSubscription(cancel context.CancelFunc) *Subscription {
	return &Subscription{
		events: make(chan models.Event, eventBuffer),
		cancel: cancel,
	}
}

// Events returns the stream of change events.
func (s *Subscription) Events() <-chan models.Event {
	return s.events
}

// Err returns the terminal error, if any, once Events is closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the subscription down. Safe to call more than once.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
	})
	return nil
}

// deliver pushes an event, dropping it if the consumer has fallen
// hopelessly behind; the at-least-once feed will not redeliver, but the
// next authoritative fetch repairs any gap. Events racing the close of
// the subscription are dropped rather than sent on a closed channel.
func (s *Subscription) deliver(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// finish closes the stream with a terminal error (nil for clean close).
// Idempotent; later calls keep the first error.
func (s *Subscription) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.events)
}
