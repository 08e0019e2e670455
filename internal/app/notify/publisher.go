package notify

import (
	"context"
	"errors"
	"sync"
)

// Publisher delivers an event to every channel it addresses. Exactly one backend is
// configured per process.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Notifier is what the chat core sees: a call that never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Retrier accepts events whose first publish failed.
type Retrier interface {
	Enqueue(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error { return f(ctx, event) }

// ErrTransport marks a publish that did not reach the backend.
var ErrTransport = errors.New("notify: transport failure")

// MemoryBus records published events in order. Fail, when set, is returned by Publish
// instead of recording.
type MemoryBus struct {
	mu     sync.Mutex
	events []Event
	fail   error
	notify chan struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{notify: make(chan struct{}, 1)}
}

func (b *MemoryBus) Publish(_ context.Context, event Event) error {
	b.mu.Lock()
	if b.fail != nil {
		err := b.fail
		b.mu.Unlock()
		return err
	}
	b.events = append(b.events, event)
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

func (b *MemoryBus) SetFailure(err error) {
	b.mu.Lock()
	b.fail = err
	b.mu.Unlock()
}

func (b *MemoryBus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Published is signalled after each recorded event.
func (b *MemoryBus) Published() <-chan struct{} {
	return b.notify
}

// Synchronous is a Notifier that publishes inline and drops errors. Tests use it to
// observe events without waiting on the dispatcher.
type Synchronous struct {
	Publisher Publisher
}

func (s Synchronous) Notify(ctx context.Context, event Event) {
	if s.Publisher != nil {
		_ = s.Publisher.Publish(ctx, event)
	}
}

var (
	_ Publisher = (*MemoryBus)(nil)
	_ Notifier  = Synchronous{}
)
