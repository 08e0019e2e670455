package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultPublishTimeout = 5 * time.Second
	defaultConcurrency    = 64
)

type DispatcherConfig struct {
	PublishTimeout time.Duration
	Concurrency    int
}

// Dispatcher hands events to a Publisher off the request path. A publish error is
// logged as a transport failure and, when a Retrier is set, queued for redelivery.
type Dispatcher struct {
	publisher Publisher
	retrier   Retrier
	logger    *slog.Logger
	timeout   time.Duration
	sem       chan struct{}
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(publisher Publisher, retrier Retrier, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if publisher == nil {
		panic("notify: publisher required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Dispatcher{
		publisher: publisher,
		retrier:   retrier,
		logger:    logger,
		timeout:   cfg.PublishTimeout,
		sem:       make(chan struct{}, cfg.Concurrency),
	}
}

// Notify returns immediately. The publish runs on a context detached from ctx so a
// finished request does not cancel it.
func (d *Dispatcher) Notify(ctx context.Context, event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.WarnContext(ctx, "notification dropped after shutdown", "event_id", event.ID, "type", event.Type)
		return
	}
	d.wg.Add(1)
	go d.run(context.WithoutCancel(ctx), event)
}

func (d *Dispatcher) run(parent context.Context, event Event) {
	defer d.wg.Done()
	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		d.fail(parent, event, fmt.Errorf("%w: dispatcher saturated: %w", ErrTransport, ctx.Err()))
		return
	}

	if err := d.publisher.Publish(ctx, event); err != nil {
		if !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		d.fail(parent, event, err)
	}
}

func (d *Dispatcher) fail(ctx context.Context, event Event, err error) {
	d.logger.WarnContext(ctx, "notification publish failed",
		"event_id", event.ID,
		"type", event.Type,
		"conversation_id", event.ConversationID,
		"error", err,
	)
	if d.retrier == nil {
		return
	}
	if rerr := d.retrier.Enqueue(ctx, event); rerr != nil {
		d.logger.ErrorContext(ctx, "notification retry enqueue failed", "event_id", event.ID, "error", rerr)
	}
}

// Close stops accepting events and waits for in-flight publishes or ctx expiry.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Notifier = (*Dispatcher)(nil)
