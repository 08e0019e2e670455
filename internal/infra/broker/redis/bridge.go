package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"storefront/internal/app/notify"
)

// Sink receives events for one channel; the realtime hub implements it.
type Sink interface {
	Deliver(channel string, event notify.Event) int
}

// Bridge pattern-subscribes to every prefixed channel and forwards messages to the
// local sink, so each API instance serves its own socket clients.
type Bridge struct {
	client goredis.UniversalClient
	prefix string
	sink   Sink
	logger *slog.Logger
}

func NewBridge(client goredis.UniversalClient, prefix string, sink Sink, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{client: client, prefix: prefix, sink: sink, logger: logger}
}

// Run blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, b.prefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	b.logger.Info("redis bridge subscribed", "pattern", b.prefix+"*")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.handle(msg)
		}
	}
}

func (b *Bridge) handle(msg *goredis.Message) {
	channel, ok := strings.CutPrefix(msg.Channel, b.prefix)
	if !ok {
		return
	}
	var event notify.Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		b.logger.Warn("redis bridge dropped malformed event", "channel", msg.Channel, "error", err)
		return
	}
	b.sink.Deliver(channel, event)
}
