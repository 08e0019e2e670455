package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"storefront/internal/app/notify"
)

// Publisher fans an event out with one PUBLISH per addressed channel, pipelined.
type Publisher struct {
	client goredis.UniversalClient
	prefix string
}

func NewPublisher(client goredis.UniversalClient, prefix string) *Publisher {
	return &Publisher{client: client, prefix: prefix}
}

func (p *Publisher) Publish(ctx context.Context, event notify.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}
	channels := notify.Channels(event)
	_, err = p.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, ch := range channels {
			pipe.Publish(ctx, p.prefix+ch, payload)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: redis publish: %w", notify.ErrTransport, err)
	}
	return nil
}

var _ notify.Publisher = (*Publisher)(nil)
