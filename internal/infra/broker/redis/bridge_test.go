package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"storefront/internal/app/notify"
)

type recordingSink struct {
	channels []string
	events   []notify.Event
}

func (s *recordingSink) Deliver(channel string, event notify.Event) int {
	s.channels = append(s.channels, channel)
	s.events = append(s.events, event)
	return 1
}

func TestBridgeStripsPrefix(t *testing.T) {
	sink := &recordingSink{}
	bridge := NewBridge(nil, "storefront:", sink, nil)
	payload, _ := json.Marshal(notify.Event{ID: "e1", Type: notify.MessageCreated, ConversationID: "c1"})

	bridge.handle(&goredis.Message{Channel: "storefront:user:alice", Payload: string(payload)})
	bridge.handle(&goredis.Message{Channel: "other:user:alice", Payload: string(payload)})
	bridge.handle(&goredis.Message{Channel: "storefront:user:bob", Payload: "{broken"})

	if len(sink.channels) != 1 || sink.channels[0] != "user:alice" {
		t.Fatalf("unexpected deliveries %v", sink.channels)
	}
	if sink.events[0].ID != "e1" {
		t.Fatalf("unexpected event %+v", sink.events[0])
	}
}

func TestPublisherReportsTransportFailure(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	pub := NewPublisher(client, "storefront:")
	err := pub.Publish(context.Background(), notify.Event{ID: "e1", Type: notify.MessageCreated, ConversationID: "c1"})
	if !errors.Is(err, notify.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if err := pub.Publish(context.Background(), notify.Event{}); !errors.Is(err, notify.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}
