package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"storefront/internal/app/notify"
)

const (
	notificationsTopic = "chat.notifications.v1"
	specVersion        = "1.0"
	eventSource        = "storefront/chat"
	contentTypeJSON    = "application/json"
)

// NotificationsTopic returns the topic name under prefix.
func NotificationsTopic(prefix string) string {
	return prefix + notificationsTopic
}

// Envelope is a CloudEvents 1.0 structured-mode record.
type Envelope struct {
	SpecVersion     string       `json:"specversion"`
	ID              string       `json:"id"`
	Source          string       `json:"source"`
	Type            string       `json:"type"`
	Subject         string       `json:"subject,omitempty"`
	Time            time.Time    `json:"time"`
	DataContentType string       `json:"datacontenttype"`
	Data            notify.Event `json:"data"`
}

type sender interface {
	Send(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error
}

// Publisher writes each event once to the notifications topic, keyed by conversation so
// one conversation's events stay ordered within a partition.
type Publisher struct {
	producer sender
	topic    string
}

func NewPublisher(producer *Producer, topicPrefix string) *Publisher {
	return &Publisher{producer: producer, topic: NotificationsTopic(topicPrefix)}
}

func (p *Publisher) Publish(ctx context.Context, event notify.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(Envelope{
		SpecVersion:     specVersion,
		ID:              event.ID,
		Source:          eventSource,
		Type:            string(event.Type),
		Subject:         event.ConversationID,
		Time:            event.OccurredAt.UTC(),
		DataContentType: contentTypeJSON,
		Data:            event,
	})
	if err != nil {
		return fmt.Errorf("kafka: encode envelope: %w", err)
	}
	headers := map[string]string{
		"ce_type":      string(event.Type),
		"content-type": "application/cloudevents+json",
	}
	if err := p.producer.Send(ctx, p.topic, event.ConversationID, payload, headers); err != nil {
		return fmt.Errorf("%w: kafka send: %w", notify.ErrTransport, err)
	}
	return nil
}

// Sink receives events for one channel; the realtime hub implements it.
type Sink interface {
	Deliver(channel string, event notify.Event) int
}

// BridgeHandler decodes notification records and delivers them to the local sink on
// every channel they address.
type BridgeHandler struct {
	Sink   Sink
	Logger *slog.Logger
}

var errMalformedEnvelope = errors.New("kafka: malformed notification envelope")

func (h BridgeHandler) Handle(_ context.Context, msg *sarama.ConsumerMessage) error {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		h.warn("kafka bridge dropped record", msg, err)
		return fmt.Errorf("%w: %w", errMalformedEnvelope, err)
	}
	if env.SpecVersion != specVersion {
		h.warn("kafka bridge dropped record", msg, errMalformedEnvelope)
		return errMalformedEnvelope
	}
	if err := env.Data.Validate(); err != nil {
		h.warn("kafka bridge dropped record", msg, err)
		return err
	}
	for _, channel := range notify.Channels(env.Data) {
		h.Sink.Deliver(channel, env.Data)
	}
	return nil
}

func (h BridgeHandler) warn(text string, msg *sarama.ConsumerMessage, err error) {
	if h.Logger == nil {
		return
	}
	h.Logger.Warn(text, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
}

var (
	_ notify.Publisher = (*Publisher)(nil)
	_ MessageHandler   = BridgeHandler{}
)
