package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"storefront/internal/app/notify"
)

const (
	TaskRedeliver   = "notify:redeliver"
	NotificationsQ  = "notifications"
	defaultMaxRetry = 5
)

// RedisOpt parses a redis:// URL into asynq connection options.
func RedisOpt(url string) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(url)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return opt, nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Retrier queues failed notifications for bounded redelivery. Tasks that exhaust
// MaxRetry are archived by asynq.
type Retrier struct {
	client   enqueuer
	maxRetry int
}

func NewRetrier(client *asynq.Client, maxRetry int) *Retrier {
	if maxRetry <= 0 {
		maxRetry = defaultMaxRetry
	}
	return &Retrier{client: client, maxRetry: maxRetry}
}

func (r *Retrier) Enqueue(ctx context.Context, event notify.Event) error {
	task, err := NewRedeliverTask(event)
	if err != nil {
		return err
	}
	_, err = r.client.EnqueueContext(ctx, task,
		asynq.Queue(NotificationsQ),
		asynq.MaxRetry(r.maxRetry),
		asynq.TaskID(event.ID),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("asynq: enqueue %s: %w", TaskRedeliver, err)
	}
	return nil
}

func NewRedeliverTask(event notify.Event) (*asynq.Task, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("asynq: encode event: %w", err)
	}
	return asynq.NewTask(TaskRedeliver, payload), nil
}

// RedeliverHandler republishes a queued event through the configured publisher.
type RedeliverHandler struct {
	Publisher notify.Publisher
	Logger    *slog.Logger
}

func (h RedeliverHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var event notify.Event
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		return fmt.Errorf("asynq: decode event: %v: %w", err, asynq.SkipRetry)
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := h.Publisher.Publish(ctx, event); err != nil {
		return err
	}
	if h.Logger != nil {
		h.Logger.InfoContext(ctx, "notification redelivered", "event_id", event.ID, "type", event.Type)
	}
	return nil
}

var (
	_ notify.Retrier = (*Retrier)(nil)
	_ asynq.Handler  = RedeliverHandler{}
)
