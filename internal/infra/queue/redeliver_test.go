package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"storefront/internal/app/notify"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func sampleEvent() notify.Event {
	return notify.Event{ID: "e1", Type: notify.MessageCreated, ConversationID: "c1"}
}

func TestRetrierEnqueuesRedeliverTask(t *testing.T) {
	fake := &fakeEnqueuer{}
	r := &Retrier{client: fake, maxRetry: 3}
	if err := r.Enqueue(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(fake.tasks) != 1 || fake.tasks[0].Type() != TaskRedeliver {
		t.Fatalf("unexpected tasks %+v", fake.tasks)
	}
}

func TestRetrierTreatsDuplicateAsQueued(t *testing.T) {
	r := &Retrier{client: &fakeEnqueuer{err: asynq.ErrTaskIDConflict}, maxRetry: 3}
	if err := r.Enqueue(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("duplicate should be accepted, got %v", err)
	}
	r = &Retrier{client: &fakeEnqueuer{err: errors.New("redis down")}, maxRetry: 3}
	if err := r.Enqueue(context.Background(), sampleEvent()); err == nil {
		t.Fatal("expected an enqueue error")
	}
}

func TestRedeliverHandlerRepublishes(t *testing.T) {
	bus := notify.NewMemoryBus()
	task, err := NewRedeliverTask(sampleEvent())
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	if err := (RedeliverHandler{Publisher: bus}).ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}
	if events := bus.Events(); len(events) != 1 || events[0].ID != "e1" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestRedeliverHandlerRetriesTransportErrors(t *testing.T) {
	bus := notify.NewMemoryBus()
	bus.SetFailure(notify.ErrTransport)
	task, _ := NewRedeliverTask(sampleEvent())
	err := (RedeliverHandler{Publisher: bus}).ProcessTask(context.Background(), task)
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected a retryable error, got %v", err)
	}
}

func TestRedeliverHandlerSkipsPoisonTasks(t *testing.T) {
	handler := RedeliverHandler{Publisher: notify.NewMemoryBus()}
	for _, payload := range [][]byte{[]byte("{"), []byte(`{"id":"e1","type":"bogus","conversation_id":"c1"}`)} {
		err := handler.ProcessTask(context.Background(), asynq.NewTask(TaskRedeliver, payload))
		if !errors.Is(err, asynq.SkipRetry) {
			t.Fatalf("expected SkipRetry for %s, got %v", payload, err)
		}
	}
}
