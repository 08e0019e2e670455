package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront/internal/domain/user"
)

func TestChannelsDeduplicates(t *testing.T) {
	event := Event{
		ID:             "e1",
		Type:           ConversationCreated,
		ConversationID: "c1",
		Recipients:     []user.ID{"alice", "", "alice", "admin"},
		Roles:          []user.Role{user.RoleAdmin, user.RoleAdmin},
	}
	got := Channels(event)
	want := []string{"user:alice", "user:admin", "conversation:c1", "role:ADMIN"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestParseChannel(t *testing.T) {
	cases := []struct {
		channel  string
		kind, id string
		ok       bool
	}{
		{channel: "user:alice", kind: "user", id: "alice", ok: true},
		{channel: "conversation:c1", kind: "conversation", id: "c1", ok: true},
		{channel: "role:ADMIN", kind: "role", id: "ADMIN", ok: true},
		{channel: "user:", ok: false},
		{channel: "topic:x", ok: false},
	}
	for _, tc := range cases {
		kind, id, ok := ParseChannel(tc.channel)
		if ok != tc.ok || kind != tc.kind || id != tc.id {
			t.Fatalf("%s: got (%q, %q, %v)", tc.channel, kind, id, ok)
		}
	}
}

func TestEventValidate(t *testing.T) {
	valid := Event{ID: "e1", Type: MessageCreated, ConversationID: "c1"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid event: %v", err)
	}
	for _, e := range []Event{
		{Type: MessageCreated, ConversationID: "c1"},
		{ID: "e1", Type: "message.deleted", ConversationID: "c1"},
		{ID: "e1", Type: MessageCreated},
	} {
		if err := e.Validate(); !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("expected ErrInvalidEvent for %+v, got %v", e, err)
		}
	}
}

type recordingRetrier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingRetrier) Enqueue(_ context.Context, event Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *recordingRetrier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestDispatcherPublishesInBackground(t *testing.T) {
	bus := NewMemoryBus()
	d := NewDispatcher(bus, nil, nil, DispatcherConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	d.Notify(ctx, Event{ID: "e1", Type: MessageCreated, ConversationID: "c1"})
	cancel()

	select {
	case <-bus.Published():
	case <-time.After(2 * time.Second):
		t.Fatal("event was not published")
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if events := bus.Events(); len(events) != 1 || events[0].ID != "e1" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestDispatcherQueuesFailedPublishes(t *testing.T) {
	bus := NewMemoryBus()
	bus.SetFailure(errors.New("broker unavailable"))
	retrier := &recordingRetrier{}
	d := NewDispatcher(bus, retrier, nil, DispatcherConfig{PublishTimeout: time.Second})

	d.Notify(context.Background(), Event{ID: "e1", Type: MessageCreated, ConversationID: "c1"})
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if retrier.count() != 1 {
		t.Fatalf("expected one retry, got %d", retrier.count())
	}
}

func TestDispatcherDropsAfterClose(t *testing.T) {
	var published int
	var mu sync.Mutex
	d := NewDispatcher(PublisherFunc(func(context.Context, Event) error {
		mu.Lock()
		published++
		mu.Unlock()
		return nil
	}), nil, nil, DispatcherConfig{})
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	d.Notify(context.Background(), Event{ID: "e1", Type: MessageCreated, ConversationID: "c1"})
	mu.Lock()
	defer mu.Unlock()
	if published != 0 {
		t.Fatalf("expected no publishes after close, got %d", published)
	}
}
