package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"

	"storefront/internal/app/commands"
)

type stubStore struct {
	mu      sync.Mutex
	records map[string]IdempotencyRecord
	getErr  error
}

func newStubStore() *stubStore {
	return &stubStore{records: make(map[string]IdempotencyRecord)}
}

func (s *stubStore) Get(_ context.Context, key string) (IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return IdempotencyRecord{}, false, s.getErr
	}
	rec, ok := s.records[key]
	return rec, ok, nil
}

func (s *stubStore) Save(_ context.Context, rec IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key] = rec
	return nil
}

type result struct {
	Value int `json:"value"`
}

type countCommand struct {
	key     string
	command string
}

func (c countCommand) Key() string {
	if c.command != "" {
		return c.command
	}
	return "test.count"
}

func (c countCommand) IdempotencyKey() string { return c.key }

func (c countCommand) ResultPrototype() any { return &result{} }

type payloadCommand struct {
	countCommand
	payload string
}

func (c payloadCommand) IdempotencyFingerprint() string { return c.payload }

type counter struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (c *counter) Dispatch(context.Context, commands.Command) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return nil, c.fail
	}
	c.calls++
	return &result{Value: c.calls}, nil
}

func TestIdempotencyReplaysStoredResult(t *testing.T) {
	next := &counter{}
	bus := Idempotency(newStubStore(), nil, nil)(next)
	ctx := context.Background()

	first, err := commands.Dispatch[countCommand, *result](ctx, bus, countCommand{key: "k1"})
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	second, err := commands.Dispatch[countCommand, *result](ctx, bus, countCommand{key: "k1"})
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if first.Value != 1 || second.Value != 1 {
		t.Fatalf("expected replayed value 1, got %d and %d", first.Value, second.Value)
	}
	if next.calls != 1 {
		t.Fatalf("handler ran %d times", next.calls)
	}
}

func TestIdempotencyWithoutKeyAlwaysRuns(t *testing.T) {
	next := &counter{}
	bus := Idempotency(newStubStore(), nil, nil)(next)
	for i := 0; i < 3; i++ {
		if _, err := bus.Dispatch(context.Background(), countCommand{}); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}
	if next.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", next.calls)
	}
}

func TestIdempotencyDoesNotRecordFailures(t *testing.T) {
	boom := errors.New("boom")
	next := &counter{fail: boom}
	store := newStubStore()
	bus := Idempotency(store, nil, nil)(next)

	if _, err := bus.Dispatch(context.Background(), countCommand{key: "k1"}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	next.fail = nil
	res, err := commands.Dispatch[countCommand, *result](context.Background(), bus, countCommand{key: "k1"})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Value != 1 {
		t.Fatalf("retry should execute, got %d", res.Value)
	}
}

func TestIdempotencyRejectsKeyReuseAcrossCommands(t *testing.T) {
	bus := Idempotency(newStubStore(), nil, nil)(&counter{})
	ctx := context.Background()
	if _, err := bus.Dispatch(ctx, countCommand{key: "shared"}); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err := bus.Dispatch(ctx, countCommand{key: "shared", command: "test.other"})
	if !errors.Is(err, ErrKeyReused) {
		t.Fatalf("expected ErrKeyReused, got %v", err)
	}
}

func TestIdempotencySurfacesStoreErrors(t *testing.T) {
	store := newStubStore()
	store.getErr = errors.New("store down")
	next := &counter{}
	bus := Idempotency(store, nil, nil)(next)
	if _, err := bus.Dispatch(context.Background(), countCommand{key: "k1"}); err == nil {
		t.Fatal("expected an error")
	}
	if next.calls != 0 {
		t.Fatal("handler must not run when the record cannot be read")
	}
}

func TestIdempotencyRejectsKeyReuseWithDifferentPayload(t *testing.T) {
	next := &counter{}
	bus := Idempotency(newStubStore(), nil, nil)(next)
	ctx := context.Background()

	if _, err := bus.Dispatch(ctx, payloadCommand{countCommand{key: "k1"}, "hello"}); err != nil {
		t.Fatalf("first: %v", err)
	}
	replayed, err := commands.Dispatch[payloadCommand, *result](ctx, bus, payloadCommand{countCommand{key: "k1"}, "hello"})
	if err != nil || replayed.Value != 1 {
		t.Fatalf("same payload should replay, got %+v %v", replayed, err)
	}
	if _, err := bus.Dispatch(ctx, payloadCommand{countCommand{key: "k1"}, "changed"}); !errors.Is(err, ErrKeyReused) {
		t.Fatalf("expected ErrKeyReused, got %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("handler ran %d times", next.calls)
	}
}
