package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"storefront/internal/app/commands"
)

// IdempotentCommand is implemented by commands whose first successful result should be
// replayed for repeated deliveries carrying the same key.
type IdempotentCommand interface {
	commands.Command
	// IdempotencyKey must already be scoped to the caller; empty disables replay.
	IdempotencyKey() string
	// ResultPrototype returns a pointer the stored payload is decoded into.
	ResultPrototype() any
}

// FingerprintedCommand lets a command describe its payload so a key replayed with
// different parameters is rejected instead of answered with the stored result.
type FingerprintedCommand interface {
	IdempotencyFingerprint() string
}

type IdempotencyRecord struct {
	Key         string
	Command     string
	Fingerprint string
	Payload     []byte
	OccurredAt  time.Time
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string) (IdempotencyRecord, bool, error)
	Save(ctx context.Context, rec IdempotencyRecord) error
}

type ResultCodec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

type JSONResultCodec struct{}

func (JSONResultCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONResultCodec) Decode(data []byte, out any) error {
	return json.Unmarshal(data, out)
}

var (
	errMissingPrototype = errors.New("middleware: idempotent command requires a pointer result prototype")
	ErrKeyReused        = errors.New("middleware: idempotency key reused for a different request")
)

// Idempotency replays stored results. Failed executions are not recorded, so a retry
// after a rejected request is evaluated again.
func Idempotency(store IdempotencyStore, codec ResultCodec, logger *slog.Logger) CommandMiddleware {
	if store == nil {
		panic("middleware: idempotency store required")
	}
	if codec == nil {
		codec = JSONResultCodec{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			idCmd, ok := cmd.(IdempotentCommand)
			if !ok {
				return next.Dispatch(ctx, cmd)
			}
			key := idCmd.IdempotencyKey()
			if key == "" {
				return next.Dispatch(ctx, cmd)
			}
			rec, found, err := store.Get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("middleware: load idempotency record: %w", err)
			}
			fingerprint := ""
			if fp, ok := cmd.(FingerprintedCommand); ok {
				fingerprint = fp.IdempotencyFingerprint()
			}
			if found {
				if rec.Command != "" && rec.Command != cmd.Key() {
					return nil, ErrKeyReused
				}
				if rec.Fingerprint != fingerprint {
					return nil, ErrKeyReused
				}
				return replay(codec, idCmd, rec.Payload)
			}

			result, err := next.Dispatch(ctx, cmd)
			if err != nil {
				return nil, err
			}
			record := IdempotencyRecord{
				Key:         key,
				Command:     cmd.Key(),
				Fingerprint: fingerprint,
				OccurredAt:  time.Now().UTC(),
			}
			if result != nil {
				payload, encErr := codec.Encode(result)
				if encErr != nil {
					return nil, encErr
				}
				record.Payload = payload
			}
			if saveErr := store.Save(ctx, record); saveErr != nil {
				// the write itself succeeded
				logger.WarnContext(ctx, "idempotency record not saved", "command", cmd.Key(), "error", saveErr)
			}
			return result, nil
		})
	}
}

func replay(codec ResultCodec, cmd IdempotentCommand, payload []byte) (any, error) {
	proto := cmd.ResultPrototype()
	rv := reflect.ValueOf(proto)
	if proto == nil || rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil, errMissingPrototype
	}
	if len(payload) == 0 {
		return proto, nil
	}
	if err := codec.Decode(payload, proto); err != nil {
		return nil, err
	}
	return proto, nil
}
