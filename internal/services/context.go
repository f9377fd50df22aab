package services

import (
	"context"

	"github.com/google/uuid"
)

// ctxKey is typed by the value it stores so lookups cannot mix up types.
type ctxKey[T comparable] struct{ name string }

var (
	itemIDKey    = ctxKey[int64]{"item_id"}
	ownerIDKey   = ctxKey[string]{"owner_id"}
	stageKey     = ctxKey[string]{"stage"}
	workerKey    = ctxKey[string]{"worker"}
	requestIDKey = ctxKey[string]{"request_id"}
)

// with stores v under key unless v is the zero value.
func with[T comparable](ctx context.Context, key ctxKey[T], v T) context.Context {
	var zero T
	if v == zero {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

func from[T comparable](ctx context.Context, key ctxKey[T]) (T, bool) {
	v, ok := ctx.Value(key).(T)
	var zero T
	return v, ok && v != zero
}

// WithItemID tags ctx with the pipeline item being processed.
func WithItemID(ctx context.Context, id int64) context.Context { return with(ctx, itemIDKey, id) }

// ItemIDFromContext returns the pipeline item, if any.
func ItemIDFromContext(ctx context.Context) (int64, bool) { return from(ctx, itemIDKey) }

// WithOwnerID tags ctx with the owning account.
func WithOwnerID(ctx context.Context, owner string) context.Context {
	return with(ctx, ownerIDKey, owner)
}

// OwnerIDFromContext returns the owning account, if any.
func OwnerIDFromContext(ctx context.Context) (string, bool) { return from(ctx, ownerIDKey) }

// WithStage tags ctx with the stage name.
func WithStage(ctx context.Context, stage string) context.Context { return with(ctx, stageKey, stage) }

// StageFromContext returns the stage name, if any.
func StageFromContext(ctx context.Context) (string, bool) { return from(ctx, stageKey) }

// WithWorker tags ctx with the worker slot running the stage.
func WithWorker(ctx context.Context, worker string) context.Context {
	return with(ctx, workerKey, worker)
}

// WorkerFromContext returns the worker slot, if any.
func WorkerFromContext(ctx context.Context) (string, bool) { return from(ctx, workerKey) }

// WithRequestID tags ctx with a correlation id shared by the logs and spans
// of one stage attempt.
func WithRequestID(ctx context.Context, id string) context.Context {
	return with(ctx, requestIDKey, id)
}

// EnsureRequestID attaches a fresh correlation id unless one exists.
func EnsureRequestID(ctx context.Context) context.Context {
	if _, ok := RequestIDFromContext(ctx); ok {
		return ctx
	}
	return WithRequestID(ctx, uuid.NewString())
}

// RequestIDFromContext returns the correlation id, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) { return from(ctx, requestIDKey) }
