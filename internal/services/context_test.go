package services_test

import (
	"context"
	"testing"

	"conveyor/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithItemID(ctx, 42)
	ctx = services.WithOwnerID(ctx, "owner-1")
	ctx = services.WithStage(ctx, "writer")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.ItemIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected item id: %v %v", id, ok)
	}
	if owner, ok := services.OwnerIDFromContext(ctx); !ok || owner != "owner-1" {
		t.Fatalf("unexpected owner: %v %v", owner, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "writer" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
	if got := services.EnsureRequestID(ctx); got != ctx {
		t.Fatal("expected existing request id to be kept")
	}
}

func TestEnsureRequestIDGenerates(t *testing.T) {
	ctx := services.EnsureRequestID(context.Background())
	rid, ok := services.RequestIDFromContext(ctx)
	if !ok || len(rid) != 36 {
		t.Fatalf("expected uuid request id, got %q", rid)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
}

func TestContextKeysDoNotCollide(t *testing.T) {
	ctx := services.WithWorker(context.Background(), "worker-2")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("worker must not read back as stage")
	}
	if _, ok := services.ItemIDFromContext(services.WithItemID(ctx, 0)); ok {
		t.Fatal("expected zero item id to be ignored")
	}
	if worker, ok := services.WorkerFromContext(ctx); !ok || worker != "worker-2" {
		t.Fatalf("unexpected worker: %v %v", worker, ok)
	}
}
