package daemon_test

import (
	"context"
	"testing"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/daemon"
	"conveyor/internal/learning"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/testsupport"
	"conveyor/internal/workflow"
)

type stubExtractor struct{}

func (stubExtractor) Extract(context.Context, learning.ExtractionRequest) (queue.ExtractedPatterns, error) {
	return queue.ExtractedPatterns{}, nil
}

func newDaemon(t *testing.T, cfg *config.Config, store *queue.Store, opts ...daemon.Option) *daemon.Daemon {
	t.Helper()
	pipeline := testsupport.NewFakePipeline(85, 0.01)
	mgr := workflow.NewManager(cfg, store, pipeline.Stages(), logging.NewNop(),
		workflow.WithStageBackoff(0),
		workflow.WithPollInterval(10*time.Millisecond),
	)
	engine := learning.New(store, stubExtractor{}, cfg.Learning, logging.NewNop())
	d, err := daemon.New(cfg, store, mgr, engine, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedOwner(t, store, "owner-a")
	d := newDaemon(t, cfg, store, daemon.WithFeedbackInterval(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || status.LockFilePath != cfg.LockPath() {
		t.Fatalf("unexpected status: %+v", status)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	item := testsupport.InsertItem(t, store, queue.NewItem{OwnerID: "owner-a"})
	waitFor(t, "item completion", func() bool {
		got, err := store.GetItem(ctx, item.ID)
		return err == nil && got != nil && got.Status == queue.StatusCompleted
	})

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	first := newDaemon(t, cfg, store, daemon.WithFeedbackInterval(0))
	second := newDaemon(t, cfg, store, daemon.WithFeedbackInterval(0))

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected second instance to fail while the lock is held")
	}
	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
}

func TestDaemonProcessesFeedback(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedOwner(t, store, "owner-a")
	script := testsupport.DeliverScript(t, store, "owner-a", 85)
	engine := learning.New(store, nil, cfg.Learning, logging.NewNop())
	id, err := engine.Submit(context.Background(), learning.FeedbackInput{
		OwnerID:  "owner-a",
		ScriptID: script.ID,
		Notes:    "drop the clickbait opener",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	d := newDaemon(t, cfg, store, daemon.WithFeedbackInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "feedback processing", func() bool {
		entry, err := store.GetFeedback(ctx, id)
		return err == nil && entry != nil && entry.Status != queue.FeedbackPending
	})
}
