package governor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"conveyor/internal/governor"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/testsupport"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newGovernor(t *testing.T, opts ...testsupport.OwnerOption) (*governor.Governor, *queue.Store, *clock) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedOwner(t, store, "owner-1", opts...)
	clk := &clock{now: time.Now().UTC()}
	return governor.New(store, logging.NewNop(), governor.WithClock(clk.Now)), store, clk
}

func TestConcurrentAdmissionNeverExceedsDailyLimit(t *testing.T) {
	const limit = 5
	const attempts = 40
	gov, store, _ := newGovernor(t, testsupport.WithDailyLimit(limit))
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		denied   int
		other    []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gov.Enqueue(ctx, "owner-1", testsupport.SampleSource())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case governor.ReasonOf(err) == governor.ReasonDailyLimit:
				denied++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if admitted != limit || denied != attempts-limit {
		t.Fatalf("expected %d admitted and %d denied, got %d and %d", limit, attempts-limit, admitted, denied)
	}
	items, err := store.List(ctx, queue.ListFilter{OwnerID: "owner-1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != limit {
		t.Fatalf("expected %d items, got %d", limit, len(items))
	}
	owner, _ := store.GetOwner(ctx, "owner-1")
	if owner.ItemsProcessedToday != limit {
		t.Fatalf("expected counter %d, got %d", limit, owner.ItemsProcessedToday)
	}
}

func TestDailyCounterResetsOnNextUTCDay(t *testing.T) {
	gov, store, clk := newGovernor(t, testsupport.WithDailyLimit(1))
	ctx := context.Background()

	if _, err := gov.Enqueue(ctx, "owner-1", testsupport.SampleSource()); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	_, err := gov.Enqueue(ctx, "owner-1", testsupport.SampleSource())
	if !errors.Is(err, governor.ErrAdmissionDenied) || governor.ReasonOf(err) != governor.ReasonDailyLimit {
		t.Fatalf("expected daily limit denial, got %v", err)
	}

	clk.Set(clk.Now().Add(24 * time.Hour))
	if _, err := gov.Enqueue(ctx, "owner-1", testsupport.SampleSource()); err != nil {
		t.Fatalf("expected admission on next day, got %v", err)
	}
	owner, _ := store.GetOwner(ctx, "owner-1")
	if owner.ItemsProcessedToday != 1 {
		t.Fatalf("expected counter reset to 1, got %d", owner.ItemsProcessedToday)
	}
}

func TestBudgetExhaustionBlocksNewWorkUntilReset(t *testing.T) {
	gov, store, clk := newGovernor(t, testsupport.WithBudget(1))
	ctx := context.Background()

	if _, err := gov.Enqueue(ctx, "owner-1", testsupport.SampleSource()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	item, err := store.ClaimNext(ctx)
	if err != nil || item == nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	started := time.Now()
	if _, err := store.CommitStage(ctx, item, queue.StageOutcome{
		Stage: queue.StageScout, Agent: "scout", StartedAt: started, CompletedAt: started,
		Payload: queue.ScoutPayload{Relevant: true}, Cost: 1.5,
	}); err != nil {
		t.Fatalf("CommitStage over budget: %v", err)
	}

	_, err = gov.Enqueue(ctx, "owner-1", testsupport.SampleSource())
	if governor.ReasonOf(err) != governor.ReasonMonthlyBudget {
		t.Fatalf("expected monthly budget denial, got %v", err)
	}

	inflight, err := store.ClaimNext(ctx)
	if err != nil || inflight == nil || inflight.ID != item.ID {
		t.Fatalf("expected in-flight item to stay runnable, got %v, %v", inflight, err)
	}
	for current := inflight; ; {
		started := time.Now()
		next, err := store.CommitStage(ctx, current, queue.StageOutcome{
			Stage: current.CurrentStage, Agent: current.CurrentStage.String(),
			StartedAt: started, CompletedAt: started,
			Payload: testsupport.StagePayload(current.CurrentStage, 80), Cost: 0.1,
		})
		if err != nil {
			t.Fatalf("CommitStage(%s) over budget: %v", current.CurrentStage, err)
		}
		if next.Status == queue.StatusCompleted {
			break
		}
		if current, err = store.ClaimItem(ctx, item.ID); err != nil || current == nil {
			t.Fatalf("ClaimItem after %s: %v, %v", next.CurrentStage, current, err)
		}
	}
	if done, _ := store.GetItem(ctx, item.ID); done.Status != queue.StatusCompleted || done.Payloads.Delivery == nil {
		t.Fatalf("expected in-flight item to finish despite the budget, got %+v", done)
	}

	owner, _ := store.GetOwner(ctx, "owner-1")
	clk.Set(owner.BudgetResetAt.Add(time.Minute))
	if _, err := gov.Enqueue(ctx, "owner-1", testsupport.SampleSource()); err != nil {
		t.Fatalf("expected admission after budget reset, got %v", err)
	}
	owner, _ = store.GetOwner(ctx, "owner-1")
	if owner.CurrentMonthCost != 0 {
		t.Fatalf("expected monthly cost reset, got %v", owner.CurrentMonthCost)
	}
	if !owner.BudgetResetAt.After(clk.Now()) {
		t.Fatalf("expected budget reset advanced past now, got %v", owner.BudgetResetAt)
	}
}

func TestAdmissionReasons(t *testing.T) {
	tests := []struct {
		name  string
		owner string
		opts  []testsupport.OwnerOption
		want  governor.Reason
	}{
		{"unknown owner", "missing", nil, governor.ReasonUnknownOwner},
		{"disabled owner", "owner-1", []testsupport.OwnerOption{testsupport.Disabled()}, governor.ReasonDisabled},
		{"zero daily limit", "owner-1", []testsupport.OwnerOption{testsupport.WithDailyLimit(0)}, governor.ReasonDailyLimit},
		{"zero budget", "owner-1", []testsupport.OwnerOption{testsupport.WithBudget(0)}, governor.ReasonMonthlyBudget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gov, _, clk := newGovernor(t, tt.opts...)
			err := gov.Admit(context.Background(), tt.owner, clk.Now())
			if !errors.Is(err, governor.ErrAdmissionDenied) {
				t.Fatalf("expected admission denied, got %v", err)
			}
			if got := governor.ReasonOf(err); got != tt.want {
				t.Fatalf("expected reason %s, got %s", tt.want, got)
			}
		})
	}
}

func TestResetClearsCounters(t *testing.T) {
	gov, _, _ := newGovernor(t, testsupport.WithDailyLimit(1))
	ctx := context.Background()
	if _, err := gov.Enqueue(ctx, "owner-1", testsupport.SampleSource()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := gov.Reset(ctx, "owner-1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := gov.Enqueue(ctx, "owner-1", testsupport.SampleSource()); err != nil {
		t.Fatalf("expected admission after reset, got %v", err)
	}
	if err := gov.Reset(ctx, "nobody"); !errors.Is(err, queue.ErrOwnerNotFound) {
		t.Fatalf("expected ErrOwnerNotFound, got %v", err)
	}
}
