package stage

import (
	"context"
	"errors"
	"testing"

	"conveyor/internal/queue"
	"conveyor/internal/services"
)

func TestRequire(t *testing.T) {
	var missing *queue.ScorerPayload
	if _, err := Require(queue.StageAnalyst, queue.StageScorer, missing); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	got, err := Require(queue.StageAnalyst, queue.StageScorer, &queue.ScorerPayload{Score: 70})
	if err != nil || got.Score != 70 {
		t.Fatalf("unexpected result %+v, %v", got, err)
	}
}

func TestScriptPrefersOptimizer(t *testing.T) {
	item := &queue.Item{}
	if scenes, text := Script(item); scenes != nil || text != "" {
		t.Fatalf("expected empty script, got %v %q", scenes, text)
	}
	item.Payloads.Writer = &queue.WriterPayload{Scenes: []queue.Scene{{ID: "a", Text: "draft"}}}
	if _, text := Script(item); text != "draft" {
		t.Fatalf("expected writer text, got %q", text)
	}
	item.Payloads.Optimizer = &queue.OptimizerPayload{Scenes: []queue.Scene{{ID: "a", Text: "tight"}}}
	if _, text := Script(item); text != "tight" {
		t.Fatalf("expected optimizer text, got %q", text)
	}
}

type probe struct{ ready bool }

func (p probe) Execute(context.Context, Input) (Result, error) { return Result{}, nil }

func (p probe) HealthCheck(context.Context) Health {
	if p.ready {
		return Available("probe")
	}
	return Unavailable("probe", "offline")
}

func TestSetValidateAndHealth(t *testing.T) {
	set := Set{}
	if err := set.Validate(); err == nil {
		t.Fatal("expected missing handlers to fail validation")
	}
	for _, st := range queue.AllStages() {
		set[st] = Func(func(context.Context, Input) (Result, error) { return Result{}, nil })
	}
	set[queue.StageWriter] = probe{ready: false}
	if err := set.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	health := set.Health(context.Background())
	if len(health) != len(queue.AllStages()) {
		t.Fatalf("expected one health entry per stage, got %d", len(health))
	}
	if health[queue.StageWriter-1].Ready || health[queue.StageScout-1].Name != "scout" {
		t.Fatalf("unexpected health: %+v", health)
	}
}
