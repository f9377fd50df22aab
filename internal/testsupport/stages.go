package testsupport

import (
	"context"
	"sync"

	"conveyor/internal/queue"
	"conveyor/internal/stage"
)

// StageFunc is a scripted stage body.
type StageFunc func(context.Context, stage.Input) (stage.Result, error)

// FakePipeline provides handlers for all nine stages that return canned
// payloads and record how often each stage ran.
type FakePipeline struct {
	Overall float64
	Cost    float64

	mu        sync.Mutex
	calls     map[queue.Stage]int
	overrides map[queue.Stage]StageFunc
}

// NewFakePipeline returns a pipeline whose scripts score overall and whose
// stages each cost cost.
func NewFakePipeline(overall, cost float64) *FakePipeline {
	return &FakePipeline{
		Overall:   overall,
		Cost:      cost,
		calls:     make(map[queue.Stage]int),
		overrides: make(map[queue.Stage]StageFunc),
	}
}

// Override replaces the body of one stage.
func (p *FakePipeline) Override(st queue.Stage, fn StageFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides[st] = fn
}

// Calls reports how many times st executed.
func (p *FakePipeline) Calls(st queue.Stage) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[st]
}

// Stages returns the handler set.
func (p *FakePipeline) Stages() stage.Set {
	set := make(stage.Set, len(queue.AllStages()))
	for _, st := range queue.AllStages() {
		set[st] = stage.Func(func(ctx context.Context, in stage.Input) (stage.Result, error) {
			p.mu.Lock()
			p.calls[st]++
			fn := p.overrides[st]
			p.mu.Unlock()
			if fn != nil {
				return fn(ctx, in)
			}
			return stage.Result{Payload: StagePayload(st, p.Overall), Cost: p.Cost}, nil
		})
	}
	return set
}
