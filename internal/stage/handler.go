package stage

import (
	"context"
	"fmt"

	"conveyor/internal/queue"
)

// Input is everything a stage may read: the item with the payloads of every
// earlier stage, the owner's settings, and the owner's writing profile.
type Input struct {
	Item     *queue.Item
	Settings *queue.OwnerSettings
	Profile  *queue.WritingProfile
}

// Result is a stage's output. Cost is charged to the owner even when the
// stage returns an error alongside it.
type Result struct {
	Payload any
	Cost    float64
	Note    string
}

// Handler describes the contract the workflow manager needs from each stage.
type Handler interface {
	Execute(context.Context, Input) (Result, error)
}

// Health is one stage's readiness as shown by status --check-llm.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Available reports a stage that can run.
func Available(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unavailable reports a stage that cannot run and why.
func Unavailable(name, reason string) Health {
	return Health{Name: name, Detail: reason}
}

// Summary is the detail text, or "ready" when a ready stage has none.
func (h Health) Summary() string {
	if h.Ready && h.Detail == "" {
		return "ready"
	}
	return h.Detail
}

// HealthChecker is implemented by handlers that depend on external services.
type HealthChecker interface {
	HealthCheck(context.Context) Health
}

// Func adapts a function to Handler.
type Func func(context.Context, Input) (Result, error)

// Execute implements Handler.
func (f Func) Execute(ctx context.Context, in Input) (Result, error) {
	return f(ctx, in)
}

// Set maps each pipeline stage to its handler.
type Set map[queue.Stage]Handler

// Validate reports the first pipeline stage without a handler.
func (s Set) Validate() error {
	for _, st := range queue.AllStages() {
		if s[st] == nil {
			return fmt.Errorf("stage %s has no handler", st)
		}
	}
	return nil
}

// Health reports readiness of every handler in pipeline order.
func (s Set) Health(ctx context.Context) []Health {
	out := make([]Health, 0, len(s))
	for _, st := range queue.AllStages() {
		handler := s[st]
		switch h := handler.(type) {
		case nil:
			out = append(out, Unavailable(st.String(), "no handler registered"))
		case HealthChecker:
			out = append(out, h.HealthCheck(ctx))
		default:
			out = append(out, Available(st.String()))
		}
	}
	return out
}
