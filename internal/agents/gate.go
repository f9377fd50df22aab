package agents

import (
	"context"
	"fmt"

	"conveyor/internal/config"
	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/stage"
)

// Gate decides whether the optimized script is good enough to deliver.
type Gate struct {
	MinConfidence float64
	ReviewMargin  float64
}

// NewGate builds a Gate from configuration.
func NewGate(cfg config.Gate) Gate {
	return Gate{MinConfidence: cfg.MinConfidence, ReviewMargin: cfg.ReviewMargin}
}

// Execute implements stage.Handler.
func (g Gate) Execute(_ context.Context, in stage.Input) (stage.Result, error) {
	opt, err := stage.Require(queue.StageGate, queue.StageOptimizer, in.Item.Payloads.Optimizer)
	if err != nil {
		return stage.Result{}, err
	}
	var threshold float64
	if in.Settings != nil {
		threshold = in.Settings.EffectiveThreshold()
	}
	payload := g.Decide(opt.Scores.Overall, opt.Confidence, threshold)
	return stage.Result{Payload: payload, Note: string(payload.Decision)}, nil
}

// Decide applies the gate rules to a score and confidence.
func (g Gate) Decide(score, confidence, threshold float64) queue.GatePayload {
	out := queue.GatePayload{Threshold: threshold, Score: score, Confidence: confidence}
	switch {
	case score >= threshold && confidence >= g.MinConfidence:
		out.Decision = queue.GatePass
		out.Reason = fmt.Sprintf("score %.1f meets threshold %.1f", score, threshold)
	case score >= threshold:
		out.Decision = queue.GateNeedsReview
		out.Reason = fmt.Sprintf("confidence %.2f below %.2f", confidence, g.MinConfidence)
	case score >= threshold-g.ReviewMargin:
		out.Decision = queue.GateNeedsReview
		out.Reason = fmt.Sprintf("score %.1f within %.1f of threshold %.1f", score, g.ReviewMargin, threshold)
	default:
		out.Decision = queue.GateFail
		out.Reason = fmt.Sprintf("score %.1f below threshold %.1f", score, threshold)
	}
	return out
}

// Delivery hands the gated script to the store, which materializes the
// GeneratedScript in the same transaction as the stage commit.
type Delivery struct{}

// Execute implements stage.Handler.
func (Delivery) Execute(_ context.Context, in stage.Input) (stage.Result, error) {
	gate, err := stage.Require(queue.StageDelivery, queue.StageGate, in.Item.Payloads.Gate)
	if err != nil {
		return stage.Result{}, err
	}
	scenes, _ := stage.Script(in.Item)
	if len(scenes) == 0 {
		return stage.Result{}, services.Wrap(services.ErrValidation, queue.StageDelivery.String(), "read payload",
			"no script to deliver", nil)
	}
	title := in.Item.Source.Title
	if scout := in.Item.Payloads.Scout; scout != nil && scout.Title != "" {
		title = scout.Title
	}
	format := ""
	if arch := in.Item.Payloads.Architect; arch != nil {
		format = arch.Format
	}
	return stage.Result{
		Payload: queue.DeliveryPayload{Title: title, Format: format},
		Note:    string(gate.Decision),
	}, nil
}
