package learning

import "conveyor/internal/config"

// ThresholdPolicy computes an owner's next learned gate threshold.
type ThresholdPolicy interface {
	// Next returns the new threshold given the current learned value (nil
	// when none), the owner's configured minimum, and recent approved
	// scores newest first. ok is false when no update should be stored.
	Next(current *float64, minimum float64, approved []float64) (next float64, ok bool)
}

// EMAPolicy moves the threshold a bounded step toward the mean of recent
// approved scores minus a margin.
type EMAPolicy struct {
	Alpha   float64
	Margin  float64
	MaxStep float64
}

// NewEMAPolicy builds the policy from learning settings.
func NewEMAPolicy(cfg config.Learning) EMAPolicy {
	return EMAPolicy{Alpha: cfg.EMAAlpha, Margin: cfg.Margin, MaxStep: cfg.MaxStep}
}

// Next implements ThresholdPolicy.
func (p EMAPolicy) Next(current *float64, minimum float64, approved []float64) (float64, bool) {
	if len(approved) == 0 {
		return 0, false
	}
	var sum float64
	for _, score := range approved {
		sum += score
	}
	target := sum/float64(len(approved)) - p.Margin

	base := minimum
	if current != nil {
		base = *current
	}
	step := p.Alpha * (target - base)
	if p.MaxStep > 0 {
		step = clamp(step, -p.MaxStep, p.MaxStep)
	}
	return clamp(base+step, 0, 100), true
}

func clamp(value, lo, hi float64) float64 {
	return min(max(value, lo), hi)
}
