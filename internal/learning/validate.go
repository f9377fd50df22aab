package learning

import (
	"fmt"
	"strings"

	"conveyor/internal/queue"
	"conveyor/internal/services"
)

// MaxRuleWeight bounds the weight an extracted rule may carry.
const MaxRuleWeight = 10.0

// Validate checks extracted patterns before they are merged. Any violation
// rejects the whole extraction.
func Validate(p queue.ExtractedPatterns) error {
	if p.Sentiment < -1 || p.Sentiment > 1 {
		return invalid("sentiment %.2f outside [-1, 1]", p.Sentiment)
	}
	for i, value := range p.Avoid {
		if strings.TrimSpace(value) == "" {
			return invalid("avoid[%d] is empty", i)
		}
	}
	for i, value := range p.Prefer {
		if strings.TrimSpace(value) == "" {
			return invalid("prefer[%d] is empty", i)
		}
	}
	for i, rule := range p.Rules {
		if !queue.ValidRuleType(rule.Type) {
			return invalid("rules[%d] has unknown type %q", i, rule.Type)
		}
		if strings.TrimSpace(rule.Rule) == "" {
			return invalid("rules[%d] text is empty", i)
		}
		if rule.Weight <= 0 || rule.Weight > MaxRuleWeight {
			return invalid("rules[%d] weight %.2f outside (0, %.0f]", i, rule.Weight, MaxRuleWeight)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return services.Wrap(services.ErrValidation, "learning", "validate extraction", fmt.Sprintf(format, args...), nil)
}
