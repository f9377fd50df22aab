package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"conveyor/internal/services"
	"conveyor/internal/services/llm"
	"conveyor/internal/stage"
)

// Completer issues JSON chat completions. *llm.Client satisfies it.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (llm.Completion, error)
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ask sends one completion and decodes the JSON answer into out. The
// returned cost is the billed cost even when err is non-nil. Undecodable
// output is reported with the malformed marker.
func ask(ctx context.Context, c Completer, label, system, user string, malformed error, out any) (float64, error) {
	if c == nil {
		return 0, services.Wrap(services.ErrConfiguration, label, "complete", "no language model configured", nil)
	}
	completion, err := c.CompleteJSON(ctx, system, user)
	cost := completion.Usage.Cost
	if err != nil {
		return cost, classify(label, err)
	}
	if err := llm.DecodeJSON(completion.Content, out); err != nil {
		return cost, services.Wrap(malformed, label, "decode response", "model returned malformed JSON", err)
	}
	return cost, nil
}

func classify(label string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return services.Wrap(services.ErrTimeout, label, "complete", "model call timed out", err)
	case errors.Is(err, context.Canceled):
		return err
	case llm.Temporary(err):
		return services.Wrap(services.ErrTransient, label, "complete", "model temporarily unavailable", err)
	default:
		return services.Wrap(services.ErrExternalTool, label, "complete", "model call failed", err)
	}
}

func invalidOutput(label, format string, args ...any) error {
	return services.Wrap(services.ErrTransient, label, "validate response", fmt.Sprintf(format, args...), nil)
}

func completerHealth(ctx context.Context, name string, c Completer) stage.Health {
	if c == nil {
		return stage.Unavailable(name, "no language model configured")
	}
	checker, ok := c.(healthChecker)
	if !ok {
		return stage.Available(name)
	}
	if err := checker.HealthCheck(ctx); err != nil {
		return stage.Unavailable(name, err.Error())
	}
	return stage.Available(name)
}

// prompt assembles a user prompt from titled sections. Empty sections are
// skipped; non-string values are rendered as indented JSON.
type prompt struct {
	b strings.Builder
}

func (p *prompt) section(title string, value any) *prompt {
	var text string
	switch v := value.(type) {
	case nil:
		return p
	case string:
		text = strings.TrimSpace(v)
	case []string:
		if len(v) == 0 {
			return p
		}
		text = "- " + strings.Join(v, "\n- ")
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return p
		}
		text = string(data)
		if text == "null" || text == "{}" || text == "[]" {
			return p
		}
	}
	if text == "" {
		return p
	}
	if p.b.Len() > 0 {
		p.b.WriteString("\n\n")
	}
	p.b.WriteString(strings.ToUpper(title))
	p.b.WriteString(":\n")
	p.b.WriteString(text)
	return p
}

func (p *prompt) String() string {
	return p.b.String()
}

func clampScore(v float64) float64 {
	return min(max(v, 0), 100)
}
