package stage

import (
	"fmt"

	"conveyor/internal/queue"
	"conveyor/internal/services"
)

// Require returns payload p produced by stage from, or a validation error
// attributed to current when it is missing.
func Require[T any](current queue.Stage, from queue.Stage, p *T) (*T, error) {
	if p == nil {
		return nil, services.Wrap(services.ErrValidation, current.String(), "read payload",
			fmt.Sprintf("%s output missing; retry the item from %s", from, from), nil)
	}
	return p, nil
}

// Script returns the latest script content on the item: optimized scenes
// when the Optimizer has run, otherwise the Writer's draft.
func Script(item *queue.Item) ([]queue.Scene, string) {
	if item == nil {
		return nil, ""
	}
	if opt := item.Payloads.Optimizer; opt != nil && len(opt.Scenes) > 0 {
		text := opt.FullText
		if text == "" {
			text = queue.JoinScenes(opt.Scenes)
		}
		return opt.Scenes, text
	}
	if w := item.Payloads.Writer; w != nil {
		text := w.FullText
		if text == "" {
			text = queue.JoinScenes(w.Scenes)
		}
		return w.Scenes, text
	}
	return nil, ""
}
