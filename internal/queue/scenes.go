package queue

import (
	"strconv"
	"strings"
)

// Scene is one unit of a script.
type Scene struct {
	ID              string  `json:"id"`
	Text            string  `json:"text"`
	Visual          string  `json:"visual,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}

// SceneChange is one positional difference between two scene lists.
type SceneChange struct {
	SceneID string `json:"sceneId"`
	Index   int    `json:"index"`
	Before  string `json:"before"`
	After   string `json:"after"`
}

// SceneKey returns the scene id, falling back to the zero-based position.
func SceneKey(scenes []Scene, index int) string {
	if index >= 0 && index < len(scenes) && strings.TrimSpace(scenes[index].ID) != "" {
		return scenes[index].ID
	}
	return strconv.Itoa(index)
}

// DiffScenes compares scenes by position. Positions whose text differs are
// reported; scenes present on one side only appear with an empty before or
// after. Unchanged positions are omitted.
func DiffScenes(before, after []Scene) []SceneChange {
	n := max(len(before), len(after))
	changes := make([]SceneChange, 0)
	for i := 0; i < n; i++ {
		var prev, next string
		var id string
		if i < len(after) {
			next = after[i].Text
			id = SceneKey(after, i)
		}
		if i < len(before) {
			prev = before[i].Text
			if id == "" {
				id = SceneKey(before, i)
			}
		}
		if i < len(before) && i < len(after) && prev == next {
			continue
		}
		changes = append(changes, SceneChange{SceneID: id, Index: i, Before: prev, After: next})
	}
	return changes
}

// JoinScenes renders scenes as the script's full text.
func JoinScenes(scenes []Scene) string {
	parts := make([]string, 0, len(scenes))
	for _, scene := range scenes {
		if text := strings.TrimSpace(scene.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// CloneScenes returns an independent copy of scenes.
func CloneScenes(scenes []Scene) []Scene {
	if scenes == nil {
		return nil
	}
	out := make([]Scene, len(scenes))
	copy(out, scenes)
	return out
}
