package testsupport

import (
	"fmt"

	"conveyor/internal/queue"
)

// SampleSource returns a representative upstream article.
func SampleSource() queue.SourceData {
	return queue.SourceData{
		SourceType:   "rss",
		SourceItemID: "article-1",
		Title:        "City opens rooftop farms",
		Content:      "<p>The city opened <b>twelve</b> rooftop farms this spring.</p><p>Residents can volunteer on weekends.</p>",
		EngagementMetrics: map[string]float64{
			"likes":  120,
			"shares": 30,
		},
	}
}

// SampleScenes returns n scenes with ids s1..sn.
func SampleScenes(n int) []queue.Scene {
	scenes := make([]queue.Scene, n)
	for i := range scenes {
		scenes[i] = queue.Scene{
			ID:              fmt.Sprintf("s%d", i+1),
			Text:            fmt.Sprintf("Scene %d narration.", i+1),
			DurationSeconds: 10,
		}
	}
	return scenes
}
