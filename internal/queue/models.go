package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a pipeline item.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{StatusProcessing, StatusCompleted, StatusFailed}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return normalized, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further stage will run for the status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage identifies one of the nine ordered pipeline stages.
type Stage int

const (
	StageScout Stage = iota + 1
	StageScorer
	StageAnalyst
	StageArchitect
	StageWriter
	StageQC
	StageOptimizer
	StageGate
	StageDelivery
)

// FirstStage and FinalStage bound the pipeline.
const (
	FirstStage = StageScout
	FinalStage = StageDelivery
)

var stageNames = map[Stage]string{
	StageScout:     "scout",
	StageScorer:    "scorer",
	StageAnalyst:   "analyst",
	StageArchitect: "architect",
	StageWriter:    "writer",
	StageQC:        "qc",
	StageOptimizer: "optimizer",
	StageGate:      "gate",
	StageDelivery:  "delivery",
}

// AllStages returns stages in execution order.
func AllStages() []Stage {
	stages := make([]Stage, 0, int(FinalStage))
	for s := FirstStage; s <= FinalStage; s++ {
		stages = append(stages, s)
	}
	return stages
}

// Valid reports whether s is within 1..9.
func (s Stage) Valid() bool {
	return s >= FirstStage && s <= FinalStage
}

// String returns the lowercase stage name.
func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// Next returns the following stage, or false after Delivery.
func (s Stage) Next() (Stage, bool) {
	if s >= FinalStage {
		return s, false
	}
	return s + 1, true
}

// ParseStage accepts a stage name or number.
func ParseStage(value string) (Stage, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	for stage, name := range stageNames {
		if name == value {
			return stage, true
		}
	}
	if len(value) == 1 && value[0] >= '1' && value[0] <= '9' {
		return Stage(value[0] - '0'), true
	}
	return 0, false
}

// AgentInherited marks history entries copied from a parent item.
const AgentInherited = "inherited"

// StageHistoryEntry records one stage execution. Items keep exactly one
// entry per stage; a retried stage overwrites its own entry.
type StageHistoryEntry struct {
	Stage       Stage     `json:"stage"`
	Agent       string    `json:"agent"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Cost        float64   `json:"cost"`
}

// Duration returns the wall time of the stage execution.
func (e StageHistoryEntry) Duration() time.Duration {
	if e.CompletedAt.Before(e.StartedAt) {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// RevisionContext links a revision item to the script it revises.
type RevisionContext struct {
	Notes            string `json:"notes"`
	PreviousScriptID string `json:"previousScriptId"`
	Attempt          int    `json:"attempt"`
	TargetScenes     []int  `json:"targetScenes,omitempty"`
}

// SourceData is the upstream content an item was admitted for.
type SourceData struct {
	SourceType        string             `json:"sourceType" yaml:"source_type"`
	SourceItemID      string             `json:"sourceItemId" yaml:"source_item_id"`
	Title             string             `json:"title" yaml:"title"`
	Content           string             `json:"content,omitempty" yaml:"content"`
	Transcript        string             `json:"transcript,omitempty" yaml:"transcript"`
	URL               string             `json:"url,omitempty" yaml:"url"`
	EngagementMetrics map[string]float64 `json:"engagementMetrics,omitempty" yaml:"engagement_metrics"`
}

// Body returns the transcript when present, otherwise the content.
func (s SourceData) Body() string {
	if strings.TrimSpace(s.Transcript) != "" {
		return s.Transcript
	}
	return s.Content
}

// Engagement sums the engagement metrics.
func (s SourceData) Engagement() float64 {
	var total float64
	for _, v := range s.EngagementMetrics {
		total += v
	}
	return total
}

// Item is one pipeline run for one piece of source content.
type Item struct {
	ID                int64
	OwnerID           string
	Source            SourceData
	Status            Status
	CurrentStage      Stage
	Payloads          Payloads
	History           []StageHistoryEntry
	Revision          *RevisionContext
	ParentItemID      *int64
	TotalCost         float64
	ErrorStage        Stage
	ErrorMessage      string
	RetryCount        int
	CompletedAt       *time.Time
	TotalProcessingMs int64
	Version           int64
	LastHeartbeat     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsRevision reports whether the item revises an earlier script.
func (i Item) IsRevision() bool {
	return i.Revision != nil && i.Revision.PreviousScriptID != ""
}

// HistoryFor returns the history entry for stage, if any.
func (i Item) HistoryFor(stage Stage) (StageHistoryEntry, bool) {
	for _, entry := range i.History {
		if entry.Stage == stage {
			return entry, true
		}
	}
	return StageHistoryEntry{}, false
}

// upsertHistory replaces the entry for entry.Stage or inserts it in stage order.
func upsertHistory(history []StageHistoryEntry, entry StageHistoryEntry) []StageHistoryEntry {
	out := make([]StageHistoryEntry, 0, len(history)+1)
	inserted := false
	for _, existing := range history {
		switch {
		case existing.Stage == entry.Stage:
			if !inserted {
				out = append(out, entry)
				inserted = true
			}
		case existing.Stage > entry.Stage && !inserted:
			out = append(out, entry, existing)
			inserted = true
		default:
			out = append(out, existing)
		}
	}
	if !inserted {
		out = append(out, entry)
	}
	return out
}

// processingDuration sums the successful stage durations.
func processingDuration(history []StageHistoryEntry) time.Duration {
	var total time.Duration
	for _, entry := range history {
		if entry.Success && entry.Agent != AgentInherited {
			total += entry.Duration()
		}
	}
	return total
}

// HealthSummary describes aggregated item counts.
type HealthSummary struct {
	Total      int
	Processing int
	Leased     int
	Failed     int
	Completed  int
}
