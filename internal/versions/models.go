package versions

import (
	"time"

	"conveyor/internal/queue"
)

// CreatedBy identifies the author class of a version.
type CreatedBy string

const (
	CreatedByUser   CreatedBy = "user"
	CreatedByAI     CreatedBy = "ai"
	CreatedBySystem CreatedBy = "system"
)

// Provenance sources.
const (
	SourceSeed           = "seed"
	SourceCandidate      = "candidate"
	SourceEdit           = "edit"
	SourceRevert         = "revert"
	SourceRecommendation = "recommendation"
)

// Provenance records where a version came from.
type Provenance struct {
	Source            string    `json:"source"`
	Agent             string    `json:"agent,omitempty"`
	UserID            string    `json:"userId,omitempty"`
	Timestamp         time.Time `json:"ts"`
	RevertedToVersion *int      `json:"revertedToVersion,omitempty"`
	RecommendationID  string    `json:"recommendationId,omitempty"`
}

// Project is a script in production.
type Project struct {
	ID        string
	OwnerID   string
	ScriptID  string
	Title     string
	CreatedAt time.Time
}

// Version is one entry in a project's version chain.
type Version struct {
	ID              string
	ProjectID       string
	Number          int
	CreatedBy       CreatedBy
	Content         string
	Scenes          []queue.Scene
	ChangeSummary   string
	ChangedSceneIDs []string
	Provenance      Provenance
	Diff            []queue.SceneChange
	Score           *float64
	IsCurrent       bool
	IsCandidate     bool
	IsRejected      bool
	BaseVersionID   string
	Metrics         map[string]float64
	ReviewText      string
	CreatedAt       time.Time
}

// IsOpenCandidate reports whether v occupies the project's candidate slot.
func (v Version) IsOpenCandidate() bool {
	return v.IsCandidate && !v.IsRejected
}

// Recommendation is a suggested rewrite of one scene of one version.
type Recommendation struct {
	ID               string
	VersionID        string
	SceneIndex       int
	SceneID          string
	Priority         string
	Area             string
	CurrentText      string
	SuggestedText    string
	Reasoning        string
	ExpectedImpact   string
	Applied          bool
	AppliedVersionID string
	Invalidated      bool
	CreatedAt        time.Time
}

// Draft is the content of a version about to be created.
type Draft struct {
	CreatedBy     CreatedBy
	Scenes        []queue.Scene
	Content       string
	ChangeSummary string
	Agent         string
	UserID        string
	Score         *float64
	Metrics       map[string]float64
	ReviewText    string
}

// Diff compares two versions scene by scene.
func Diff(before, after *Version) []queue.SceneChange {
	var prev, next []queue.Scene
	if before != nil {
		prev = before.Scenes
	}
	if after != nil {
		next = after.Scenes
	}
	return queue.DiffScenes(prev, next)
}

func changedIDs(changes []queue.SceneChange) []string {
	ids := make([]string, 0, len(changes))
	for _, change := range changes {
		ids = append(ids, change.SceneID)
	}
	return ids
}
