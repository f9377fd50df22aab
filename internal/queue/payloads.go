package queue

import (
	"fmt"
)

// GateDecision is the quality gate outcome.
type GateDecision string

const (
	GatePass        GateDecision = "PASS"
	GateNeedsReview GateDecision = "NEEDS_REVIEW"
	GateFail        GateDecision = "FAIL"
)

// ScoutPayload is the Scout stage output: normalized source text and a
// relevance verdict.
type ScoutPayload struct {
	Title     string   `json:"title"`
	CleanText string   `json:"cleanText"`
	KeyPoints []string `json:"keyPoints"`
	Relevant  bool     `json:"relevant"`
	Reason    string   `json:"reason,omitempty"`
}

// ScorerPayload is the Scorer stage output.
type ScorerPayload struct {
	Score      float64            `json:"score"`
	Dimensions map[string]float64 `json:"dimensions,omitempty"`
	Reasoning  string             `json:"reasoning,omitempty"`
}

// AnalystPayload is the Analyst stage output.
type AnalystPayload struct {
	Angle    string   `json:"angle"`
	Audience string   `json:"audience"`
	Hooks    []string `json:"hooks"`
	Facts    []string `json:"facts"`
	Emotions []string `json:"emotions,omitempty"`
}

// Beat is one structural unit planned by the Architect.
type Beat struct {
	Label           string  `json:"label"`
	Purpose         string  `json:"purpose"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}

// ArchitectPayload is the Architect stage output.
type ArchitectPayload struct {
	Format                string `json:"format"`
	Beats                 []Beat `json:"beats"`
	TargetDurationSeconds int    `json:"targetDurationSeconds"`
}

// WriterPayload is the Writer stage output.
type WriterPayload struct {
	Scenes       []Scene  `json:"scenes"`
	FullText     string   `json:"fullText"`
	HookVariants []string `json:"hookVariants,omitempty"`
	WordCount    int      `json:"wordCount"`
}

// QCIssue is one problem the QC stage found.
type QCIssue struct {
	SceneIndex int    `json:"sceneIndex"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`
}

// QCPayload is the QC stage output.
type QCPayload struct {
	Issues []QCIssue `json:"issues"`
	Score  float64   `json:"score"`
}

// ScriptScores are the per-dimension quality scores, each 0..100.
type ScriptScores struct {
	Hook      float64 `json:"hook"`
	Structure float64 `json:"structure"`
	Emotional float64 `json:"emotional"`
	CTA       float64 `json:"cta"`
	Overall   float64 `json:"overall"`
}

// OptimizerPayload is the Optimizer stage output: the polished script and
// its scores.
type OptimizerPayload struct {
	Scenes       []Scene      `json:"scenes"`
	FullText     string       `json:"fullText"`
	SelectedHook string       `json:"selectedHook,omitempty"`
	Scores       ScriptScores `json:"scores"`
	Confidence   float64      `json:"confidence"`
}

// GatePayload is the Gate stage output.
type GatePayload struct {
	Decision   GateDecision `json:"decision"`
	Threshold  float64      `json:"threshold"`
	Score      float64      `json:"score"`
	Confidence float64      `json:"confidence"`
	Reason     string       `json:"reason"`
}

// DeliveryPayload is the Delivery stage output. The store fills ScriptID,
// Updated and SnapshotNumber when it materializes the script.
type DeliveryPayload struct {
	Title          string `json:"title"`
	Format         string `json:"format"`
	ScriptID       string `json:"scriptId,omitempty"`
	Updated        bool   `json:"updated,omitempty"`
	SnapshotNumber int    `json:"snapshotNumber,omitempty"`
}

// Payloads holds one typed slot per stage.
type Payloads struct {
	Scout     *ScoutPayload     `json:"scout,omitempty"`
	Scorer    *ScorerPayload    `json:"scorer,omitempty"`
	Analyst   *AnalystPayload   `json:"analyst,omitempty"`
	Architect *ArchitectPayload `json:"architect,omitempty"`
	Writer    *WriterPayload    `json:"writer,omitempty"`
	QC        *QCPayload        `json:"qc,omitempty"`
	Optimizer *OptimizerPayload `json:"optimizer,omitempty"`
	Gate      *GatePayload      `json:"gate,omitempty"`
	Delivery  *DeliveryPayload  `json:"delivery,omitempty"`
}

// Set stores payload in the slot for stage. The payload must be the
// variant that belongs to that stage, by value or pointer.
func (p *Payloads) Set(stage Stage, payload any) error {
	ok := false
	switch stage {
	case StageScout:
		p.Scout, ok = asPointer[ScoutPayload](payload)
	case StageScorer:
		p.Scorer, ok = asPointer[ScorerPayload](payload)
	case StageAnalyst:
		p.Analyst, ok = asPointer[AnalystPayload](payload)
	case StageArchitect:
		p.Architect, ok = asPointer[ArchitectPayload](payload)
	case StageWriter:
		p.Writer, ok = asPointer[WriterPayload](payload)
	case StageQC:
		p.QC, ok = asPointer[QCPayload](payload)
	case StageOptimizer:
		p.Optimizer, ok = asPointer[OptimizerPayload](payload)
	case StageGate:
		p.Gate, ok = asPointer[GatePayload](payload)
	case StageDelivery:
		p.Delivery, ok = asPointer[DeliveryPayload](payload)
	}
	if !ok {
		return fmt.Errorf("%w: stage %s got %T", ErrPayloadMismatch, stage, payload)
	}
	return nil
}

// Get returns the payload stored for stage, or nil.
func (p Payloads) Get(stage Stage) any {
	switch stage {
	case StageScout:
		return nilIfEmpty(p.Scout)
	case StageScorer:
		return nilIfEmpty(p.Scorer)
	case StageAnalyst:
		return nilIfEmpty(p.Analyst)
	case StageArchitect:
		return nilIfEmpty(p.Architect)
	case StageWriter:
		return nilIfEmpty(p.Writer)
	case StageQC:
		return nilIfEmpty(p.QC)
	case StageOptimizer:
		return nilIfEmpty(p.Optimizer)
	case StageGate:
		return nilIfEmpty(p.Gate)
	case StageDelivery:
		return nilIfEmpty(p.Delivery)
	}
	return nil
}

// Has reports whether stage has a stored payload.
func (p Payloads) Has(stage Stage) bool {
	return p.Get(stage) != nil
}

// KeepThrough returns a copy holding only the payloads of stages <= last.
func (p Payloads) KeepThrough(last Stage) Payloads {
	var out Payloads
	for _, stage := range AllStages() {
		if stage > last {
			break
		}
		if value := p.Get(stage); value != nil {
			_ = out.Set(stage, value)
		}
	}
	return out
}

func asPointer[T any](payload any) (*T, bool) {
	switch v := payload.(type) {
	case *T:
		return v, v != nil
	case T:
		return &v, true
	}
	return nil, false
}

func nilIfEmpty[T any](v *T) any {
	if v == nil {
		return nil
	}
	return v
}
