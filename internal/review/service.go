package review

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"conveyor/internal/config"
	"conveyor/internal/governor"
	"conveyor/internal/learning"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services"
)

// ErrRevisionLimit reports a revision request beyond review.max_revisions.
var ErrRevisionLimit = fmt.Errorf("%w: revision limit reached", services.ErrConflict)

// Service applies review decisions.
type Service struct {
	store    *queue.Store
	governor *governor.Governor
	learning *learning.Engine
	handoff  Handoff
	cfg      config.Review
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// New constructs a review Service.
func New(store *queue.Store, gov *governor.Governor, engine *learning.Engine, handoff Handoff, cfg config.Review, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		governor: gov,
		learning: engine,
		handoff:  handoff,
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "review"),
		tracer:   otel.Tracer("conveyor/review"),
		now:      time.Now,
	}
}

// Approval is the outcome of Approve.
type Approval struct {
	Script           *queue.GeneratedScript
	ProjectID        string
	Threshold        float64
	ThresholdChanged bool
	Resumed          bool
}

// Approve marks a pending script approved, updates owner stats and the
// learned threshold, then hands the script off and links the project. When a
// previous approval recorded the decision but the hand-off failed, Approve
// retries only the hand-off.
func (s *Service) Approve(ctx context.Context, scriptID, reviewer string) (*Approval, error) {
	ctx, span := s.start(ctx, "review.approve", scriptID)
	defer span.End()

	result := &Approval{}
	var script *queue.GeneratedScript
	err := s.store.DB().WithTx(ctx, func(tx *sql.Tx) error {
		*result = Approval{}
		var err error
		script, err = s.loadScriptTx(ctx, tx, scriptID)
		if err != nil {
			return err
		}
		if script.ReviewStatus == queue.ReviewApproved && script.ProjectID == "" {
			result.Resumed = true
			return nil
		}
		if err := s.store.UpdateReviewTx(ctx, tx, scriptID, queue.ReviewUpdate{
			Status:   queue.ReviewApproved,
			Reviewer: strings.TrimSpace(reviewer),
		}); err != nil {
			return err
		}
		if err := s.store.RecordApprovalTx(ctx, tx, script.OwnerID); err != nil {
			return err
		}
		result.Threshold, result.ThresholdChanged, err = s.learning.UpdateThresholdTx(ctx, tx, script.OwnerID)
		return err
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	logger := s.scriptLogger(script)
	if !result.Resumed {
		logger.Info("script approved",
			logging.String(logging.FieldEventType, "script_approved"),
			logging.String("reviewer", reviewer),
			logging.Float64("score", script.Scores.Overall),
		)
	} else {
		logger.Info("resuming script hand-off", logging.String(logging.FieldEventType, "handoff_resume"))
	}

	item, err := s.store.GetItem(ctx, script.ItemID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	projectID, err := s.handoff.Handoff(ctx, script, BuildFinalScript(script, item))
	if err != nil {
		logging.ErrorWithContext(logger, "script hand-off failed", "handoff_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "approve the script again to retry the hand-off"),
		)
		return nil, s.fail(span, fmt.Errorf("hand off script %s: %w", scriptID, err))
	}
	if err := s.store.DB().WithTx(ctx, func(tx *sql.Tx) error {
		return s.store.LinkProjectTx(ctx, tx, scriptID, projectID)
	}); err != nil {
		return nil, s.fail(span, err)
	}
	logger.Info("script handed off",
		logging.String(logging.FieldEventType, "handoff_complete"),
		logging.String(logging.FieldProjectID, projectID),
	)
	span.SetAttributes(attribute.String("project.id", projectID))

	result.ProjectID = projectID
	result.Script, err = s.store.GetScript(ctx, scriptID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	return result, nil
}

// Rejection is a reviewer's rejection of a script.
type Rejection struct {
	ScriptID string
	Reviewer string
	Category string
	Notes    string
}

// Reject marks a pending script rejected, counts the rejection category, and
// records feedback for the learning engine when the reviewer said why.
func (s *Service) Reject(ctx context.Context, rejection Rejection) (*queue.GeneratedScript, error) {
	ctx, span := s.start(ctx, "review.reject", rejection.ScriptID)
	defer span.End()

	category := strings.ToLower(strings.TrimSpace(rejection.Category))
	notes := strings.TrimSpace(rejection.Notes)
	var (
		script     *queue.GeneratedScript
		feedbackID string
	)
	err := s.store.DB().WithTx(ctx, func(tx *sql.Tx) error {
		feedbackID = ""
		var err error
		script, err = s.loadScriptTx(ctx, tx, rejection.ScriptID)
		if err != nil {
			return err
		}
		if err := s.store.UpdateReviewTx(ctx, tx, rejection.ScriptID, queue.ReviewUpdate{
			Status:            queue.ReviewRejected,
			Reviewer:          strings.TrimSpace(rejection.Reviewer),
			RejectionCategory: category,
			RejectionNotes:    notes,
		}); err != nil {
			return err
		}
		if err := s.store.RecordRejectionTx(ctx, tx, script.OwnerID, category); err != nil {
			return err
		}
		if category == "" && notes == "" {
			return nil
		}
		feedbackID, err = s.learning.SubmitTx(ctx, tx, learning.FeedbackInput{
			OwnerID:  script.OwnerID,
			ScriptID: script.ID,
			Kind:     queue.FeedbackRejection,
			Category: category,
			Notes:    notes,
		})
		return err
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.scriptLogger(script).Info("script rejected",
		logging.String(logging.FieldEventType, "script_rejected"),
		logging.String("category", category),
		logging.String("feedback_id", feedbackID),
	)
	return s.store.GetScript(ctx, rejection.ScriptID)
}

// RevisionRequest asks for a rewrite of a script. TargetScenes are
// zero-based scene indexes; empty means the whole script.
type RevisionRequest struct {
	ScriptID     string
	Reviewer     string
	Notes        string
	TargetScenes []int
}

// Revision is the outcome of RequestRevision.
type Revision struct {
	Script     *queue.GeneratedScript
	Item       *queue.Item
	FeedbackID string
}

// RequestRevision moves a pending script to revision, records feedback, and
// admits a revision item that starts at the Writer with the origin item's
// Scout through Architect results. The status change, feedback, admission,
// and insert commit together: a denied admission leaves the script pending.
func (s *Service) RequestRevision(ctx context.Context, req RevisionRequest) (*Revision, error) {
	ctx, span := s.start(ctx, "review.revise", req.ScriptID)
	defer span.End()

	notes := strings.TrimSpace(req.Notes)
	if notes == "" {
		return nil, s.fail(span, services.Wrap(services.ErrValidation, "review", "request revision", "revision notes are required", nil))
	}
	script, err := s.store.GetScript(ctx, req.ScriptID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if script == nil {
		return nil, s.fail(span, queue.ErrScriptNotFound)
	}
	if script.RevisionCount >= s.cfg.MaxRevisions {
		return nil, s.fail(span, ErrRevisionLimit)
	}
	targets, err := normalizeTargets(req.TargetScenes, len(script.Scenes))
	if err != nil {
		return nil, s.fail(span, err)
	}
	origin, err := s.store.GetItem(ctx, script.ItemID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if origin == nil || !origin.Payloads.Has(queue.StageArchitect) {
		return nil, s.fail(span, services.Wrap(services.ErrValidation, "review", "request revision",
			"origin item no longer carries its analysis", nil))
	}

	parentID := origin.ID
	next := queue.NewItem{
		OwnerID:    script.OwnerID,
		Source:     origin.Source,
		StartStage: queue.StageWriter,
		Payloads:   origin.Payloads.KeepThrough(queue.StageArchitect),
		History:    inheritedHistory(origin.History),
		Revision: &queue.RevisionContext{
			Notes:            notes,
			PreviousScriptID: script.ID,
			Attempt:          script.RevisionCount + 1,
			TargetScenes:     targets,
		},
		ParentItemID: &parentID,
	}

	result := &Revision{}
	var itemID int64
	err = s.store.DB().WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.store.UpdateReviewTx(ctx, tx, script.ID, queue.ReviewUpdate{
			Status:            queue.ReviewRevision,
			Reviewer:          strings.TrimSpace(req.Reviewer),
			IncrementRevision: true,
		}); err != nil {
			return err
		}
		var err error
		result.FeedbackID, err = s.learning.SubmitTx(ctx, tx, learning.FeedbackInput{
			OwnerID:      script.OwnerID,
			ScriptID:     script.ID,
			Kind:         queue.FeedbackRevision,
			Notes:        notes,
			TargetScenes: targets,
		})
		if err != nil {
			return err
		}
		if err := s.governor.AdmitTx(ctx, tx, script.OwnerID, s.now()); err != nil {
			return err
		}
		itemID, err = s.store.InsertItemTx(ctx, tx, next)
		return err
	})
	if err != nil {
		if reason := governor.ReasonOf(err); reason != "" {
			s.scriptLogger(script).Info("revision not admitted",
				logging.Args(logging.DecisionAttrs("admission", "denied", string(reason))...)...,
			)
		}
		return nil, s.fail(span, err)
	}
	span.SetAttributes(attribute.Int64("item.id", itemID))
	s.scriptLogger(script).Info("revision requested",
		logging.String(logging.FieldEventType, "revision_requested"),
		logging.Item(itemID),
		logging.Int("attempt", next.Revision.Attempt),
		logging.Int("target_scenes", len(targets)),
	)

	if result.Item, err = s.store.GetItem(ctx, itemID); err != nil {
		return nil, s.fail(span, err)
	}
	if result.Script, err = s.store.GetScript(ctx, script.ID); err != nil {
		return nil, s.fail(span, err)
	}
	return result, nil
}

func (s *Service) loadScriptTx(ctx context.Context, tx *sql.Tx, scriptID string) (*queue.GeneratedScript, error) {
	script, err := s.store.GetScriptTx(ctx, tx, scriptID)
	if err != nil {
		return nil, err
	}
	if script == nil {
		return nil, queue.ErrScriptNotFound
	}
	return script, nil
}

func (s *Service) scriptLogger(script *queue.GeneratedScript) *slog.Logger {
	return s.logger.With(
		logging.Script(script.ID),
		logging.Owner(script.OwnerID),
	)
}

func (s *Service) start(ctx context.Context, name, scriptID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("script.id", scriptID)))
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// inheritedHistory carries the Scout through Architect entries into a
// revision item. Their cost was charged to the origin item.
func inheritedHistory(history []queue.StageHistoryEntry) []queue.StageHistoryEntry {
	var out []queue.StageHistoryEntry
	for _, entry := range history {
		if entry.Stage > queue.StageArchitect || !entry.Success {
			continue
		}
		entry.Agent = queue.AgentInherited
		entry.Cost = 0
		out = append(out, entry)
	}
	return out
}

func normalizeTargets(targets []int, scenes int) ([]int, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	out := slices.Clone(targets)
	slices.Sort(out)
	out = slices.Compact(out)
	for _, idx := range out {
		if idx < 0 || idx >= scenes {
			return nil, services.Wrap(services.ErrValidation, "review", "request revision",
				fmt.Sprintf("scene %d out of range (script has %d scenes)", idx, scenes), nil)
		}
	}
	return out, nil
}
