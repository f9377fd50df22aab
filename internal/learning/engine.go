package learning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services"
)

// ExtractionRequest is what the Extractor sees for one feedback entry.
type ExtractionRequest struct {
	Entry   queue.FeedbackEntry
	Script  *queue.GeneratedScript
	Profile queue.WritingProfile
}

// Extractor turns free-text feedback into structured patterns.
type Extractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (queue.ExtractedPatterns, error)
}

// Summarizer condenses a writing profile into prompt-ready prose.
type Summarizer interface {
	Summarize(ctx context.Context, profile queue.WritingProfile) (string, error)
}

// FeedbackInput is raw feedback submitted by a reviewer.
type FeedbackInput struct {
	OwnerID      string
	ScriptID     string
	Kind         queue.FeedbackKind
	Category     string
	Notes        string
	TargetScenes []int
}

// Result describes the settlement of one feedback entry.
type Result struct {
	EntryID string
	Status  queue.FeedbackStatus
	Reason  string
	Stats   MergeStats
}

// Summary aggregates a ProcessPending run.
type Summary struct {
	Processed int
	Discarded int
	Failed    int
}

// Engine runs feedback extraction, profile merges, and threshold updates.
type Engine struct {
	store      *queue.Store
	extractor  Extractor
	summarizer Summarizer
	policy     ThresholdPolicy
	cfg        config.Learning
	logger     *slog.Logger

	summaries  singleflight.Group
	background sync.WaitGroup
	timeout    time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy replaces the default EMA threshold policy.
func WithPolicy(policy ThresholdPolicy) Option {
	return func(e *Engine) {
		if policy != nil {
			e.policy = policy
		}
	}
}

// WithSummarizer enables background summary regeneration.
func WithSummarizer(summarizer Summarizer) Option {
	return func(e *Engine) { e.summarizer = summarizer }
}

// WithSummaryTimeout bounds each background summary call.
func WithSummaryTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// New constructs an Engine. extractor may be nil for callers that only
// submit feedback or update thresholds.
func New(store *queue.Store, extractor Extractor, cfg config.Learning, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		extractor: extractor,
		policy:    NewEMAPolicy(cfg),
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "learning"),
		timeout:   2 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit persists a pending feedback entry.
func (e *Engine) Submit(ctx context.Context, input FeedbackInput) (string, error) {
	var id string
	err := e.store.DB().WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = e.SubmitTx(ctx, tx, input)
		return err
	})
	return id, err
}

// SubmitTx persists a pending feedback entry inside tx.
func (e *Engine) SubmitTx(ctx context.Context, tx *sql.Tx, input FeedbackInput) (string, error) {
	if strings.TrimSpace(input.OwnerID) == "" || strings.TrimSpace(input.ScriptID) == "" {
		return "", services.Wrap(services.ErrValidation, "learning", "submit feedback", "owner and script are required", nil)
	}
	if input.Kind == "" {
		input.Kind = queue.FeedbackRejection
	}
	id, err := e.store.InsertFeedbackTx(ctx, tx, queue.FeedbackEntry{
		OwnerID:      input.OwnerID,
		ScriptID:     input.ScriptID,
		Kind:         input.Kind,
		Category:     strings.TrimSpace(input.Category),
		Notes:        strings.TrimSpace(input.Notes),
		TargetScenes: input.TargetScenes,
	})
	if err != nil {
		return "", err
	}
	e.logger.Debug("feedback submitted",
		logging.Owner(input.OwnerID),
		logging.Script(input.ScriptID),
		logging.String("feedback_id", id),
		logging.String("kind", string(input.Kind)),
	)
	return id, nil
}

// Process extracts and merges one pending entry. Invalid extractions are
// discarded and reported in the Result; extractor failures leave the entry
// pending and return the error.
func (e *Engine) Process(ctx context.Context, entryID string) (Result, error) {
	result := Result{EntryID: entryID}
	if e.extractor == nil {
		return result, services.Wrap(services.ErrConfiguration, "learning", "process feedback", "no extractor configured", nil)
	}
	entry, err := e.store.GetFeedback(ctx, entryID)
	if err != nil {
		return result, err
	}
	if entry == nil {
		return result, queue.ErrFeedbackNotFound
	}
	if entry.Status != queue.FeedbackPending {
		return result, queue.ErrFeedbackNotPending
	}
	logger := e.logger.With(
		logging.Owner(entry.OwnerID),
		logging.String("feedback_id", entry.ID),
	)

	script, err := e.store.GetScript(ctx, entry.ScriptID)
	if err != nil {
		return result, err
	}
	profile, err := e.store.GetProfile(ctx, entry.OwnerID)
	if err != nil {
		return result, err
	}

	patterns, err := e.extractor.Extract(ctx, ExtractionRequest{Entry: *entry, Script: script, Profile: *profile})
	if err == nil {
		err = Validate(patterns)
	}
	if err != nil {
		if !errors.Is(err, services.ErrValidation) {
			return result, fmt.Errorf("extract feedback %s: %w", entry.ID, err)
		}
		reason := services.Details(err).Message
		if reason == "" {
			reason = err.Error()
		}
		logging.WarnWithContext(logger, "feedback extraction discarded", "feedback_discarded",
			logging.String(logging.FieldErrorHint, reason),
			logging.String(logging.FieldImpact, "profile unchanged"),
		)
		if err := e.store.MarkFeedbackDiscarded(ctx, entry.ID, reason); err != nil {
			return result, err
		}
		result.Status = queue.FeedbackDiscarded
		result.Reason = reason
		return result, nil
	}

	var processed int
	err = e.store.DB().WithTx(ctx, func(tx *sql.Tx) error {
		current, err := e.store.GetProfileTx(ctx, tx, entry.OwnerID)
		if err != nil {
			return err
		}
		result.Stats = Merge(current, patterns, MergeOptions{
			SimilarityThreshold: e.cfg.NearDuplicateThreshold,
			MaxExamples:         e.cfg.MaxExamples,
		})
		current.ProcessedCount++
		processed = current.ProcessedCount
		if err := e.store.SaveProfileTx(ctx, tx, current); err != nil {
			return err
		}
		return e.store.MarkFeedbackProcessedTx(ctx, tx, entry.ID, patterns)
	})
	if err != nil {
		return result, err
	}
	result.Status = queue.FeedbackProcessed
	logger.Info("feedback merged",
		logging.Int("rules_added", result.Stats.RulesAdded),
		logging.Int("rules_merged", result.Stats.RulesMerged),
		logging.Float64("sentiment", patterns.Sentiment),
		logging.Int("processed_count", processed),
	)
	if e.summarizer != nil && e.cfg.SummaryEvery > 0 && processed%e.cfg.SummaryEvery == 0 {
		e.scheduleSummary(entry.OwnerID)
	}
	return result, nil
}

// ProcessPending processes every pending entry, optionally for one owner.
// Individual failures are logged and counted; the run continues.
func (e *Engine) ProcessPending(ctx context.Context, ownerID string, limit uint64) (Summary, error) {
	var summary Summary
	entries, err := e.store.ListFeedback(ctx, queue.FeedbackFilter{
		OwnerID: ownerID,
		Status:  queue.FeedbackPending,
		Limit:   limit,
	})
	if err != nil {
		return summary, err
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result, err := e.Process(ctx, entry.ID)
		switch {
		case err != nil:
			summary.Failed++
			logging.WarnWithContext(e.logger, "feedback processing failed", "feedback_failed",
				logging.String("feedback_id", entry.ID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "entry stays pending; rerun feedback processing"),
			)
		case result.Status == queue.FeedbackDiscarded:
			summary.Discarded++
		default:
			summary.Processed++
		}
	}
	return summary, nil
}

// UpdateThresholdTx recomputes the owner's learned threshold from recent
// approved scores. It reports the new value and whether one was stored.
func (e *Engine) UpdateThresholdTx(ctx context.Context, tx *sql.Tx, ownerID string) (float64, bool, error) {
	owner, err := e.store.GetOwnerTx(ctx, tx, ownerID)
	if err != nil {
		return 0, false, err
	}
	if owner == nil {
		return 0, false, queue.ErrOwnerNotFound
	}
	scores, err := e.store.ApprovedScoresTx(ctx, tx, ownerID, e.cfg.ApprovedWindow)
	if err != nil {
		return 0, false, err
	}
	next, ok := e.policy.Next(owner.LearnedThreshold, owner.MinScoreThreshold, scores)
	if !ok {
		return 0, false, nil
	}
	if err := e.store.SetLearnedThresholdTx(ctx, tx, ownerID, next); err != nil {
		return 0, false, err
	}
	e.logger.Info("learned threshold updated",
		logging.Args(append(logging.DecisionAttrs("threshold", "updated", "approval"),
			logging.Owner(ownerID),
			logging.Float64("threshold", next),
			logging.Int("samples", len(scores)),
		)...)...,
	)
	return next, true, nil
}

// RefreshSummary regenerates the owner's profile summary synchronously. A
// summary computed from an older profile never overwrites a newer one.
func (e *Engine) RefreshSummary(ctx context.Context, ownerID string) error {
	if e.summarizer == nil {
		return nil
	}
	_, err, _ := e.summaries.Do(ownerID, func() (any, error) {
		return nil, e.refreshSummary(ctx, ownerID)
	})
	return err
}

func (e *Engine) refreshSummary(ctx context.Context, ownerID string) error {
	profile, err := e.store.GetProfile(ctx, ownerID)
	if err != nil {
		return err
	}
	summary, err := e.summarizer.Summarize(ctx, *profile)
	if err != nil {
		return fmt.Errorf("summarize profile: %w", err)
	}
	return e.store.DB().WithTx(ctx, func(tx *sql.Tx) error {
		stored, err := e.store.UpdateSummaryTx(ctx, tx, ownerID, strings.TrimSpace(summary), profile.ProcessedCount)
		if err == nil && stored {
			e.logger.Info("profile summary refreshed",
				logging.Owner(ownerID),
				logging.Int("revision", profile.ProcessedCount),
			)
		}
		return err
	})
}

func (e *Engine) scheduleSummary(ownerID string) {
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		if err := e.RefreshSummary(ctx, ownerID); err != nil {
			logging.WarnWithContext(e.logger, "profile summary refresh failed", "summary_failed",
				logging.Owner(ownerID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "writer keeps the previous summary"),
			)
		}
	}()
}

// Wait blocks until background summary work finishes.
func (e *Engine) Wait() {
	e.background.Wait()
}
