package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/stage"
)

var tracer = otel.Tracer("conveyor/stageexec")

const chargeTimeout = 5 * time.Second

// Options controls one stage execution against a claimed item.
type Options struct {
	Logger  *slog.Logger
	Store   *queue.Store
	Handler stage.Handler
	Item    *queue.Item

	// Attempts bounds in-process retries of transient and timeout errors.
	Attempts int
	// Timeout bounds each attempt; zero disables it.
	Timeout time.Duration
	// Backoff is the base delay between attempts, doubled each retry.
	Backoff time.Duration
	Now     func() time.Time
}

// Run executes the item's current stage and persists the outcome: a commit
// that advances the item, or a failure that halts it. Cost reported by every
// attempt is charged either way. When ctx is cancelled mid-stage only the
// spend of finished attempts is persisted, and the context error is returned
// so the lease can be released.
func Run(ctx context.Context, opts Options) (*queue.Item, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("stage handler unavailable")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("queue store is required")
	}
	if opts.Item == nil {
		return nil, fmt.Errorf("queue item is required")
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	item := opts.Item
	current := item.CurrentStage

	ctx = services.WithItemID(ctx, item.ID)
	ctx = services.WithOwnerID(ctx, item.OwnerID)
	ctx = services.WithStage(ctx, current.String())
	ctx, span := tracer.Start(ctx, "stage."+current.String(), trace.WithAttributes(
		attribute.Int64("item.id", item.ID),
		attribute.String("owner.id", item.OwnerID),
		attribute.Int("stage.number", int(current)),
	))
	defer span.End()
	logger := logging.WithContext(ctx, opts.Logger)

	input, err := loadInput(ctx, opts.Store, item)
	if err != nil {
		return nil, finish(span, err)
	}

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("source_title", strings.TrimSpace(item.Source.Title)),
		logging.Int("attempts", opts.Attempts),
		logging.Bool("revision", item.IsRevision()),
	)

	started := opts.Now()
	var (
		result   stage.Result
		cost     float64
		execErr  error
		attempts int
	)
	for attempts = 1; attempts <= opts.Attempts; attempts++ {
		result, execErr = attempt(ctx, opts, input)
		cost += max(result.Cost, 0)
		if execErr == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, finish(span, interrupted(ctx, logger, opts.Store, item, cost))
		}
		if !services.Retryable(execErr) || attempts == opts.Attempts {
			break
		}
		delay := opts.Backoff << (attempts - 1)
		logger.Warn("stage attempt failed; retrying",
			logging.Int("attempt", attempts),
			logging.Duration("backoff", delay),
			logging.Error(execErr),
			logging.String(logging.FieldEventType, "stage_retry"),
			logging.String(logging.FieldErrorHint, "transient agent error"),
		)
		select {
		case <-ctx.Done():
			return nil, finish(span, interrupted(ctx, logger, opts.Store, item, cost))
		case <-time.After(delay):
		}
	}
	span.SetAttributes(attribute.Float64("stage.cost", cost), attribute.Int("stage.attempts", min(attempts, opts.Attempts)))

	outcome := queue.StageOutcome{
		Stage:       current,
		Agent:       current.String(),
		StartedAt:   started,
		CompletedAt: opts.Now(),
		Payload:     result.Payload,
		Cost:        cost,
	}
	if execErr != nil {
		return nil, finish(span, fail(ctx, logger, opts.Store, item, outcome, execErr))
	}

	updated, err := opts.Store.CommitStage(ctx, item, outcome)
	if err != nil {
		if queue.IsStale(err) {
			logger.Info("stage result discarded; item already advanced",
				logging.String(logging.FieldEventType, "stage_stale"),
			)
			return nil, finish(span, err)
		}
		if errors.Is(err, queue.ErrPayloadMismatch) || errors.Is(err, services.ErrValidation) {
			return nil, finish(span, fail(ctx, logger, opts.Store, item, outcome, err))
		}
		logger.Error("failed to persist stage result",
			logging.Error(err),
			logging.String(logging.FieldEventType, "stage_commit_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		return nil, finish(span, err)
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Float64("cost", cost),
		logging.Duration("stage_duration", outcome.CompletedAt.Sub(started)),
	}
	if note := strings.TrimSpace(result.Note); note != "" {
		attrs = append(attrs, logging.String("note", note))
	}
	if updated.Status == queue.StatusCompleted {
		attrs = append(attrs, logging.String("next_status", string(updated.Status)))
	} else {
		attrs = append(attrs, logging.String("next_stage", updated.CurrentStage.String()))
	}
	logger.Info("stage completed", logging.Args(attrs...)...)
	return updated, nil
}

func attempt(ctx context.Context, opts Options, input stage.Input) (stage.Result, error) {
	attemptCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	result, err := opts.Handler.Execute(attemptCtx, input)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		err = services.Wrap(services.ErrTimeout, input.Item.CurrentStage.String(), "execute",
			fmt.Sprintf("stage exceeded %s", opts.Timeout), err)
	}
	return result, err
}

func loadInput(ctx context.Context, store *queue.Store, item *queue.Item) (stage.Input, error) {
	settings, err := store.GetOwner(ctx, item.OwnerID)
	if err != nil {
		return stage.Input{}, err
	}
	if settings == nil {
		return stage.Input{}, queue.ErrOwnerNotFound
	}
	profile, err := store.GetProfile(ctx, item.OwnerID)
	if err != nil {
		return stage.Input{}, err
	}
	return stage.Input{Item: item, Settings: settings, Profile: profile}, nil
}

// interrupted charges what the stage already spent and returns the context
// error. The item stays at its stage for the next worker.
func interrupted(ctx context.Context, logger *slog.Logger, store *queue.Store, item *queue.Item, cost float64) error {
	logger.Debug("stage interrupted by shutdown", logging.Float64("cost", cost))
	if cost > 0 {
		chargeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), chargeTimeout)
		defer cancel()
		if err := store.ChargeItem(chargeCtx, item, cost); err != nil {
			logger.Warn("failed to charge interrupted stage",
				logging.Error(err),
				logging.String(logging.FieldEventType, "stage_charge_failed"),
				logging.String(logging.FieldImpact, "owner monthly spend is understated"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		}
	}
	return ctx.Err()
}

func fail(ctx context.Context, logger *slog.Logger, store *queue.Store, item *queue.Item, outcome queue.StageOutcome, stageErr error) error {
	details := services.Details(stageErr)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = "stage failed"
	}
	outcome.Error = message
	outcome.Payload = nil

	logger.Error("stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("error_kind", details.Kind),
		logging.String("error_message", message),
		logging.Float64("cost", outcome.Cost),
		logging.Error(stageErr),
		logging.String(logging.FieldErrorHint, "inspect the item and retry it once the cause is fixed"),
	)
	if _, err := store.FailStage(ctx, item, outcome); err != nil {
		if queue.IsStale(err) {
			return err
		}
		logger.Error("failed to persist stage failure", logging.Error(err))
		return errors.Join(stageErr, err)
	}
	return stageErr
}

func finish(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
