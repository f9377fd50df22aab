package review_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"conveyor/internal/agents"
	"conveyor/internal/config"
	"conveyor/internal/governor"
	"conveyor/internal/learning"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/review"
	"conveyor/internal/services"
	"conveyor/internal/testsupport"
	"conveyor/internal/versions"
)

type harness struct {
	cfg      *config.Config
	store    *queue.Store
	versions *versions.Store
	handoff  *switchHandoff
	service  *review.Service
}

// switchHandoff delegates to the version store unless failing is set.
type switchHandoff struct {
	next    review.Handoff
	failing bool
	calls   int
	last    review.FinalScript
}

func (h *switchHandoff) Handoff(ctx context.Context, script *queue.GeneratedScript, final review.FinalScript) (string, error) {
	h.calls++
	h.last = final
	if h.failing {
		return "", errors.New("production unavailable")
	}
	return h.next.Handoff(ctx, script, final)
}

func newHarness(t *testing.T, ownerOpts []testsupport.OwnerOption, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedOwner(t, store, "owner-1", ownerOpts...)
	vs := versions.NewStore(store.DB(), logging.NewNop())
	handoff := &switchHandoff{next: review.VersionHandoff{Versions: vs}}
	engine := learning.New(store, nil, cfg.Learning, logging.NewNop())
	gov := governor.New(store, logging.NewNop())
	return &harness{
		cfg:      cfg,
		store:    store,
		versions: vs,
		handoff:  handoff,
		service:  review.New(store, gov, engine, handoff, cfg.Review, logging.NewNop()),
	}
}

func (h *harness) owner(t *testing.T) *queue.OwnerSettings {
	t.Helper()
	owner, err := h.store.GetOwner(context.Background(), "owner-1")
	if err != nil || owner == nil {
		t.Fatalf("GetOwner: %v", err)
	}
	return owner
}

func (h *harness) feedback(t *testing.T) []*queue.FeedbackEntry {
	t.Helper()
	entries, err := h.store.ListFeedback(context.Background(), queue.FeedbackFilter{OwnerID: "owner-1"})
	if err != nil {
		t.Fatalf("ListFeedback: %v", err)
	}
	return entries
}

// drain commits every runnable item through to delivery.
func drain(t *testing.T, store *queue.Store) {
	t.Helper()
	ctx := context.Background()
	for {
		claimed, err := store.ClaimNext(ctx)
		if err != nil {
			t.Fatalf("ClaimNext: %v", err)
		}
		if claimed == nil {
			return
		}
		started := time.Now().UTC()
		if _, err := store.CommitStage(ctx, claimed, queue.StageOutcome{
			Stage:       claimed.CurrentStage,
			Agent:       claimed.CurrentStage.String(),
			StartedAt:   started,
			CompletedAt: started.Add(time.Millisecond),
			Payload:     testsupport.StagePayload(claimed.CurrentStage, 80),
			Cost:        0.01,
		}); err != nil {
			t.Fatalf("CommitStage(%s): %v", claimed.CurrentStage, err)
		}
	}
}

func TestApproveSeedsProjectAndUpdatesOwner(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	script := testsupport.DeliverScript(t, h.store, "owner-1", 85)

	approval, err := h.service.Approve(ctx, script.ID, "editor")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approval.ProjectID == "" || approval.Script.ProjectID != approval.ProjectID {
		t.Fatalf("project not linked: %+v", approval)
	}
	if approval.Script.ReviewStatus != queue.ReviewApproved || approval.Script.ReviewedBy != "editor" {
		t.Fatalf("unexpected script review state: %+v", approval.Script)
	}
	if !approval.ThresholdChanged {
		t.Fatal("expected learned threshold update")
	}

	owner := h.owner(t)
	if owner.Stats.Approved != 1 || owner.LearnedThreshold == nil {
		t.Fatalf("owner not updated: stats=%+v learned=%v", owner.Stats, owner.LearnedThreshold)
	}
	if *owner.LearnedThreshold != approval.Threshold {
		t.Fatalf("stored threshold %v, reported %v", *owner.LearnedThreshold, approval.Threshold)
	}

	current, err := h.versions.Current(ctx, approval.ProjectID)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if current.Number != 1 || current.CreatedBy != versions.CreatedBySystem {
		t.Fatalf("unexpected seed version: %+v", current)
	}
	if len(current.Scenes) != len(script.Scenes) || current.Score == nil || *current.Score != 85 {
		t.Fatalf("seed version does not carry the final script: %+v", current)
	}
	if h.handoff.last.TotalWords == 0 || h.handoff.last.AIScore != 85 {
		t.Fatalf("unexpected final script: %+v", h.handoff.last)
	}

	if _, err := h.service.Approve(ctx, script.ID, "editor"); !errors.Is(err, queue.ErrNotReviewable) {
		t.Fatalf("second approve error = %v, want ErrNotReviewable", err)
	}
}

func TestApproveResumesFailedHandoff(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	script := testsupport.DeliverScript(t, h.store, "owner-1", 85)

	h.handoff.failing = true
	if _, err := h.service.Approve(ctx, script.ID, "editor"); err == nil {
		t.Fatal("expected hand-off failure")
	}
	stored, err := h.store.GetScript(ctx, script.ID)
	if err != nil {
		t.Fatalf("GetScript: %v", err)
	}
	if stored.ReviewStatus != queue.ReviewApproved || stored.ProjectID != "" {
		t.Fatalf("decision should persist without a project: %+v", stored)
	}

	h.handoff.failing = false
	approval, err := h.service.Approve(ctx, script.ID, "editor")
	if err != nil {
		t.Fatalf("resumed Approve: %v", err)
	}
	if !approval.Resumed || approval.ProjectID == "" {
		t.Fatalf("expected resumed hand-off: %+v", approval)
	}
	if got := h.owner(t).Stats.Approved; got != 1 {
		t.Fatalf("approved count = %d, want 1", got)
	}
}

func TestVersionHandoffIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	script := testsupport.DeliverScript(t, h.store, "owner-1", 85)
	handoff := review.VersionHandoff{Versions: h.versions}

	first, err := handoff.Handoff(ctx, script, review.BuildFinalScript(script, nil))
	if err != nil {
		t.Fatalf("Handoff: %v", err)
	}
	second, err := handoff.Handoff(ctx, script, review.BuildFinalScript(script, nil))
	if err != nil {
		t.Fatalf("second Handoff: %v", err)
	}
	if first != second {
		t.Fatalf("hand-off seeded two projects: %s and %s", first, second)
	}
}

func TestRejectRecordsPatternAndFeedback(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	script := testsupport.DeliverScript(t, h.store, "owner-1", 85)

	rejected, err := h.service.Reject(ctx, review.Rejection{
		ScriptID: script.ID,
		Reviewer: "editor",
		Category: "Tone",
		Notes:    "too formal for the channel",
	})
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.ReviewStatus != queue.ReviewRejected || rejected.RejectionCategory != "tone" {
		t.Fatalf("unexpected script: %+v", rejected)
	}
	owner := h.owner(t)
	if owner.Stats.Rejected != 1 || owner.RejectionPatterns["tone"] != 1 {
		t.Fatalf("owner not updated: stats=%+v patterns=%v", owner.Stats, owner.RejectionPatterns)
	}
	entries := h.feedback(t)
	if len(entries) != 1 || entries[0].Kind != queue.FeedbackRejection || entries[0].Status != queue.FeedbackPending {
		t.Fatalf("unexpected feedback: %+v", entries)
	}
	if _, err := h.service.Reject(ctx, review.Rejection{ScriptID: script.ID}); !errors.Is(err, queue.ErrNotReviewable) {
		t.Fatalf("second reject error = %v", err)
	}
}

func TestRejectWithoutReasonSkipsFeedback(t *testing.T) {
	h := newHarness(t, nil)
	script := testsupport.DeliverScript(t, h.store, "owner-1", 85)

	if _, err := h.service.Reject(context.Background(), review.Rejection{ScriptID: script.ID}); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if entries := h.feedback(t); len(entries) != 0 {
		t.Fatalf("expected no feedback, got %d", len(entries))
	}
	if got := h.owner(t).RejectionPatterns["unspecified"]; got != 1 {
		t.Fatalf("unspecified count = %d", got)
	}
}

func TestReviewUnknownScript(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.service.Approve(context.Background(), "missing", "editor")
	if !errors.Is(err, queue.ErrScriptNotFound) || !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("error = %v, want script not found", err)
	}
}

func TestRequestRevisionSpawnsWriterItem(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	script := testsupport.DeliverScript(t, h.store, "owner-1", 85)

	rev, err := h.service.RequestRevision(ctx, review.RevisionRequest{
		ScriptID:     script.ID,
		Reviewer:     "editor",
		Notes:        "sharper hook",
		TargetScenes: []int{2, 0, 2},
	})
	if err != nil {
		t.Fatalf("RequestRevision: %v", err)
	}
	if rev.Script.ReviewStatus != queue.ReviewRevision || rev.Script.RevisionCount != 1 {
		t.Fatalf("unexpected script: %+v", rev.Script)
	}
	item := rev.Item
	if item.CurrentStage != queue.StageWriter || item.Status != queue.StatusProcessing {
		t.Fatalf("revision item at %s/%s", item.CurrentStage, item.Status)
	}
	if item.Revision == nil || item.Revision.PreviousScriptID != script.ID || item.Revision.Attempt != 1 {
		t.Fatalf("unexpected revision context: %+v", item.Revision)
	}
	if got := item.Revision.TargetScenes; len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("target scenes = %v, want [0 2]", got)
	}
	if item.ParentItemID == nil || *item.ParentItemID != script.ItemID {
		t.Fatalf("parent = %v, want %d", item.ParentItemID, script.ItemID)
	}
	if !item.Payloads.Has(queue.StageArchitect) || item.Payloads.Has(queue.StageWriter) {
		t.Fatalf("payloads should stop at the architect: %+v", item.Payloads)
	}
	if len(item.History) != 4 {
		t.Fatalf("history entries = %d, want 4", len(item.History))
	}
	for _, entry := range item.History {
		if entry.Agent != queue.AgentInherited || entry.Cost != 0 {
			t.Fatalf("history entry not inherited: %+v", entry)
		}
	}
	entries := h.feedback(t)
	if len(entries) != 1 || entries[0].Kind != queue.FeedbackRevision || entries[0].ID != rev.FeedbackID {
		t.Fatalf("unexpected feedback: %+v", entries)
	}
	if got := h.owner(t).ItemsProcessedToday; got != 1 {
		t.Fatalf("revision should count against the daily limit, got %d", got)
	}
}

func TestRevisionDeliveryReturnsScriptToReview(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithMaxRevisions(1))
	ctx := context.Background()
	script := testsupport.DeliverScript(t, h.store, "owner-1", 85)

	if _, err := h.service.RequestRevision(ctx, review.RevisionRequest{ScriptID: script.ID, Notes: "shorter"}); err != nil {
		t.Fatalf("RequestRevision: %v", err)
	}
	drain(t, h.store)

	revised, err := h.store.GetScript(ctx, script.ID)
	if err != nil {
		t.Fatalf("GetScript: %v", err)
	}
	if revised.ReviewStatus != queue.ReviewPending || revised.RevisionCount != 1 {
		t.Fatalf("revised script: %+v", revised)
	}
	_, err = h.service.RequestRevision(ctx, review.RevisionRequest{ScriptID: script.ID, Notes: "again"})
	if !errors.Is(err, review.ErrRevisionLimit) || !errors.Is(err, services.ErrConflict) {
		t.Fatalf("error = %v, want ErrRevisionLimit", err)
	}
}

func TestExhaustedRevisionItemReturnsScriptToReview(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithMaxRetries(1))
	ctx := context.Background()
	script := testsupport.DeliverScript(t, h.store, "owner-1", 85)

	rev, err := h.service.RequestRevision(ctx, review.RevisionRequest{ScriptID: script.ID, Notes: "shorter"})
	if err != nil {
		t.Fatalf("RequestRevision: %v", err)
	}
	failWriter := func() {
		t.Helper()
		item, err := h.store.ClaimItem(ctx, rev.Item.ID)
		if err != nil || item == nil {
			t.Fatalf("ClaimItem: %v, %v", item, err)
		}
		started := time.Now().UTC()
		if _, err := h.store.FailStage(ctx, item, queue.StageOutcome{
			Stage: queue.StageWriter, Agent: "writer", StartedAt: started, CompletedAt: started,
			Error: "llm unavailable",
		}); err != nil {
			t.Fatalf("FailStage: %v", err)
		}
	}
	status := func() queue.ReviewStatus {
		t.Helper()
		stored, err := h.store.GetScript(ctx, script.ID)
		if err != nil || stored == nil {
			t.Fatalf("GetScript: %v", err)
		}
		return stored.ReviewStatus
	}

	failWriter()
	if got := status(); got != queue.ReviewRevision {
		t.Fatalf("script status with a retry left = %s, want %s", got, queue.ReviewRevision)
	}
	if _, err := h.store.RetryFailed(ctx, rev.Item.ID); err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	failWriter()
	if got := status(); got != queue.ReviewPending {
		t.Fatalf("script status after final failure = %s, want %s", got, queue.ReviewPending)
	}
	if _, err := h.store.RetryFailed(ctx, rev.Item.ID); !errors.Is(err, queue.ErrRetryExhausted) {
		t.Fatalf("RetryFailed error = %v, want ErrRetryExhausted", err)
	}

	approval, err := h.service.Approve(ctx, script.ID, "editor")
	if err != nil {
		t.Fatalf("Approve after failed revision: %v", err)
	}
	if approval.Script.ReviewStatus != queue.ReviewApproved || approval.Script.RevisionCount != 1 {
		t.Fatalf("unexpected script after approval: %+v", approval.Script)
	}
}

func TestRevisionDeniedAdmissionLeavesScriptPending(t *testing.T) {
	h := newHarness(t, []testsupport.OwnerOption{testsupport.WithDailyLimit(0)})
	ctx := context.Background()
	script := testsupport.DeliverScript(t, h.store, "owner-1", 85)

	_, err := h.service.RequestRevision(ctx, review.RevisionRequest{ScriptID: script.ID, Notes: "shorter"})
	if !errors.Is(err, governor.ErrAdmissionDenied) {
		t.Fatalf("error = %v, want admission denial", err)
	}
	stored, err := h.store.GetScript(ctx, script.ID)
	if err != nil {
		t.Fatalf("GetScript: %v", err)
	}
	if stored.ReviewStatus != queue.ReviewPending || stored.RevisionCount != 0 {
		t.Fatalf("script changed despite denial: %+v", stored)
	}
	if entries := h.feedback(t); len(entries) != 0 {
		t.Fatalf("feedback recorded despite denial: %d", len(entries))
	}
}

func TestRequestRevisionValidation(t *testing.T) {
	h := newHarness(t, nil)
	script := testsupport.DeliverScript(t, h.store, "owner-1", 85)

	tests := []struct {
		name string
		req  review.RevisionRequest
	}{
		{"missing notes", review.RevisionRequest{ScriptID: script.ID}},
		{"scene out of range", review.RevisionRequest{ScriptID: script.ID, Notes: "fix", TargetScenes: []int{3}}},
		{"negative scene", review.RevisionRequest{ScriptID: script.ID, Notes: "fix", TargetScenes: []int{-1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.service.RequestRevision(context.Background(), tt.req)
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("error = %v, want validation", err)
			}
		})
	}
}

func TestBuildFinalScript(t *testing.T) {
	scenes := []queue.Scene{
		{ID: "s1", Text: "Rooftops are farms now.", DurationSeconds: 4},
		{ID: "s2", Text: "Twelve of them opened this week.", DurationSeconds: 6},
	}
	script := &queue.GeneratedScript{Scenes: scenes, FullText: queue.JoinScenes(scenes), Scores: queue.ScriptScores{Overall: 77}}
	item := &queue.Item{Payloads: queue.Payloads{
		Optimizer: &queue.OptimizerPayload{SelectedHook: "Rooftops are farms now."},
		Architect: &queue.ArchitectPayload{TargetDurationSeconds: 45},
	}}

	final := review.BuildFinalScript(script, item)
	if final.Duration != 10 || final.TotalWords != 10 || final.AIScore != 77 {
		t.Fatalf("unexpected final script: %+v", final)
	}
	if len(final.SelectedVariants) != 1 {
		t.Fatalf("variants = %v", final.SelectedVariants)
	}

	script.Scenes = []queue.Scene{{ID: "s1", Text: "One line."}}
	if got := review.BuildFinalScript(script, item).Duration; got != 45 {
		t.Fatalf("planned duration fallback = %v, want 45", got)
	}
}

type fakeReviewer struct {
	review agents.Review
	err    error
}

func (f fakeReviewer) Review(_ context.Context, v *versions.Version) (agents.Review, error) {
	return f.review, f.err
}

func TestRecommendStoresSuggestionsAndChargesOwner(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	script := testsupport.DeliverScript(t, h.store, "owner-1", 85)
	approval, err := h.service.Approve(ctx, script.ID, "editor")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	before := h.owner(t).CurrentMonthCost

	rec := review.NewRecommender(h.store, h.versions, fakeReviewer{review: agents.Review{
		Text: "Strong open, weak close.",
		Recommendations: []versions.Recommendation{
			{SceneIndex: 2, Priority: "high", Area: "cta", SuggestedText: "Find your nearest rooftop farm today."},
		},
		Cost: 0.05,
	}}, logging.NewNop())
	version, stored, err := rec.Recommend(ctx, approval.ProjectID)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if version.ReviewText != "Strong open, weak close." || len(stored) != 1 {
		t.Fatalf("unexpected review: %+v %+v", version, stored)
	}
	listed, err := h.versions.ListRecommendations(ctx, version.ID)
	if err != nil || len(listed) != 1 || listed[0].SceneID != script.Scenes[2].ID {
		t.Fatalf("ListRecommendations = %+v, %v", listed, err)
	}
	if got := h.owner(t).CurrentMonthCost - before; got < 0.0499 || got > 0.0501 {
		t.Fatalf("charged %v, want 0.05", got)
	}
}

func TestRecommendChargesFailedReview(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	script := testsupport.DeliverScript(t, h.store, "owner-1", 85)
	approval, err := h.service.Approve(ctx, script.ID, "editor")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	before := h.owner(t).CurrentMonthCost

	rec := review.NewRecommender(h.store, h.versions, fakeReviewer{
		review: agents.Review{Cost: 0.02},
		err:    services.Wrap(services.ErrTransient, "reviewer", "review", "malformed output", nil),
	}, logging.NewNop())
	if _, _, err := rec.Recommend(ctx, approval.ProjectID); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("error = %v, want transient", err)
	}
	if got := h.owner(t).CurrentMonthCost - before; got < 0.0199 || got > 0.0201 {
		t.Fatalf("charged %v, want 0.02", got)
	}
}
