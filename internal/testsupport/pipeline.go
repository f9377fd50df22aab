package testsupport

import (
	"context"
	"testing"
	"time"

	"conveyor/internal/queue"
)

// StagePayload returns a minimal valid payload for stage. overall sets the
// optimizer and gate scores.
func StagePayload(stage queue.Stage, overall float64) any {
	scenes := SampleScenes(3)
	switch stage {
	case queue.StageScout:
		return queue.ScoutPayload{Title: "City opens rooftop farms", CleanText: "The city opened twelve rooftop farms.", Relevant: true}
	case queue.StageScorer:
		return queue.ScorerPayload{Score: overall}
	case queue.StageAnalyst:
		return queue.AnalystPayload{Angle: "local food", Audience: "city residents"}
	case queue.StageArchitect:
		return queue.ArchitectPayload{Format: "short", TargetDurationSeconds: 60}
	case queue.StageWriter:
		return queue.WriterPayload{Scenes: scenes, FullText: queue.JoinScenes(scenes)}
	case queue.StageQC:
		return queue.QCPayload{Score: overall}
	case queue.StageOptimizer:
		return queue.OptimizerPayload{Scenes: scenes, FullText: queue.JoinScenes(scenes), Scores: queue.ScriptScores{Overall: overall}, Confidence: 0.9}
	case queue.StageGate:
		return queue.GatePayload{Decision: queue.GatePass, Threshold: 70, Score: overall, Confidence: 0.9}
	default:
		return queue.DeliveryPayload{Title: "City opens rooftop farms"}
	}
}

// DeliverScript inserts an item for owner and commits every stage directly,
// returning the materialized script. It assumes no other runnable items exist.
func DeliverScript(t testing.TB, store *queue.Store, ownerID string, overall float64) *queue.GeneratedScript {
	t.Helper()

	ctx := context.Background()
	InsertItem(t, store, queue.NewItem{OwnerID: ownerID})
	var item *queue.Item
	for {
		claimed, err := store.ClaimNext(ctx)
		if err != nil {
			t.Fatalf("ClaimNext: %v", err)
		}
		if claimed == nil {
			break
		}
		started := time.Now().UTC()
		item, err = store.CommitStage(ctx, claimed, queue.StageOutcome{
			Stage:       claimed.CurrentStage,
			Agent:       claimed.CurrentStage.String(),
			StartedAt:   started,
			CompletedAt: started.Add(time.Millisecond),
			Payload:     StagePayload(claimed.CurrentStage, overall),
			Cost:        0.01,
		})
		if err != nil {
			t.Fatalf("CommitStage(%s): %v", claimed.CurrentStage, err)
		}
	}
	if item == nil || item.Payloads.Delivery == nil {
		t.Fatal("expected delivered item")
	}
	script, err := store.GetScript(ctx, item.Payloads.Delivery.ScriptID)
	if err != nil || script == nil {
		t.Fatalf("GetScript(%s): %v", item.Payloads.Delivery.ScriptID, err)
	}
	return script
}
