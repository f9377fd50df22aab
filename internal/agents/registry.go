package agents

import (
	"conveyor/internal/config"
	"conveyor/internal/queue"
	"conveyor/internal/stage"
)

// Stages builds the full handler set for the pipeline. scripts may be nil,
// in which case revision runs are drafted without the previous script.
func Stages(llm Completer, scripts ScriptSource, gate config.Gate) stage.Set {
	return stage.Set{
		queue.StageScout:     Scout{},
		queue.StageScorer:    Scorer{LLM: llm},
		queue.StageAnalyst:   Analyst{LLM: llm},
		queue.StageArchitect: Architect{LLM: llm},
		queue.StageWriter:    Writer{LLM: llm, Scripts: scripts},
		queue.StageQC:        QC{LLM: llm},
		queue.StageOptimizer: Optimizer{LLM: llm},
		queue.StageGate:      NewGate(gate),
		queue.StageDelivery:  Delivery{},
	}
}
