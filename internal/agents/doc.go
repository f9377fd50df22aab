// Package agents implements the nine pipeline stages and the LLM-backed
// collaborators used by review and learning.
//
// Scout, Gate and Delivery are deterministic. Scorer, Analyst, Architect,
// Writer, QC and Optimizer each issue one JSON completion through a
// Completer, validate the decoded output, and report the completion cost in
// their stage.Result even when they fail. Reviewer, Extractor and Summarizer
// use the same plumbing outside the stage pipeline.
package agents
