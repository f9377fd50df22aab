// Package services defines shared utilities consumed by the stage agents,
// the workflow manager, and the stores.
//
// Key responsibilities:
//   - Context helpers that stamp item IDs, owners, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap and Details helpers that keep
//     stage failures, retry decisions, and invariant conflicts distinguishable.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
