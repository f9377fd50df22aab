// Package workflow advances queue items through the nine pipeline stages.
//
// The Manager runs a fixed pool of workers. Each worker leases one runnable
// item, keeps its heartbeat alive while the item's current stage executes via
// stageexec, and lets the guarded stage commit decide whether the result
// counts. A reclaimer releases leases whose heartbeat went stale so a crashed
// or stuck worker's item runs again elsewhere; re-running a stage that already
// committed is discarded by the item version check, so nothing is charged
// twice. Status aggregates queue counts and stage health checks.
package workflow
