// Package review applies human decisions to delivered scripts.
//
// Approval records the decision, feeds the learned threshold, and hands the
// script off to production as a versioned project. Rejection and revision
// requests leave feedback for the learning engine; a revision also spawns a
// new item that re-enters the pipeline at the Writer stage with the earlier
// analysis inherited. Hand-off is resumable: approving a script whose
// hand-off failed retries only the hand-off.
package review
