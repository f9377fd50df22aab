// Package learning turns human review feedback into per-owner writing
// profiles and adapts each owner's gate threshold.
//
// Feedback entries are persisted pending, sent to an Extractor, validated,
// and merged into the owner's WritingProfile in one transaction with the
// entry's status change. Every few processed entries the profile summary is
// regenerated in the background, single-flight per owner. Approvals feed a
// ThresholdPolicy that nudges the learned threshold toward recent approved
// scores.
package learning
