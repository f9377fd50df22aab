// Package textutil provides text helpers shared by the stage agents and the
// learning engine.
//
// The primary use cases are:
//   - Creating token-based fingerprints of feedback rules for near-duplicate detection
//   - Scoring fingerprints against each other with Fingerprint.Cosine
//   - Normalizing rule text for exact-match comparison
//   - Cleaning and trimming source text before it reaches a prompt
//
// Tokenization is Unicode aware: text is NFKC-normalized and case-folded,
// split on anything that is not a letter or digit, and tokens shorter than
// 3 runes are dropped.
package textutil
