// Package versions is the script version store for projects in production.
//
// Each project holds an append-only chain of versions ordered by version
// number. Storage enforces exactly one current version and at most one open
// candidate per project with partial unique indexes, so a concurrent loser
// receives ErrCandidateExists instead of overwriting. Accept, reject, revert,
// user edits, and scene recommendation application each commit in their own
// transaction and never rewrite an existing version's content.
package versions
