// Package preflight provides readiness checks for the filesystem paths, the
// queue database and the LLM endpoint that Conveyor depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll before starting workers and refuses to start
//     when any check fails.
//   - The CLI "conveyor status" command renders the individual results.
package preflight
