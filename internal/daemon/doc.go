// Package daemon coordinates the long-running Conveyor process.
//
// It wires configuration, the queue store, the workflow manager, and the
// learning engine into a single lifecycle with flock-based locking to prevent
// multiple instances. Besides the stage workers it runs a periodic feedback
// loop that turns pending reviewer feedback into writing rules.
//
// Keep orchestration logic here: stage execution lives in workflow and
// stageexec while the daemon focuses on startup, shutdown, and high level
// coordination.
package daemon
