// Command conveyor is the operator CLI for the Conveyor content pipeline.
//
// Every subcommand other than `config init` loads the configuration and
// opens the shared SQLite database directly, so owners, items, scripts and
// projects can be inspected and reviewed whether or not the daemon is
// running. `conveyor daemon` runs the worker pool in the foreground.
package main
