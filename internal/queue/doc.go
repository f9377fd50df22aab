// Package queue persists Conveyor records in SQLite and exposes the
// transitions that drive pipeline items through their stages.
//
// The Store owns items, owner settings, generated scripts and their
// snapshots, writing profiles, and feedback entries. Every mutation that
// advances an item is guarded by the item's row version so a stage that runs
// twice (after a crash or a reclaimed lease) commits at most once. Owner cost
// accrual, script materialization, and stats updates share the stage commit
// transaction.
//
// Transaction-scoped helpers (suffix Tx) let other packages, such as the
// governor and the review workflow, compose queue writes with their own
// statements inside database.DB.WithTx.
package queue
