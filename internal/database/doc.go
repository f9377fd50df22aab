// Package database opens the Conveyor SQLite database and owns its schema.
//
// Connections are opened with WAL journaling, a busy timeout, foreign keys,
// and immediate transaction locking so every write transaction takes the
// reserved lock up front. WithTx retries whole transactions when SQLite
// reports SQLITE_BUSY. Storage invariants (one current version per project,
// one open candidate, non-negative owner counters) live in the migrations as
// partial unique indexes and CHECK constraints.
package database
