// Package storage keeps the run history of scheduled jobs.
//
// The history is append-only and informational: schedule state (last and
// next run) is never restored from it.
//
// Drivers:
//   - "file": JSON Lines file, compacted to the retention count
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
package storage
