// Package storage keeps the optional cycle audit trail.
//
// Each finished poll/report/sync cycle appends one compact CycleRecord. The
// status API reads the latest records back. Backends:
//   - "file": JSON Lines file, compacted on open
//   - "sqlite": SQLite database (modernc.org/sqlite, pure Go)
package storage
