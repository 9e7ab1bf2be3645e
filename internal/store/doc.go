// Package store provides SQLite-backed storage for the fleet: containers,
// assets with their cached projection, the append-only event history and the
// reconciliation audit trail.
//
// # Patterns
//
// Append-only history:
//   - Events are never updated or deleted by this package's callers
//   - Seq is the autoincrement row id, so it reflects insertion order
//
// Optimistic concurrency:
//   - assets.version is bumped on every projection write
//   - ApplyCorrection only writes when the caller's version still matches
//   - A mismatch returns ErrVersionConflict and writes nothing
//
// Atomic corrections:
//   - The four projection fields and the audit row commit in one transaction
//
// Deterministic reads:
//   - Every list query has an explicit ORDER BY
//   - Empty results are empty slices, never nil
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
