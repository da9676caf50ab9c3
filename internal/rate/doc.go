// Package rate implements the per-key single-flight lock table that admits at
// most one in-flight mutating request per user.
//
// # Window semantics
//
// A lock is live while its age is below the stale timeout (30s by default).
// Stale locks are swept lazily at the start of every acquire and count; there
// is no background timer. A second acquire for a live key is rejected, never
// queued.
//
// # What this package must NOT do
//
//   - Coordinate across processes. The table is in-memory only.
//   - Block waiting for a lock to become free.
//   - Be imported outside the goGuard module.
package rate
