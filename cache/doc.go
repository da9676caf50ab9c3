// Package cache provides the process-local TTL cache used for read-mostly
// lookups such as player profiles.
//
// Entries expire passively: [Cache.Get] evicts an expired entry on read and
// the optional sweep started by [Cache.Start] removes the rest on an
// interval. Both paths use the same expiry predicate.
//
// # What this package must NOT do
//
//   - Share state across processes.
//   - Hold locks while running a loader passed to [Cache.GetOrLoad].
package cache
