// Package clock provides an injectable time source.
//
// Components that reason about elapsed time (lock staleness, cache TTLs, the
// cache sweep interval) take a [Clock] instead of calling time.Now directly.
// Production code passes [Real]; tests pass a [FakeClock] and call
// [FakeClock.Advance] to simulate elapsed time without sleeping.
//
// # What this package must NOT do
//
//   - Import any other goGuard package.
//   - Start goroutines of its own.
package clock
