// Package session provides the Redis-backed session registry and its compact
// binary record encoding.
//
// A session is written when a player logs in and removed on logout. Strict
// validation mode consults the registry so that a token whose session has
// been ended is rejected even before the token itself expires.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model. It
// does NOT interpret tokens or enforce authentication policy; those
// responsibilities belong to the Gateway.
//
// # What this package must NOT do
//
//   - Import goGuard or jwt (no upward imports).
//   - Store tokens or other secrets in [Session] fields.
package session
