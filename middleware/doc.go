// Package middleware exposes net/http and gin adapters that run the goGuard
// ingress pipeline in front of a handler.
//
// # Guards
//
//   - [RequireGuarded]: decode, authorize, hold the per-user lock.
//   - [RequireAuthorized]: decode and authorize only.
//   - [AllowLogout]: decode and authorize leniently on the declared identity.
//   - [GinGuard]: the same modes as gin handlers.
//
// The decoded request and verified claims are stored in the request context
// ([TrustedFromContext], [RequestFromContext], [GinRequest]). Rejections are
// written as {"error": code, "message": text}, obfuscated when the request
// was.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Gateway calls. Every decision
// is delegated to the Gateway.
//
// # What this package must NOT do
//
//   - Parse or verify tokens directly.
//   - Access Redis.
//   - Queue a request that lost the lock race.
package middleware
