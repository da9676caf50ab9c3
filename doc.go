// Package goGuard gates game-state-mutating requests behind an ingress
// pipeline: optional body de-obfuscation, session token verification bound to
// the declared user and session, and a per-user single-flight lock.
//
// A [Gateway] is built once through [Builder.Build] and shared by every
// handler. It owns the lock table and the ephemeral cache, so there is no
// package-level mutable state. All Gateway methods are safe to call from
// multiple goroutines.
//
// A guarded handler runs:
//
//	req, err := gw.DecodeRequest(r)          // ErrFormat, ErrChecksum, ErrDecode, ErrValidation
//	_, err = gw.Authorize(ctx, req)          // ErrAuth and its children
//	err = gw.Guarded(ctx, req.LockKey(), fn) // ErrLockDenied
//
// [StatusCode], [ErrorCode] and [PublicMessage] turn any of those errors into
// a response.
//
// # Architecture boundaries
//
// goGuard is the public surface. It exposes [Gateway], [Builder], [Config] and
// value types (SessionGrant, LogoutResult, MetricsSnapshot). Flow orchestration,
// the lock table and audit dispatch live under internal/. The codec, token
// manager, guard, cache and session registry are importable on their own.
//
// # What this package must NOT do
//
//   - Log or audit raw tokens.
//   - Queue requests that lose the lock race. They fail with ErrLockDenied.
//   - Share locks across processes. The lock table is in-memory and Redis
//     holds only the session registry.
//   - Treat obfuscation as security. The codec deters casual tampering only.
package goGuard
