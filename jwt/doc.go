// Package jwt issues and verifies the signed session tokens that bind a
// caller to one user id and one session id.
//
// Tokens carry {userId, username, sessionId, type="socket_auth"} plus iat and
// an absolute exp fixed at issuance. [Manager.Verify] never returns an error:
// every signature, expiry or claim failure is folded into a
// [VerifyResult] with a human-readable reason, so callers decide the policy.
package jwt
