package flows

import (
	"context"

	"github.com/MrEthical07/goGuard/jwt"
)

// AuthorizeFailureKind classifies authorization failures for root-level mapping.
type AuthorizeFailureKind int

const (
	AuthorizeFailureNone AuthorizeFailureKind = iota
	AuthorizeFailureTokenMissing
	AuthorizeFailureTokenInvalid
	AuthorizeFailureMismatch
	AuthorizeFailureSessionNotFound
	AuthorizeFailureBackend
)

// AuthorizeResult returns either verified claims or a classified failure.
type AuthorizeResult struct {
	Failure AuthorizeFailureKind
	Reason  string
	Err     error
	Claims  *jwt.Claims
}

// AuthorizeSessionStore is the registry lookup used in strict mode.
type AuthorizeSessionStore interface {
	Exists(ctx context.Context, userID int64, sessionID string) (bool, error)
}

// AuthorizeDeps captures token verification and strict-mode dependencies.
type AuthorizeDeps struct {
	Verify         func(string) jwt.VerifyResult
	RequireSession bool
	SessionStore   AuthorizeSessionStore
}

// RunAuthorize verifies tokenStr and binds its claims to the declared
// identity. In strict mode the session must also be live in the registry.
func RunAuthorize(ctx context.Context, tokenStr string, declared Identity, deps AuthorizeDeps) AuthorizeResult {
	if tokenStr == "" {
		return AuthorizeResult{Failure: AuthorizeFailureTokenMissing, Reason: jwt.ReasonMissing}
	}

	res := deps.Verify(tokenStr)
	if !res.Valid {
		return AuthorizeResult{Failure: AuthorizeFailureTokenInvalid, Reason: res.Reason}
	}
	if res.Claims.UserID != declared.UserID || res.Claims.SessionID != declared.SessionID {
		return AuthorizeResult{Failure: AuthorizeFailureMismatch, Reason: "credentials mismatch", Claims: res.Claims}
	}

	if !deps.RequireSession || deps.SessionStore == nil {
		return AuthorizeResult{Claims: res.Claims}
	}

	ok, err := deps.SessionStore.Exists(ctx, declared.UserID, declared.SessionID)
	if err != nil {
		return AuthorizeResult{Failure: AuthorizeFailureBackend, Err: err, Claims: res.Claims}
	}
	if !ok {
		return AuthorizeResult{Failure: AuthorizeFailureSessionNotFound, Reason: "session not found", Claims: res.Claims}
	}
	return AuthorizeResult{Claims: res.Claims}
}
