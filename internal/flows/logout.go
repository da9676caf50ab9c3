package flows

import (
	"context"

	"github.com/MrEthical07/goGuard/jwt"
)

// LogoutSessionStore removes a session given only the declared identity.
type LogoutSessionStore interface {
	DeleteForUser(ctx context.Context, userID int64, sessionID string) (bool, error)
}

// LogoutDeps captures logout flow dependencies. SessionStore may be nil when
// no registry is configured.
type LogoutDeps struct {
	Verify       func(string) jwt.VerifyResult
	SessionStore LogoutSessionStore
}

// LogoutResult reports which identity was logged out and whether the token
// check was relaxed to get there.
type LogoutResult struct {
	Identity Identity
	Lenient  bool
	Reason   string
	Existed  bool
	Err      error
}

// RunLogout always proceeds with the declared identity. A missing, invalid
// or mismatched token marks the result Lenient with the reason instead of
// failing, so a client can always clear its session.
func RunLogout(ctx context.Context, tokenStr string, declared Identity, deps LogoutDeps) LogoutResult {
	out := LogoutResult{Identity: declared}

	switch {
	case tokenStr == "":
		out.Lenient, out.Reason = true, jwt.ReasonMissing
	default:
		res := deps.Verify(tokenStr)
		switch {
		case !res.Valid:
			out.Lenient, out.Reason = true, res.Reason
		case res.Claims.UserID != declared.UserID || res.Claims.SessionID != declared.SessionID:
			out.Lenient, out.Reason = true, "credentials mismatch"
		}
	}

	if deps.SessionStore == nil {
		return out
	}
	out.Existed, out.Err = deps.SessionStore.DeleteForUser(ctx, declared.UserID, declared.SessionID)
	return out
}
