package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/ingress"
	"github.com/MrEthical07/goGuard/jwt"
)

// Mode selects how much of the pipeline a route runs after decoding.
type Mode int

const (
	// ModeGuarded authorizes the caller and holds the per-user lock for the
	// whole handler.
	ModeGuarded Mode = iota
	// ModeAuthorized authorizes the caller without taking the lock. Use it
	// for read-only routes.
	ModeAuthorized
	// ModeLogout authorizes leniently and proceeds on the declared identity
	// when the token is missing or invalid.
	ModeLogout
	// ModeDecodeOnly decodes and parses the body and checks nothing else.
	ModeDecodeOnly
)

// Trusted is what a handler behind [Guard] receives through its context.
type Trusted struct {
	Request *ingress.Request
	// Claims is nil in ModeLogout and ModeDecodeOnly.
	Claims *jwt.Claims
	// Logout is set only in ModeLogout.
	Logout *goGuard.LogoutResult
	// Obfuscated reports whether the request arrived obfuscated. Respond
	// mirrors it.
	Obfuscated bool
}

type trustedContextKey struct{}

// TrustedFromContext returns the pipeline result stored by [Guard].
func TrustedFromContext(ctx context.Context) (*Trusted, bool) {
	res, ok := ctx.Value(trustedContextKey{}).(*Trusted)
	return res, ok
}

// RequestFromContext returns the decoded request stored by [Guard].
func RequestFromContext(ctx context.Context) (*ingress.Request, bool) {
	res, ok := TrustedFromContext(ctx)
	if !ok {
		return nil, false
	}
	return res.Request, true
}

// Guard returns middleware that runs the ingress pipeline for mode and
// rejects the request with a JSON error on the first failure.
func Guard(gw *goGuard.Gateway, mode Mode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gw == nil {
				writeError(w, nil, false, goGuard.ErrGatewayNotReady)
				return
			}

			ctx := goGuard.WithClientIP(r.Context(), clientIP(r))
			r = r.WithContext(ctx)

			trusted, err := run(ctx, gw, r, mode)
			if err != nil {
				writeError(w, gw, gw.Obfuscated(r), err)
				return
			}
			ctx = context.WithValue(ctx, trustedContextKey{}, trusted)

			if mode != ModeGuarded {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			err = gw.Guarded(ctx, trusted.Request.LockKey(), func(ctx context.Context) error {
				next.ServeHTTP(w, r.WithContext(ctx))
				return nil
			})
			if err != nil {
				writeError(w, gw, trusted.Obfuscated, err)
			}
		})
	}
}

// run decodes r and applies mode's checks. It never takes the lock.
func run(ctx context.Context, gw *goGuard.Gateway, r *http.Request, mode Mode) (*Trusted, error) {
	obfuscated := gw.Obfuscated(r)

	req, err := gw.DecodeRequest(r)
	if err != nil {
		return nil, err
	}
	if req.Token == "" {
		req.Token, _ = bearerToken(r.Header.Get("Authorization"))
	}

	trusted := &Trusted{Request: req, Obfuscated: obfuscated}
	switch mode {
	case ModeGuarded, ModeAuthorized:
		claims, err := gw.Authorize(ctx, req)
		if err != nil {
			return nil, err
		}
		trusted.Claims = claims
	case ModeLogout:
		res, err := gw.AuthorizeLogout(ctx, req)
		if err != nil {
			return nil, err
		}
		trusted.Logout = res
	}
	return trusted, nil
}

// Respond writes v for a request that passed [Guard], obfuscated when the
// request was.
func Respond(gw *goGuard.Gateway, w http.ResponseWriter, r *http.Request, status int, v any) error {
	obfuscate := false
	if trusted, ok := TrustedFromContext(r.Context()); ok {
		obfuscate = trusted.Obfuscated
	}
	return gw.WriteJSON(w, status, v, obfuscate)
}

// Error writes err as a JSON error body for a request that passed [Guard].
func Error(gw *goGuard.Gateway, w http.ResponseWriter, r *http.Request, err error) {
	obfuscate := false
	if trusted, ok := TrustedFromContext(r.Context()); ok {
		obfuscate = trusted.Obfuscated
	}
	writeError(w, gw, obfuscate, err)
}

// ErrorBody is the JSON shape of every rejection.
type ErrorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func errorBody(err error) ErrorBody {
	return ErrorBody{
		Error:     goGuard.ErrorCode(err),
		Message:   goGuard.PublicMessage(err),
		Retryable: goGuard.Retryable(err),
	}
}

func writeError(w http.ResponseWriter, gw *goGuard.Gateway, obfuscate bool, err error) {
	status := goGuard.StatusCode(err)
	if goGuard.Retryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	if gw == nil {
		http.Error(w, goGuard.PublicMessage(err), status)
		return
	}
	_ = gw.WriteJSON(w, status, errorBody(err), obfuscate)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
