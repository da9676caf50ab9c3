package middleware

import (
	"net/http"

	goGuard "github.com/MrEthical07/goGuard"
)

// RequireGuarded runs the full pipeline: decode, authorize, then hold the
// caller's lock for the handler's whole span. Use it on every route that
// mutates game state.
func RequireGuarded(gw *goGuard.Gateway) func(http.Handler) http.Handler {
	return Guard(gw, ModeGuarded)
}

// RequireAuthorized decodes and authorizes without taking the lock.
func RequireAuthorized(gw *goGuard.Gateway) func(http.Handler) http.Handler {
	return Guard(gw, ModeAuthorized)
}

// AllowLogout decodes and runs the lenient logout check. The session is
// already removed from the registry when the handler runs.
func AllowLogout(gw *goGuard.Gateway) func(http.Handler) http.Handler {
	return Guard(gw, ModeLogout)
}
