package goGuard

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MrEthical07/goGuard/ingress"
	"github.com/MrEthical07/goGuard/obfuscation"
)

var (
	// ErrFormat reports a malformed envelope or obfuscated wrapper.
	ErrFormat = obfuscation.ErrFormat
	// ErrChecksum reports an envelope whose checksum does not match its payload.
	ErrChecksum = obfuscation.ErrChecksum
	// ErrDecode reports undecodable base64 or JSON in a request body.
	ErrDecode = obfuscation.ErrDecode
	// ErrValidation reports a decoded body with missing or out-of-range fields.
	ErrValidation = ingress.ErrValidation

	// ErrAuth is the parent of every authentication failure.
	ErrAuth = errors.New("unauthorized")
	// ErrTokenMissing is returned when a guarded call carries no token.
	ErrTokenMissing = fmt.Errorf("%w: token missing", ErrAuth)
	// ErrTokenInvalid is returned when the token fails verification. The
	// wrapping error carries the verifier's reason.
	ErrTokenInvalid = fmt.Errorf("%w: token invalid", ErrAuth)
	// ErrCredentialsMismatch is returned when a valid token names a different
	// user or session than the request declares.
	ErrCredentialsMismatch = fmt.Errorf("%w: credentials mismatch", ErrAuth)
	// ErrSessionNotFound is returned in strict mode when the session is not
	// live in the registry.
	ErrSessionNotFound = fmt.Errorf("%w: session not found", ErrAuth)

	// ErrLockDenied is returned when another request for the same user is in
	// flight. Clients should retry.
	ErrLockDenied = errors.New("request already in progress")

	// ErrSessionBackend wraps registry failures.
	ErrSessionBackend = errors.New("session backend unavailable")
	// ErrGatewayNotReady is returned by methods called on a nil Gateway.
	ErrGatewayNotReady = errors.New("gateway not initialized")
)

// StatusCode maps an error from the ingress pipeline to an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrFormat),
		errors.Is(err, ErrChecksum),
		errors.Is(err, ErrDecode),
		errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrLockDenied):
		return http.StatusConflict
	case errors.Is(err, ErrSessionBackend):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode returns a stable machine-readable code for err.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrChecksum):
		return "checksum_mismatch"
	case errors.Is(err, ErrFormat):
		return "invalid_format"
	case errors.Is(err, ErrDecode):
		return "decode_failed"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrTokenMissing):
		return "token_missing"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, ErrCredentialsMismatch):
		return "credentials_mismatch"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrAuth):
		return "unauthorized"
	case errors.Is(err, ErrLockDenied):
		return "request_in_progress"
	case errors.Is(err, ErrSessionBackend):
		return "backend_unavailable"
	default:
		return "internal_error"
	}
}

// PublicMessage returns a message safe to show a client. Validation and
// authentication messages keep their detail; internal failures do not.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFormat),
		errors.Is(err, ErrChecksum),
		errors.Is(err, ErrDecode):
		return "malformed request body"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrAuth):
		return err.Error()
	case errors.Is(err, ErrLockDenied):
		return "another request is in progress, retry shortly"
	case errors.Is(err, ErrSessionBackend):
		return "service temporarily unavailable"
	default:
		return "internal error"
	}
}

// Retryable reports whether the client may retry the same request unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrLockDenied)
}
