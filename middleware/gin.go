package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/ingress"
)

const ginTrustedKey = "goguard.trusted"

// GinGuard is the gin counterpart of [Guard]. In ModeGuarded the lock is
// held across c.Next.
func GinGuard(gw *goGuard.Gateway, mode Mode) gin.HandlerFunc {
	return func(c *gin.Context) {
		if gw == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody(goGuard.ErrGatewayNotReady))
			return
		}

		ctx := goGuard.WithClientIP(c.Request.Context(), c.ClientIP())
		c.Request = c.Request.WithContext(ctx)

		trusted, err := run(ctx, gw, c.Request, mode)
		if err != nil {
			abort(c, gw, gw.Obfuscated(c.Request), err)
			return
		}
		c.Set(ginTrustedKey, trusted)
		c.Request = c.Request.WithContext(context.WithValue(ctx, trustedContextKey{}, trusted))

		if mode != ModeGuarded {
			c.Next()
			return
		}

		err = gw.Guarded(c.Request.Context(), trusted.Request.LockKey(), func(context.Context) error {
			c.Next()
			return nil
		})
		if err != nil {
			abort(c, gw, trusted.Obfuscated, err)
		}
	}
}

// GinTrusted returns the pipeline result stored by [GinGuard].
func GinTrusted(c *gin.Context) (*Trusted, bool) {
	v, ok := c.Get(ginTrustedKey)
	if !ok {
		return nil, false
	}
	trusted, ok := v.(*Trusted)
	return trusted, ok
}

// GinRequest returns the decoded request stored by [GinGuard].
func GinRequest(c *gin.Context) (*ingress.Request, bool) {
	trusted, ok := GinTrusted(c)
	if !ok {
		return nil, false
	}
	return trusted.Request, true
}

// GinRespond writes v, obfuscated when the request was.
func GinRespond(gw *goGuard.Gateway, c *gin.Context, status int, v any) {
	obfuscate := false
	if trusted, ok := GinTrusted(c); ok {
		obfuscate = trusted.Obfuscated
	}
	_ = gw.WriteJSON(c.Writer, status, v, obfuscate)
}

// GinError aborts c with err's JSON error body.
func GinError(gw *goGuard.Gateway, c *gin.Context, err error) {
	obfuscate := false
	if trusted, ok := GinTrusted(c); ok {
		obfuscate = trusted.Obfuscated
	}
	abort(c, gw, obfuscate, err)
}

func abort(c *gin.Context, gw *goGuard.Gateway, obfuscate bool, err error) {
	if goGuard.Retryable(err) {
		c.Header("Retry-After", "1")
	}
	_ = gw.WriteJSON(c.Writer, goGuard.StatusCode(err), errorBody(err), obfuscate)
	c.Abort()
}
