package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	goGuard "github.com/MrEthical07/goGuard"
)

func TestGinGuardHoldsLockAcrossHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gw := newTestGateway(t)
	grant := newGrant(t, gw, 11)

	var held bool
	r := gin.New()
	r.POST("/adjust-gold", GinGuard(gw, ModeGuarded), func(c *gin.Context) {
		req, ok := GinRequest(c)
		if !ok {
			t.Fatalf("expected request on gin context")
		}
		held = gw.LockHeld(req.LockKey())
		GinRespond(gw, c, http.StatusOK, gin.H{"userId": req.UserID})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, body(t, gw, map[string]any{
		"userId": 11, "sessionId": grant.SessionID, "token": grant.Token,
	}, true))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !held {
		t.Fatalf("expected lock held inside handler")
	}
	if gw.ActiveLockCount() != 0 {
		t.Fatalf("expected lock released")
	}
}

func TestGinGuardRejectsMismatch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gw := newTestGateway(t)
	grant := newGrant(t, gw, 12)

	r := gin.New()
	r.POST("/adjust-gold", GinGuard(gw, ModeGuarded), func(c *gin.Context) {
		t.Fatalf("handler must not run")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, body(t, gw, map[string]any{
		"userId": 13, "sessionId": grant.SessionID, "token": grant.Token,
	}, false))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Error != "credentials_mismatch" {
		t.Fatalf("unexpected error %+v", e)
	}
}

func TestGinErrorFromHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gw := newTestGateway(t)
	grant := newGrant(t, gw, 14)

	r := gin.New()
	r.POST("/adjust-gold", GinGuard(gw, ModeAuthorized), func(c *gin.Context) {
		if _, ok := GinRequest(c); !ok {
			t.Fatalf("expected request on gin context")
		}
		GinError(gw, c, fmt.Errorf("%w: amount out of range", goGuard.ErrValidation))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, body(t, gw, map[string]any{
		"userId": 14, "sessionId": grant.SessionID, "token": grant.Token,
	}, false))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
