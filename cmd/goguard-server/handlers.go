package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/internal/game"
	"github.com/MrEthical07/goGuard/metrics/export/prometheus"
	"github.com/MrEthical07/goGuard/middleware"
)

type server struct {
	gw     *goGuard.Gateway
	store  game.Store
	logger *slog.Logger
}

func newRouter(s *server, origins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(s.gw, origins)))

	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(prometheus.NewPrometheusExporter(s.gw).Handler()))

	r.POST("/login", s.login)
	r.POST("/stats", middleware.GinGuard(s.gw, middleware.ModeAuthorized), s.stats)
	r.POST("/adjust-gold", middleware.GinGuard(s.gw, middleware.ModeGuarded), s.adjustGold)
	r.POST("/adjust-vitals", middleware.GinGuard(s.gw, middleware.ModeGuarded), s.adjustVitals)
	r.POST("/equip-skin", middleware.GinGuard(s.gw, middleware.ModeGuarded), s.equipSkin)
	r.POST("/buy-skin", middleware.GinGuard(s.gw, middleware.ModeGuarded), s.buySkin)
	r.POST("/sessions", middleware.GinGuard(s.gw, middleware.ModeAuthorized), s.sessions)
	r.POST("/logout-all", middleware.GinGuard(s.gw, middleware.ModeGuarded), s.logoutAll)
	r.POST("/logout", middleware.GinGuard(s.gw, middleware.ModeLogout), s.logout)

	return r
}

func corsConfig(gw *goGuard.Gateway, origins []string) cors.Config {
	header := goGuard.DefaultConfig().Obfuscation.Header
	if gw != nil {
		header = gw.Header()
	}

	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", header},
		ExposeHeaders: []string{"Content-Length", "Retry-After", header},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// skinPrices lists the skins sold by /buy-skin.
var skinPrices = map[string]int64{
	"crimson": 40,
	"azure":   60,
	"golden":  250,
}

func (s *server) healthz(c *gin.Context) {
	body := gin.H{"status": "ok", "activeLocks": s.gw.ActiveLockCount()}
	configured, latency, err := s.gw.PingRegistry(c.Request.Context())
	if configured {
		body["registryLatencyMs"] = latency.Milliseconds()
	}
	if err != nil {
		s.logger.WarnContext(c.Request.Context(), "session registry unhealthy", "error", err)
		body["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// login decodes {"username": ...}, creating the player on first sight, and
// starts a session.
func (s *server) login(c *gin.Context) {
	ctx := goGuard.WithClientIP(c.Request.Context(), c.ClientIP())
	obfuscated := s.gw.Obfuscated(c.Request)

	v, err := s.gw.Decode(c.Request)
	if err != nil {
		s.fail(c, obfuscated, err)
		return
	}
	body, _ := v.(map[string]any)
	username, _ := body["username"].(string)
	username = strings.TrimSpace(username)
	if username == "" || len(username) > 32 {
		s.fail(c, obfuscated, fmt.Errorf("%w: username must be 1-32 characters", goGuard.ErrValidation))
		return
	}

	profile, err := s.store.FindOrCreate(ctx, username)
	if err != nil {
		s.fail(c, obfuscated, storeError(err))
		return
	}
	grant, err := s.gw.StartSession(ctx, profile.UserID, profile.Username)
	if err != nil {
		s.fail(c, obfuscated, err)
		return
	}

	_ = s.gw.WriteJSON(c.Writer, http.StatusOK, gin.H{
		"userId":    grant.UserID,
		"username":  grant.Username,
		"sessionId": grant.SessionID,
		"token":     grant.Token,
		"expiresAt": grant.ExpiresAt,
		"profile":   profile,
	}, obfuscated)
}

func (s *server) stats(c *gin.Context) {
	req, _ := middleware.GinRequest(c)

	v, err := s.gw.Cached(c.Request.Context(), profileKey(req.UserID), 0, func(ctx context.Context) (any, error) {
		return s.store.Profile(ctx, req.UserID)
	})
	if err != nil {
		middleware.GinError(s.gw, c, storeError(err))
		return
	}
	middleware.GinRespond(s.gw, c, http.StatusOK, v)
}

func (s *server) adjustGold(c *gin.Context) {
	req, _ := middleware.GinRequest(c)

	amount, err := req.Int("amount")
	if err != nil {
		middleware.GinError(s.gw, c, err)
		return
	}
	gold, err := s.store.AdjustGold(c.Request.Context(), req.UserID, amount)
	if err != nil {
		middleware.GinError(s.gw, c, storeError(err))
		return
	}
	s.gw.Cache().Delete(profileKey(req.UserID))

	s.logger.InfoContext(c.Request.Context(), "gold adjusted", "user_id", req.UserID, "amount", amount, "gold", gold)
	middleware.GinRespond(s.gw, c, http.StatusOK, gin.H{"gold": gold})
}

func (s *server) adjustVitals(c *gin.Context) {
	req, _ := middleware.GinRequest(c)

	var delta struct {
		HP int `json:"hp"`
		MP int `json:"mp"`
	}
	if err := req.Bind(&delta); err != nil {
		middleware.GinError(s.gw, c, err)
		return
	}
	st, err := s.store.AdjustVitals(c.Request.Context(), req.UserID, delta.HP, delta.MP)
	if err != nil {
		middleware.GinError(s.gw, c, storeError(err))
		return
	}
	s.gw.Cache().Delete(profileKey(req.UserID))

	middleware.GinRespond(s.gw, c, http.StatusOK, st)
}

func (s *server) equipSkin(c *gin.Context) {
	req, _ := middleware.GinRequest(c)

	skin, err := req.String("skin")
	if err != nil {
		middleware.GinError(s.gw, c, err)
		return
	}
	if err := s.store.EquipSkin(c.Request.Context(), req.UserID, skin); err != nil {
		middleware.GinError(s.gw, c, storeError(err))
		return
	}
	s.gw.Cache().Delete(profileKey(req.UserID))

	middleware.GinRespond(s.gw, c, http.StatusOK, gin.H{"equippedSkin": skin})
}

// buySkin debits the skin's price and grants it, refunding the debit when
// the grant fails.
func (s *server) buySkin(c *gin.Context) {
	req, _ := middleware.GinRequest(c)
	ctx := c.Request.Context()

	skin, err := req.String("skin")
	if err != nil {
		middleware.GinError(s.gw, c, err)
		return
	}
	price, ok := skinPrices[skin]
	if !ok {
		middleware.GinError(s.gw, c, fmt.Errorf("%w: unknown skin %q", goGuard.ErrValidation, skin))
		return
	}

	profile, err := s.store.Profile(ctx, req.UserID)
	if err != nil {
		middleware.GinError(s.gw, c, storeError(err))
		return
	}
	for _, owned := range profile.Skins {
		if owned == skin {
			middleware.GinError(s.gw, c, fmt.Errorf("%w: skin %q already owned", goGuard.ErrValidation, skin))
			return
		}
	}

	gold, err := s.store.AdjustGold(ctx, req.UserID, -price)
	if err != nil {
		middleware.GinError(s.gw, c, storeError(err))
		return
	}
	if err := s.store.GrantSkin(ctx, req.UserID, skin); err != nil {
		if _, refundErr := s.store.AdjustGold(ctx, req.UserID, price); refundErr != nil {
			s.logger.ErrorContext(ctx, "skin refund failed", "user_id", req.UserID, "skin", skin, "error", refundErr)
		}
		middleware.GinError(s.gw, c, storeError(err))
		return
	}
	s.gw.Cache().Delete(profileKey(req.UserID))

	s.logger.InfoContext(ctx, "skin bought", "user_id", req.UserID, "skin", skin, "price", price)
	middleware.GinRespond(s.gw, c, http.StatusOK, gin.H{"skin": skin, "gold": gold})
}

func (s *server) sessions(c *gin.Context) {
	req, _ := middleware.GinRequest(c)

	ids, err := s.gw.ActiveSessions(c.Request.Context(), req.UserID)
	if err != nil {
		middleware.GinError(s.gw, c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	middleware.GinRespond(s.gw, c, http.StatusOK, gin.H{"sessions": ids})
}

// logoutAll ends every session of the caller. Unlike /logout it requires a
// valid token.
func (s *server) logoutAll(c *gin.Context) {
	req, _ := middleware.GinRequest(c)

	n, err := s.gw.EndAllSessions(c.Request.Context(), req.UserID)
	if err != nil {
		middleware.GinError(s.gw, c, err)
		return
	}
	s.gw.Cache().Delete(profileKey(req.UserID))

	middleware.GinRespond(s.gw, c, http.StatusOK, gin.H{"ok": true, "ended": n})
}

func (s *server) logout(c *gin.Context) {
	trusted, _ := middleware.GinTrusted(c)
	s.gw.Cache().Delete(profileKey(trusted.Request.UserID))

	middleware.GinRespond(s.gw, c, http.StatusOK, gin.H{
		"ok":      true,
		"lenient": trusted.Logout.Lenient,
	})
}

func (s *server) fail(c *gin.Context, obfuscated bool, err error) {
	status := goGuard.StatusCode(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	}
	_ = s.gw.WriteJSON(c.Writer, status, middleware.ErrorBody{
		Error:   goGuard.ErrorCode(err),
		Message: goGuard.PublicMessage(err),
	}, obfuscated)
	c.Abort()
}

// storeError maps game rule violations to validation errors so they surface
// as 400s.
func storeError(err error) error {
	switch {
	case errors.Is(err, game.ErrNotFound),
		errors.Is(err, game.ErrInsufficientGold),
		errors.Is(err, game.ErrOutOfRange),
		errors.Is(err, game.ErrSkinNotOwned):
		return fmt.Errorf("%w: %v", goGuard.ErrValidation, err)
	default:
		return err
	}
}

func profileKey(userID int64) string {
	return "profile:" + strconv.FormatInt(userID, 10)
}
