package goGuard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goGuard/cache"
	"github.com/MrEthical07/goGuard/clock"
	"github.com/MrEthical07/goGuard/ingress"
	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/flows"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/obfuscation"
	"github.com/MrEthical07/goGuard/session"
)

// Gateway owns the ingress pipeline: body decoding, token verification with
// identity binding, the per-user lock table and the ephemeral cache. Build
// one with [New] and share it across handlers; every method is safe for
// concurrent use.
type Gateway struct {
	config       Config
	codec        *obfuscation.Codec
	guard        *ingress.Guard
	tokens       *jwt.Manager
	locks        *rate.Limiter
	cache        *cache.Cache[any]
	sessionStore *session.Store
	audit        *audit.Dispatcher
	metrics      *Metrics
	logger       *slog.Logger
	clock        clock.Clock
	flowDeps     flows.Deps
}

// SessionGrant is returned by [Gateway.StartSession].
type SessionGrant struct {
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	SessionID string    `json:"sessionId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LogoutResult reports the outcome of [Gateway.AuthorizeLogout].
type LogoutResult struct {
	UserID    int64
	SessionID string
	// Lenient is true when the token was missing, invalid or bound to another
	// identity and logout proceeded on the declared identity alone.
	Lenient bool
	Reason  string
	// Existed is true when a registry record owned by UserID was removed.
	Existed bool
}

// Close stops the cache sweep and flushes the audit dispatcher.
func (g *Gateway) Close() {
	if g == nil {
		return
	}
	if g.cache != nil {
		g.cache.Close()
	}
	if g.audit != nil {
		g.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (g *Gateway) AuditDropped() uint64 {
	if g == nil || g.audit == nil {
		return 0
	}
	return g.audit.Dropped()
}

// MetricsSnapshot returns the current counters and histograms.
func (g *Gateway) MetricsSnapshot() MetricsSnapshot {
	if g == nil || g.metrics == nil {
		return emptySnapshot()
	}
	return g.metrics.Snapshot()
}

func (g *Gateway) metricInc(id MetricID) {
	if g == nil || g.metrics == nil {
		return
	}
	g.metrics.Inc(id)
}

// Logger returns the Gateway's structured logger.
func (g *Gateway) Logger() *slog.Logger {
	return g.logger
}

// Codec returns the obfuscation codec shared with clients.
func (g *Gateway) Codec() *obfuscation.Codec {
	return g.codec
}

// Cache returns the Gateway-owned ephemeral cache.
func (g *Gateway) Cache() *cache.Cache[any] {
	return g.cache
}

// Cached returns key from the ephemeral cache, calling load on a miss.
// Concurrent misses for the same key share one load. ttl <= 0 selects the
// cache default.
func (g *Gateway) Cached(ctx context.Context, key string, ttl time.Duration, load func(context.Context) (any, error)) (any, error) {
	if v, ok := g.cache.Get(key); ok {
		g.metricInc(MetricCacheHit)
		return v, nil
	}
	g.metricInc(MetricCacheMiss)
	return g.cache.GetOrLoad(ctx, key, ttl, load)
}

// Header returns the name of the obfuscation flag header.
func (g *Gateway) Header() string {
	return g.guard.Header()
}

// Obfuscated reports whether r carries the obfuscation flag.
func (g *Gateway) Obfuscated(r *http.Request) bool {
	return g.guard.Obfuscated(r)
}

// Decode reads r's body in plain or obfuscated mode and returns the plain
// structured value.
func (g *Gateway) Decode(r *http.Request) (any, error) {
	if g.guard.Obfuscated(r) {
		g.metricInc(MetricObfuscatedRequest)
	}
	v, err := g.guard.Decode(r)
	if err != nil {
		g.decodeFailed(r.Context(), err)
		return nil, err
	}
	return v, nil
}

// DecodeRequest decodes r and extracts the declared identity and token.
func (g *Gateway) DecodeRequest(r *http.Request) (*ingress.Request, error) {
	v, err := g.Decode(r)
	if err != nil {
		return nil, err
	}
	req, err := ingress.ParseRequest(v)
	if err != nil {
		g.decodeFailed(r.Context(), err)
		return nil, err
	}
	g.metricInc(MetricDecodeSuccess)
	return req, nil
}

func (g *Gateway) decodeFailed(ctx context.Context, err error) {
	g.metricInc(MetricDecodeFailure)
	g.logger.WarnContext(ctx, "request decode failed", "error", err)
	g.emitAudit(ctx, auditEventDecodeFailure, false, 0, "", err, nil)
}

// WriteJSON writes v as a response, obfuscated when obfuscate is true.
func (g *Gateway) WriteJSON(w http.ResponseWriter, status int, v any, obfuscate bool) error {
	return g.guard.WriteJSON(w, status, v, obfuscate)
}

// IssueToken signs a session token for the given identity.
func (g *Gateway) IssueToken(userID int64, username, sessionID string) (string, error) {
	token, err := g.tokens.Issue(userID, username, sessionID)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	g.metricInc(MetricTokenIssued)
	return token, nil
}

// VerifyToken verifies a token without any identity binding.
func (g *Gateway) VerifyToken(token string) jwt.VerifyResult {
	return g.tokens.Verify(token)
}

// StartSession creates a session id, issues its token and records it in the
// registry when one is configured.
func (g *Gateway) StartSession(ctx context.Context, userID int64, username string) (*SessionGrant, error) {
	if g == nil {
		return nil, ErrGatewayNotReady
	}
	if userID <= 0 {
		return nil, fmt.Errorf("%w: userId must be positive", ErrValidation)
	}

	sessionID := uuid.NewString()
	token, err := g.IssueToken(userID, username, sessionID)
	if err != nil {
		return nil, err
	}
	now := g.clock.Now()
	grant := &SessionGrant{
		UserID:    userID,
		Username:  username,
		SessionID: sessionID,
		Token:     token,
		ExpiresAt: now.Add(g.tokens.TTL()),
	}

	if g.sessionStore != nil {
		sess := &session.Session{
			SessionID: sessionID,
			UserID:    userID,
			Username:  username,
			CreatedAt: now.Unix(),
			ExpiresAt: grant.ExpiresAt.Unix(),
		}
		if err := g.sessionStore.Save(ctx, sess, g.sessionLifetime()); err != nil {
			g.logger.ErrorContext(ctx, "session save failed", "user_id", userID, "session_id", sessionID, "error", err)
			return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
		}
	}

	g.metricInc(MetricSessionCreated)
	g.logger.InfoContext(ctx, "session started", "user_id", userID, "session_id", sessionID)
	g.emitAudit(ctx, auditEventSessionStarted, true, userID, sessionID, nil, nil)
	return grant, nil
}

// EndSession removes a session from the registry. It is a no-op without a
// registry, for unknown sessions and for sessions owned by another user.
func (g *Gateway) EndSession(ctx context.Context, userID int64, sessionID string) error {
	if g == nil {
		return ErrGatewayNotReady
	}
	if g.sessionStore != nil {
		if _, err := g.sessionStore.DeleteForUser(ctx, userID, sessionID); err != nil {
			return fmt.Errorf("%w: %v", ErrSessionBackend, err)
		}
	}
	g.metricInc(MetricSessionEnded)
	g.emitAudit(ctx, auditEventSessionEnded, true, userID, sessionID, nil, nil)
	return nil
}

// EndAllSessions removes every session registered for userID and returns
// how many were indexed. Without a registry it returns 0.
func (g *Gateway) EndAllSessions(ctx context.Context, userID int64) (int, error) {
	if g == nil {
		return 0, ErrGatewayNotReady
	}
	if g.sessionStore == nil {
		return 0, nil
	}
	ids, err := g.sessionStore.ActiveSessionIDs(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	if err := g.sessionStore.DeleteAllForUser(ctx, userID); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	for _, id := range ids {
		g.metricInc(MetricSessionEnded)
		g.emitAudit(ctx, auditEventSessionEnded, true, userID, id, nil, nil)
	}
	g.logger.InfoContext(ctx, "all sessions ended", "user_id", userID, "count", len(ids))
	return len(ids), nil
}

// ActiveSessions lists the session ids registered for userID. Without a
// registry it returns nil.
func (g *Gateway) ActiveSessions(ctx context.Context, userID int64) ([]string, error) {
	if g == nil {
		return nil, ErrGatewayNotReady
	}
	if g.sessionStore == nil {
		return nil, nil
	}
	ids, err := g.sessionStore.ActiveSessionIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return ids, nil
}

// PingRegistry checks the session registry. It reports false without error
// when no registry is configured.
func (g *Gateway) PingRegistry(ctx context.Context) (bool, time.Duration, error) {
	if g == nil || g.sessionStore == nil {
		return false, 0, nil
	}
	d, err := g.sessionStore.Ping(ctx)
	if err != nil {
		return true, d, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return true, d, nil
}

// Authorize verifies req's token and binds it to the declared user and
// session. Every failure wraps [ErrAuth].
func (g *Gateway) Authorize(ctx context.Context, req *ingress.Request) (*jwt.Claims, error) {
	if g == nil {
		return nil, ErrGatewayNotReady
	}
	declared := flows.Identity{UserID: req.UserID, SessionID: req.SessionID}
	res := flows.RunAuthorize(ctx, req.Token, declared, g.flowDeps.Authorize)

	var err error
	switch res.Failure {
	case flows.AuthorizeFailureNone:
		g.metricInc(MetricAuthSuccess)
		return res.Claims, nil
	case flows.AuthorizeFailureTokenMissing:
		err = ErrTokenMissing
	case flows.AuthorizeFailureTokenInvalid:
		err = fmt.Errorf("%w: %s", ErrTokenInvalid, res.Reason)
	case flows.AuthorizeFailureMismatch:
		g.metricInc(MetricAuthMismatch)
		err = ErrCredentialsMismatch
	case flows.AuthorizeFailureSessionNotFound:
		err = ErrSessionNotFound
	case flows.AuthorizeFailureBackend:
		err = fmt.Errorf("%w: %v", ErrSessionBackend, res.Err)
	default:
		err = ErrAuth
	}

	g.metricInc(MetricAuthFailure)
	g.logger.WarnContext(ctx, "authorization failed",
		"user_id", req.UserID,
		"session_id", req.SessionID,
		"reason", res.Reason,
		"error", err,
	)
	g.emitAudit(ctx, auditEventAuthFailure, false, req.UserID, req.SessionID, err, func() map[string]string {
		return map[string]string{"reason": res.Reason}
	})
	return nil, err
}

// AuthorizeLogout is the lenient counterpart of [Gateway.Authorize] used
// only by logout. It never fails on token problems: a missing, invalid or
// mismatched token is logged and audited, and logout proceeds with the
// declared identity. Only a registry failure is returned.
func (g *Gateway) AuthorizeLogout(ctx context.Context, req *ingress.Request) (*LogoutResult, error) {
	if g == nil {
		return nil, ErrGatewayNotReady
	}
	declared := flows.Identity{UserID: req.UserID, SessionID: req.SessionID}
	res := flows.RunLogout(ctx, req.Token, declared, g.flowDeps.Logout)
	if res.Err != nil {
		g.logger.ErrorContext(ctx, "logout failed", "user_id", req.UserID, "session_id", req.SessionID, "error", res.Err)
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, res.Err)
	}

	if res.Lenient {
		g.metricInc(MetricLenientLogout)
		g.logger.WarnContext(ctx, "logout proceeding without a valid token",
			"user_id", req.UserID,
			"session_id", req.SessionID,
			"reason", res.Reason,
		)
		g.emitAudit(ctx, auditEventLenientLogout, true, req.UserID, req.SessionID, nil, func() map[string]string {
			return map[string]string{"reason": res.Reason}
		})
	}
	g.metricInc(MetricSessionEnded)
	g.emitAudit(ctx, auditEventSessionEnded, true, req.UserID, req.SessionID, nil, nil)

	return &LogoutResult{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Lenient:   res.Lenient,
		Reason:    res.Reason,
		Existed:   res.Existed,
	}, nil
}

// AcquireLock claims key for a single in-flight request. It returns false
// when a live lock already exists.
func (g *Gateway) AcquireLock(key string) bool {
	lock, ok := g.locks.Acquire(key)
	if !ok {
		g.lockDenied(context.Background(), key, lock)
		return false
	}
	g.metricInc(MetricLockAcquired)
	return true
}

// ReleaseLock removes key. Releasing an absent key is a no-op.
func (g *Gateway) ReleaseLock(key string) {
	g.locks.Release(key)
}

// ActiveLockCount returns the number of live locks after evicting stale ones.
func (g *Gateway) ActiveLockCount() int {
	return g.locks.ActiveCount()
}

// LockHeld reports whether key currently has a live lock.
func (g *Gateway) LockHeld(key string) bool {
	_, ok := g.locks.Lookup(key)
	return ok
}

// Guarded runs fn while holding key's lock. It returns [ErrLockDenied]
// without calling fn if the lock is taken, and releases the lock on every
// exit from fn, including a panic.
func (g *Gateway) Guarded(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if g == nil {
		return ErrGatewayNotReady
	}
	err := g.locks.Run(key, func(lock rate.Lock) error {
		g.metricInc(MetricLockAcquired)
		g.logger.DebugContext(ctx, "lock acquired", "key", key, "request_id", lock.RequestID)

		start := g.clock.Now()
		defer func() {
			if g.metrics.LatencyEnabled() {
				g.metrics.Observe(MetricGuardedLatency, g.clock.Now().Sub(start))
			}
		}()
		return fn(ctx)
	})

	switch {
	case errors.Is(err, rate.ErrLockHeld):
		held, _ := g.locks.Lookup(key)
		g.lockDenied(ctx, key, held)
		return ErrLockDenied
	case errors.Is(err, rate.ErrEmptyKey):
		return fmt.Errorf("%w: empty lock key", ErrValidation)
	default:
		return err
	}
}

func (g *Gateway) lockDenied(ctx context.Context, key string, held rate.Lock) {
	g.metricInc(MetricLockDenied)
	g.logger.InfoContext(ctx, "lock denied", "key", key, "request_id", held.RequestID)
	g.emitAudit(ctx, auditEventLockDenied, false, 0, "", ErrLockDenied, func() map[string]string {
		return map[string]string{"key": key, "held_by": held.RequestID}
	})
}

func (g *Gateway) sessionLifetime() time.Duration {
	if g.config.Session.Lifetime > 0 {
		return g.config.Session.Lifetime
	}
	return g.tokens.TTL()
}
