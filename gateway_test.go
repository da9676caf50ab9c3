package goGuard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goGuard/clock"
	"github.com/MrEthical07/goGuard/ingress"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testGateway struct {
	gw    *Gateway
	clock *clock.FakeClock
	mr    *miniredis.Miniredis
	sink  *captureSink
}

type captureSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *captureSink) Emit(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *captureSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func newTestGateway(t *testing.T, mode ValidationMode, withRedis bool) *testGateway {
	t.Helper()

	cfg := validConfig()
	cfg.ValidationMode = mode
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false

	tg := &testGateway{
		clock: clock.Fake(testEpoch),
		sink:  &captureSink{},
	}

	b := New().
		WithConfig(cfg).
		WithClock(tg.clock).
		WithAuditSink(tg.sink)

	if withRedis {
		tg.mr = miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: tg.mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		b = b.WithRedis(rdb)
	}

	gw, err := b.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(gw.Close)
	tg.gw = gw
	return tg
}

func postJSON(t *testing.T, body any, obfuscate bool, gw *Gateway) *http.Request {
	t.Helper()

	var raw []byte
	var err error
	if obfuscate {
		wire, encErr := gw.Codec().Encode(body)
		if encErr != nil {
			t.Fatalf("encode failed: %v", encErr)
		}
		raw, err = json.Marshal(map[string]string{"_": wire})
	} else {
		raw, err = json.Marshal(body)
	}
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/adjust-gold", strings.NewReader(string(raw)))
	if obfuscate {
		r.Header.Set(ingress.DefaultHeader, "1")
	}
	return r
}

func TestBuildRequiresRedisForStrict(t *testing.T) {
	cfg := validConfig()
	cfg.ValidationMode = ModeStrict
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatalf("expected strict mode without redis to fail")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithConfig(validConfig()).WithClock(clock.Fake(testEpoch))
	gw, err := b.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer gw.Close()

	if _, err := b.Build(); err == nil {
		t.Fatalf("expected second Build to fail")
	}
}

func TestDecodeRequestEndToEnd(t *testing.T) {
	tg := newTestGateway(t, ModeJWTOnly, false)

	body := map[string]any{"userId": 1, "sessionId": "s1", "token": "T", "amount": 50}
	for _, obfuscate := range []bool{false, true} {
		req, err := tg.gw.DecodeRequest(postJSON(t, body, obfuscate, tg.gw))
		if err != nil {
			t.Fatalf("obfuscate=%v: decode failed: %v", obfuscate, err)
		}
		if req.UserID != 1 || req.SessionID != "s1" || req.Token != "T" {
			t.Fatalf("obfuscate=%v: unexpected identity %+v", obfuscate, req)
		}
		amount, err := req.Int("amount")
		if err != nil || amount != 50 {
			t.Fatalf("obfuscate=%v: amount = %d, %v", obfuscate, amount, err)
		}
	}

	snap := tg.gw.MetricsSnapshot()
	if snap.Counters[MetricDecodeSuccess] != 2 {
		t.Fatalf("expected 2 decode successes, got %d", snap.Counters[MetricDecodeSuccess])
	}
	if snap.Counters[MetricObfuscatedRequest] != 1 {
		t.Fatalf("expected 1 obfuscated request, got %d", snap.Counters[MetricObfuscatedRequest])
	}
}

func TestDecodeRequestTamperedChecksum(t *testing.T) {
	tg := newTestGateway(t, ModeJWTOnly, false)

	wire, err := tg.gw.Codec().Encode(map[string]any{"userId": 1, "sessionId": "s1"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	dot := strings.IndexByte(wire, '.')
	tampered := "x-" + wire[dot:]

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"_":"`+tampered+`"}`))
	r.Header.Set(ingress.DefaultHeader, "1")

	_, err = tg.gw.DecodeRequest(r)
	if !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
	if StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", StatusCode(err))
	}
	if tg.gw.MetricsSnapshot().Counters[MetricDecodeFailure] != 1 {
		t.Fatalf("expected decode failure counted")
	}
}

func TestDecodeRequestValidation(t *testing.T) {
	tg := newTestGateway(t, ModeJWTOnly, false)

	_, err := tg.gw.DecodeRequest(postJSON(t, map[string]any{"sessionId": "s1"}, false, tg.gw))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestAuthorizeBindsIdentity(t *testing.T) {
	tg := newTestGateway(t, ModeJWTOnly, false)
	ctx := context.Background()

	grant, err := tg.gw.StartSession(ctx, 1, "alice")
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}

	claims, err := tg.gw.Authorize(ctx, &ingress.Request{UserID: 1, SessionID: grant.SessionID, Token: grant.Token})
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if claims.UserID != 1 || claims.Username != "alice" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	_, err = tg.gw.Authorize(ctx, &ingress.Request{UserID: 2, SessionID: grant.SessionID, Token: grant.Token})
	if !errors.Is(err, ErrCredentialsMismatch) {
		t.Fatalf("expected mismatch for other user, got %v", err)
	}
	_, err = tg.gw.Authorize(ctx, &ingress.Request{UserID: 1, SessionID: "other", Token: grant.Token})
	if !errors.Is(err, ErrCredentialsMismatch) {
		t.Fatalf("expected mismatch for other session, got %v", err)
	}
	_, err = tg.gw.Authorize(ctx, &ingress.Request{UserID: 1, SessionID: grant.SessionID})
	if !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("expected token missing, got %v", err)
	}
	_, err = tg.gw.Authorize(ctx, &ingress.Request{UserID: 1, SessionID: grant.SessionID, Token: "garbage"})
	if !errors.Is(err, ErrTokenInvalid) || !errors.Is(err, ErrAuth) {
		t.Fatalf("expected token invalid, got %v", err)
	}

	snap := tg.gw.MetricsSnapshot()
	if snap.Counters[MetricAuthSuccess] != 1 || snap.Counters[MetricAuthFailure] != 4 || snap.Counters[MetricAuthMismatch] != 2 {
		t.Fatalf("unexpected auth counters %+v", snap.Counters)
	}
}

func TestAuthorizeExpiredToken(t *testing.T) {
	tg := newTestGateway(t, ModeJWTOnly, false)
	ctx := context.Background()

	grant, err := tg.gw.StartSession(ctx, 7, "bob")
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}
	if !grant.ExpiresAt.Equal(testEpoch.Add(24 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", grant.ExpiresAt)
	}

	tg.clock.Advance(24*time.Hour + time.Second)

	_, err = tg.gw.Authorize(ctx, &ingress.Request{UserID: 7, SessionID: grant.SessionID, Token: grant.Token})
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected expired token to be invalid, got %v", err)
	}
	if !strings.Contains(err.Error(), "token expired") {
		t.Fatalf("expected expiry reason, got %v", err)
	}
}

func TestStrictModeRequiresLiveSession(t *testing.T) {
	tg := newTestGateway(t, ModeStrict, true)
	ctx := context.Background()

	grant, err := tg.gw.StartSession(ctx, 3, "carol")
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}
	req := &ingress.Request{UserID: 3, SessionID: grant.SessionID, Token: grant.Token}

	if _, err := tg.gw.Authorize(ctx, req); err != nil {
		t.Fatalf("expected live session to authorize, got %v", err)
	}

	if err := tg.gw.EndSession(ctx, 3, grant.SessionID); err != nil {
		t.Fatalf("end session failed: %v", err)
	}
	if _, err := tg.gw.Authorize(ctx, req); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStrictModeBackendFailure(t *testing.T) {
	tg := newTestGateway(t, ModeStrict, true)
	ctx := context.Background()

	grant, err := tg.gw.StartSession(ctx, 3, "carol")
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}
	tg.mr.Close()

	_, err = tg.gw.Authorize(ctx, &ingress.Request{UserID: 3, SessionID: grant.SessionID, Token: grant.Token})
	if !errors.Is(err, ErrSessionBackend) {
		t.Fatalf("expected ErrSessionBackend, got %v", err)
	}
	if StatusCode(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", StatusCode(err))
	}
}

func TestAuthorizeLogoutIsLenient(t *testing.T) {
	tg := newTestGateway(t, ModeJWTOnly, true)
	ctx := context.Background()

	grant, err := tg.gw.StartSession(ctx, 5, "dave")
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}

	res, err := tg.gw.AuthorizeLogout(ctx, &ingress.Request{UserID: 5, SessionID: grant.SessionID, Token: "not-a-token"})
	if err != nil {
		t.Fatalf("expected lenient logout, got %v", err)
	}
	if !res.Lenient || res.UserID != 5 || res.SessionID != grant.SessionID {
		t.Fatalf("unexpected logout result %+v", res)
	}
	if tg.mr.Exists("gg:s:" + grant.SessionID) {
		t.Fatalf("expected session record removed")
	}

	res, err = tg.gw.AuthorizeLogout(ctx, &ingress.Request{UserID: 5, SessionID: grant.SessionID, Token: grant.Token})
	if err != nil || res.Lenient {
		t.Fatalf("expected strict logout with a valid token, got %+v, %v", res, err)
	}

	if got := tg.gw.MetricsSnapshot().Counters[MetricLenientLogout]; got != 1 {
		t.Fatalf("expected 1 lenient logout, got %d", got)
	}
}

func TestLogoutCannotClearForeignSession(t *testing.T) {
	tg := newTestGateway(t, ModeStrict, true)
	ctx := context.Background()

	victim, err := tg.gw.StartSession(ctx, 7, "victim")
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}

	res, err := tg.gw.AuthorizeLogout(ctx, &ingress.Request{UserID: 999, SessionID: victim.SessionID})
	if err != nil {
		t.Fatalf("expected lenient logout, got %v", err)
	}
	if !res.Lenient || res.Existed {
		t.Fatalf("expected lenient logout that removed nothing, got %+v", res)
	}

	claims, err := tg.gw.Authorize(ctx, &ingress.Request{UserID: 7, SessionID: victim.SessionID, Token: victim.Token})
	if err != nil {
		t.Fatalf("victim session must stay live, got %v", err)
	}
	if claims.UserID != 7 {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if ok, _ := tg.mr.SIsMember("gg:u:7", victim.SessionID); !ok {
		t.Fatalf("expected victim index entry kept")
	}
}

func TestEndAllSessions(t *testing.T) {
	tg := newTestGateway(t, ModeStrict, true)
	ctx := context.Background()

	first, err := tg.gw.StartSession(ctx, 8, "erin")
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}
	if _, err := tg.gw.StartSession(ctx, 8, "erin"); err != nil {
		t.Fatalf("start session failed: %v", err)
	}
	other, err := tg.gw.StartSession(ctx, 9, "frank")
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}

	ids, err := tg.gw.ActiveSessions(ctx, 8)
	if err != nil || len(ids) != 2 {
		t.Fatalf("expected 2 active sessions, got %v err=%v", ids, err)
	}

	n, err := tg.gw.EndAllSessions(ctx, 8)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 sessions ended, got %d err=%v", n, err)
	}
	_, err = tg.gw.Authorize(ctx, &ingress.Request{UserID: 8, SessionID: first.SessionID, Token: first.Token})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ended session rejected, got %v", err)
	}
	if _, err := tg.gw.Authorize(ctx, &ingress.Request{UserID: 9, SessionID: other.SessionID, Token: other.Token}); err != nil {
		t.Fatalf("other user's session must survive, got %v", err)
	}
}

func TestPingRegistry(t *testing.T) {
	tg := newTestGateway(t, ModeJWTOnly, false)
	if configured, _, err := tg.gw.PingRegistry(context.Background()); configured || err != nil {
		t.Fatalf("expected no registry, got configured=%v err=%v", configured, err)
	}

	tg = newTestGateway(t, ModeStrict, true)
	if configured, _, err := tg.gw.PingRegistry(context.Background()); !configured || err != nil {
		t.Fatalf("expected healthy registry, got configured=%v err=%v", configured, err)
	}
	tg.mr.Close()
	if _, _, err := tg.gw.PingRegistry(context.Background()); !errors.Is(err, ErrSessionBackend) {
		t.Fatalf("expected ErrSessionBackend, got %v", err)
	}
}

func TestLockSingleFlight(t *testing.T) {
	tg := newTestGateway(t, ModeJWTOnly, false)

	if !tg.gw.AcquireLock("1") {
		t.Fatalf("expected first acquire to succeed")
	}
	if tg.gw.AcquireLock("1") {
		t.Fatalf("expected second acquire to be denied")
	}
	if !tg.gw.LockHeld("1") {
		t.Fatalf("expected lock to be held")
	}
	tg.gw.ReleaseLock("1")
	if !tg.gw.AcquireLock("1") {
		t.Fatalf("expected acquire after release to succeed")
	}
	tg.gw.ReleaseLock("1")
	tg.gw.ReleaseLock("1")
}

func TestLockStaleReclaim(t *testing.T) {
	tg := newTestGateway(t, ModeJWTOnly, false)

	if !tg.gw.AcquireLock("9") {
		t.Fatalf("expected acquire to succeed")
	}
	tg.clock.Advance(31 * time.Second)

	if got := tg.gw.ActiveLockCount(); got != 0 {
		t.Fatalf("expected stale lock swept, got %d", got)
	}
	if !tg.gw.AcquireLock("9") {
		t.Fatalf("expected stale lock to be reclaimed")
	}
}

func TestConcurrentAcquireHasOneWinner(t *testing.T) {
	tg := newTestGateway(t, ModeJWTOnly, false)

	const n = 64
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			<-start
			if tg.gw.AcquireLock("1") {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestGuardedReleasesOnEveryExit(t *testing.T) {
	tg := newTestGateway(t, ModeJWTOnly, false)
	ctx := context.Background()

	boom := errors.New("boom")
	if err := tg.gw.Guarded(ctx, "1", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if tg.gw.ActiveLockCount() != 0 {
		t.Fatalf("expected lock released after error")
	}

	func() {
		defer func() { _ = recover() }()
		_ = tg.gw.Guarded(ctx, "1", func(context.Context) error { panic("handler panic") })
	}()
	if tg.gw.ActiveLockCount() != 0 {
		t.Fatalf("expected lock released after panic")
	}

	if err := tg.gw.Guarded(ctx, "", func(context.Context) error { return nil }); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected empty key to fail validation, got %v", err)
	}
}

func TestGuardedDeniesConcurrentSameUser(t *testing.T) {
	tg := newTestGateway(t, ModeJWTOnly, false)
	ctx := context.Background()

	var inner error
	err := tg.gw.Guarded(ctx, "1", func(ctx context.Context) error {
		inner = tg.gw.Guarded(ctx, "1", func(context.Context) error {
			t.Fatalf("nested call for the same key must not run")
			return nil
		})
		return tg.gw.Guarded(ctx, "2", func(context.Context) error { return nil })
	})
	if err != nil {
		t.Fatalf("expected outer call to succeed, got %v", err)
	}
	if !errors.Is(inner, ErrLockDenied) || !Retryable(inner) {
		t.Fatalf("expected ErrLockDenied, got %v", inner)
	}

	snap := tg.gw.MetricsSnapshot()
	if snap.Counters[MetricLockDenied] != 1 || snap.Counters[MetricLockAcquired] != 2 {
		t.Fatalf("unexpected lock counters %+v", snap.Counters)
	}
}

func TestAuditEventsRecorded(t *testing.T) {
	tg := newTestGateway(t, ModeJWTOnly, false)
	ctx := WithClientIP(context.Background(), "10.0.0.1")

	grant, err := tg.gw.StartSession(ctx, 1, "alice")
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}
	_, _ = tg.gw.Authorize(ctx, &ingress.Request{UserID: 2, SessionID: grant.SessionID, Token: grant.Token})
	tg.gw.Close()

	got := strings.Join(tg.sink.types(), ",")
	if got != "session_started,auth_failure" {
		t.Fatalf("unexpected audit events %q", got)
	}

	tg.sink.mu.Lock()
	defer tg.sink.mu.Unlock()
	failure := tg.sink.events[1]
	if failure.IP != "10.0.0.1" || failure.Error != "credentials_mismatch" || failure.UserID != 2 {
		t.Fatalf("unexpected audit event %+v", failure)
	}
	if !failure.Timestamp.Equal(testEpoch) {
		t.Fatalf("expected clock timestamp, got %v", failure.Timestamp)
	}
}

func TestCacheOwnedByGateway(t *testing.T) {
	tg := newTestGateway(t, ModeJWTOnly, false)

	tg.gw.Cache().Set("profile:1", "gold=10", 0)
	if v, ok := tg.gw.Cache().Get("profile:1"); !ok || v != "gold=10" {
		t.Fatalf("expected cached value, got %v %v", v, ok)
	}
	tg.clock.Advance(61 * time.Second)
	if _, ok := tg.gw.Cache().Get("profile:1"); ok {
		t.Fatalf("expected entry to expire after the default TTL")
	}
}

func TestCachedCountsHitsAndMisses(t *testing.T) {
	tg := newTestGateway(t, ModeJWTOnly, false)
	ctx := context.Background()

	var loads atomic.Int32
	load := func(context.Context) (any, error) {
		loads.Add(1)
		return "profile", nil
	}

	for i := 0; i < 3; i++ {
		v, err := tg.gw.Cached(ctx, "profile:1", 0, load)
		if err != nil || v != "profile" {
			t.Fatalf("unexpected cached value %v, %v", v, err)
		}
	}
	if loads.Load() != 1 {
		t.Fatalf("expected one load, got %d", loads.Load())
	}

	snap := tg.gw.MetricsSnapshot()
	if snap.Counters[MetricCacheHit] != 2 || snap.Counters[MetricCacheMiss] != 1 {
		t.Fatalf("unexpected cache counters %+v", snap.Counters)
	}

	_, err := tg.gw.Cached(ctx, "broken", 0, func(context.Context) (any, error) {
		return nil, errors.New("db down")
	})
	if err == nil {
		t.Fatalf("expected load error")
	}
	if tg.gw.Cache().Len() != 1 {
		t.Fatalf("expected failed load not cached")
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	tg := newTestGateway(t, ModeJWTOnly, false)

	rec := httptest.NewRecorder()
	if err := tg.gw.WriteJSON(rec, http.StatusOK, map[string]any{"gold": 60}, true); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if rec.Header().Get(ingress.DefaultHeader) != "1" {
		t.Fatalf("expected obfuscation header on response")
	}

	var wrapper map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &wrapper); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	var out struct {
		Gold int `json:"gold"`
	}
	if err := tg.gw.Codec().DecodeInto(wrapper["_"], &out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Gold != 60 {
		t.Fatalf("expected gold=60, got %d", out.Gold)
	}
}

func TestNilGatewayIsSafe(t *testing.T) {
	var gw *Gateway
	gw.Close()
	if gw.AuditDropped() != 0 {
		t.Fatalf("expected 0 dropped")
	}
	if err := gw.Guarded(context.Background(), "1", nil); !errors.Is(err, ErrGatewayNotReady) {
		t.Fatalf("expected ErrGatewayNotReady, got %v", err)
	}
	if _, err := gw.StartSession(context.Background(), 1, "x"); !errors.Is(err, ErrGatewayNotReady) {
		t.Fatalf("expected ErrGatewayNotReady, got %v", err)
	}
}
