package goGuard

import (
	"errors"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

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

// Builder assembles a Gateway. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	auditSink AuditSink
	logger    *slog.Logger
	clock     clock.Clock

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis enables the session registry. It is required for [ModeStrict].
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAuditSink sets the sink the audit dispatcher forwards to. It has no
// effect unless Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Without one the Gateway logs
// nothing.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces the wall clock used by locks, the cache and tokens.
func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.clock = c
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the guarded-call latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component. A Builder
// can only be built once.
func (b *Builder) Build() (*Gateway, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil && cfg.ValidationMode == ModeStrict {
		return nil, errors.New("Strict mode requires redis client")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clk := clock.OrReal(b.clock)

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	// -------- CODEC --------
	key := cfg.Obfuscation.Key
	if key == nil {
		key = obfuscation.DefaultKey
	}
	codec, err := obfuscation.New(obfuscation.Config{Key: key})
	if err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.Token.TTL,
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		KeyID:         cfg.Token.KeyID,
		Now:           clk.Now,
	})
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		config: cfg,
		codec:  codec,
		guard: ingress.New(codec, ingress.Config{
			Header:       cfg.Obfuscation.Header,
			MaxBodyBytes: cfg.Obfuscation.MaxBodyBytes,
		}),
		tokens: jm,
		locks:  rate.New(rate.Config{StaleTimeout: cfg.Lock.StaleTimeout}, clk),
		cache: cache.New[any](cache.Config{
			DefaultTTL:    cfg.Cache.DefaultTTL,
			SweepInterval: cfg.Cache.SweepInterval,
		}, clk),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
		logger:  logger,
		clock:   clk,
	}

	// -------- SESSION REGISTRY --------
	g.flowDeps = flows.Deps{
		Authorize: flows.AuthorizeDeps{Verify: jm.Verify},
		Logout:    flows.LogoutDeps{Verify: jm.Verify},
	}
	if b.redis != nil {
		g.sessionStore = session.NewStore(b.redis, cfg.Session.RedisPrefix).WithNow(clk.Now)
		g.flowDeps.Authorize.SessionStore = g.sessionStore
		g.flowDeps.Authorize.RequireSession = cfg.ValidationMode == ModeStrict
		g.flowDeps.Logout.SessionStore = g.sessionStore
	}

	if cfg.Cache.AutoSweep {
		g.cache.Start()
	}

	b.built = true

	return g, nil
}
