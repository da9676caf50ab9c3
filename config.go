package goGuard

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/cache"
	"github.com/MrEthical07/goGuard/ingress"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/jwt"
)

// Config is the complete Gateway configuration. Start from [DefaultConfig].
type Config struct {
	Token          TokenConfig
	Obfuscation    ObfuscationConfig
	Lock           LockConfig
	Cache          CacheConfig
	Session        SessionConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
	ValidationMode ValidationMode
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures session token signing and verification.
type TokenConfig struct {
	TTL           time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
INGRESS CONFIG
====================================
*/

// ObfuscationConfig configures the request body codec. A nil Key selects
// the key shared with stock clients.
type ObfuscationConfig struct {
	Key          []byte
	Header       string
	MaxBodyBytes int64
}

// LockConfig configures the per-user single-flight lock table.
type LockConfig struct {
	StaleTimeout time.Duration
}

// CacheConfig configures the ephemeral cache. AutoSweep starts the interval
// sweep at Build time.
type CacheConfig struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
	AutoSweep     bool
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures the Redis session registry. Lifetime defaults to
// the token TTL.
type SessionConfig struct {
	RedisPrefix string
	Lifetime    time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// ValidationMode selects how much state Authorize consults.
type ValidationMode int

const (
	// ModeJWTOnly trusts a verified, identity-bound token without a registry
	// lookup.
	ModeJWTOnly ValidationMode = iota
	// ModeStrict additionally requires the session to be live in Redis.
	ModeStrict
)

func (m ValidationMode) String() string {
	switch m {
	case ModeJWTOnly:
		return "jwt_only"
	case ModeStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// ParseValidationMode parses "jwt_only" or "strict".
func ParseValidationMode(s string) (ValidationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "jwt_only", "jwt-only", "jwtonly":
		return ModeJWTOnly, nil
	case "strict":
		return ModeStrict, nil
	default:
		return 0, errors.New("unknown validation mode " + s)
	}
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a configuration with every default filled in except
// the signing key.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			TTL:           jwt.DefaultTTL,
			SigningMethod: "hs256",
			Leeway:        0,
		},
		Obfuscation: ObfuscationConfig{
			Header:       ingress.DefaultHeader,
			MaxBodyBytes: ingress.DefaultMaxBodyBytes,
		},
		Lock: LockConfig{
			StaleTimeout: rate.DefaultStaleTimeout,
		},
		Cache: CacheConfig{
			DefaultTTL:    cache.DefaultTTL,
			SweepInterval: cache.DefaultSweepInterval,
			AutoSweep:     true,
		},
		Session: SessionConfig{
			RedisPrefix: "gg",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		ValidationMode: ModeJWTOnly,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	out.Obfuscation.Key = cloneBytes(cfg.Obfuscation.Key)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	// Token
	if c.Token.TTL <= 0 {
		return errors.New("Token TTL must be > 0")
	}
	switch c.Token.SigningMethod {
	case "hs256":
		if len(c.Token.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.Token.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	default:
		return errors.New("unsupported Token signing method")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be between 0 and 2m")
	}

	// Obfuscation
	if c.Obfuscation.Key != nil && len(c.Obfuscation.Key) == 0 {
		return errors.New("Obfuscation Key must not be empty when set")
	}
	if c.Obfuscation.MaxBodyBytes < 0 {
		return errors.New("Obfuscation MaxBodyBytes must be >= 0")
	}

	// Lock
	if c.Lock.StaleTimeout < 0 {
		return errors.New("Lock StaleTimeout must be >= 0")
	}

	// Cache
	if c.Cache.DefaultTTL < 0 {
		return errors.New("Cache DefaultTTL must be >= 0")
	}
	if c.Cache.SweepInterval < 0 {
		return errors.New("Cache SweepInterval must be >= 0")
	}

	// Session
	if c.Session.Lifetime < 0 {
		return errors.New("Session Lifetime must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	switch c.ValidationMode {
	case ModeJWTOnly, ModeStrict:
	default:
		return errors.New("invalid ValidationMode")
	}

	return nil
}
