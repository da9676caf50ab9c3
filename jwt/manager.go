package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType is the "type" claim carried by every session token.
const TokenType = "socket_auth"

// DefaultTTL is the absolute lifetime of an issued token.
const DefaultTTL = 24 * time.Hour

// SigningMethod selects the JWS algorithm used for session tokens.
type SigningMethod string

const (
	// MethodHS256 signs with a shared secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
)

// Verification failure reasons reported in [VerifyResult.Reason].
const (
	ReasonMissing      = "token missing"
	ReasonExpired      = "token expired"
	ReasonNotYetValid  = "token not yet valid"
	ReasonSignature    = "signature invalid"
	ReasonMalformed    = "token malformed"
	ReasonUnverifiable = "token unverifiable"
	ReasonIssuer       = "issuer invalid"
	ReasonAudience     = "audience invalid"
	ReasonType         = "unexpected token type"
	ReasonClaims       = "claims invalid"
)

// Config configures a [Manager].
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// Now overrides the time source for issuance and expiry checks.
	Now func() time.Time
}

// Claims is the payload recovered from a verified session token.
type Claims struct {
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`
	SessionID string `json:"sessionId"`
	Type      string `json:"type"`
	jwt.RegisteredClaims
}

// VerifyResult is the tagged outcome of [Manager.Verify]. Exactly one of
// Claims (when Valid) or Reason (when not) is meaningful.
type VerifyResult struct {
	Valid  bool
	Claims *Claims
	Reason string
}

// Manager issues and verifies session tokens. Keys are resolved once at
// construction; a Manager is immutable and safe for concurrent use.
type Manager struct {
	config Config
	now    func() time.Time

	method     jwt.SigningMethod
	signKey    any
	verifyKey  any
	verifyKeys map[string]any
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TTL < 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg, now: cfg.Now}
	if m.now == nil {
		m.now = time.Now
	}

	var err error
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey, m.verifyKey = cfg.PrivateKey, cfg.PrivateKey
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			if m.signKey, err = parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if m.verifyKey, err = parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && m.verifyKey == nil {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	if len(cfg.VerifyKeys) > 0 {
		m.verifyKeys = make(map[string]any, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if cfg.SigningMethod == MethodHS256 {
				m.verifyKeys[kid] = raw
				continue
			}
			if m.verifyKeys[kid], err = parseEdPublicKey(raw); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
		if cfg.KeyID != "" {
			if _, ok := m.verifyKeys[cfg.KeyID]; !ok {
				return nil, errors.New("KeyID is not present in VerifyKeys")
			}
		}
	}
	return m, nil
}

// TTL reports the configured token lifetime.
func (j *Manager) TTL() time.Duration {
	return j.config.TTL
}

// Issue signs a token for the given identity. The expiry is fixed at
// issuance time plus the configured TTL.
func (j *Manager) Issue(userID int64, username, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("session id is required")
	}
	now := j.now()
	return j.sign(Claims{
		UserID:    userID,
		Username:  username,
		SessionID: sessionID,
		Type:      TokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.config.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
}

// Sign signs arbitrary claims with the manager's key, filling issuer and
// audience when unset. It exists for tooling that needs tokens with custom
// lifetimes; request paths use [Manager.Issue].
func (j *Manager) Sign(claims Claims) (string, error) {
	return j.sign(claims)
}

func (j *Manager) sign(claims Claims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = j.config.Issuer
	}
	if j.config.Audience != "" && len(claims.Audience) == 0 {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	if j.signKey == nil {
		return "", errors.New("ed25519 signing requires private key")
	}
	token := jwt.NewWithClaims(j.method, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}
	return token.SignedString(j.signKey)
}

// Verify checks signature, expiry and token type. It never returns an
// error; failures are reported through [VerifyResult.Reason].
func (j *Manager) Verify(tokenStr string) VerifyResult {
	if tokenStr == "" {
		return VerifyResult{Reason: ReasonMissing}
	}

	claims, err := j.parse(tokenStr)
	if err != nil {
		return VerifyResult{Reason: reasonFor(err)}
	}
	if claims.Type != TokenType {
		return VerifyResult{Reason: ReasonType}
	}
	return VerifyResult{Valid: true, Claims: claims}
}

func (j *Manager) parse(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method.Alg()}),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	token, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, &Claims{}, j.keyFor)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ReasonNotYetValid
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ReasonSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ReasonIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ReasonAudience
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonUnverifiable
	default:
		return ReasonClaims
	}
}

// keyFor selects the verification key for t: by kid when a verify key set
// is configured, otherwise the single configured key.
func (j *Manager) keyFor(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)

	if j.verifyKeys != nil {
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.verifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}
	if j.config.KeyID != "" && kid != j.config.KeyID {
		return nil, errors.New("unknown kid")
	}
	if j.verifyKey == nil {
		return nil, errors.New("no verification key configured")
	}
	return j.verifyKey, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
