package ingress

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/MrEthical07/goGuard/obfuscation"
)

// Request is a decoded guarded call: the declared identity and token plus
// the remaining action fields.
type Request struct {
	UserID    int64
	SessionID string
	Token     string
	Payload   map[string]any
}

// ParseRequest extracts userId, sessionId and token from a decoded body.
// userId may be a JSON number or a decimal string. token may be absent.
func ParseRequest(v any) (*Request, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: body is not an object", obfuscation.ErrFormat)
	}

	userID, err := parseUserID(obj["userId"])
	if err != nil {
		return nil, err
	}
	sessionID, ok := obj["sessionId"].(string)
	if !ok || strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: sessionId is required", ErrValidation)
	}
	var token string
	if raw, present := obj["token"]; present && raw != nil {
		token, ok = raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: token must be a string", ErrValidation)
		}
	}

	payload := make(map[string]any, len(obj))
	for k, val := range obj {
		switch k {
		case "userId", "sessionId", "token":
		default:
			payload[k] = val
		}
	}

	return &Request{UserID: userID, SessionID: sessionID, Token: token, Payload: payload}, nil
}

// Bind decodes the action fields into dst through a JSON round trip.
func (r *Request) Bind(dst any) error {
	data, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// Int returns an integral action field.
func (r *Request) Int(name string) (int64, error) {
	v, ok := r.Payload[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrValidation, name)
	}
	n, ok := v.(float64)
	if !ok || n != math.Trunc(n) || math.Abs(n) > 1<<53 {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrValidation, name)
	}
	return int64(n), nil
}

// String returns a non-empty string action field.
func (r *Request) String(name string) (string, error) {
	s, ok := r.Payload[name].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s is required", ErrValidation, name)
	}
	return s, nil
}

// LockKey is the single-flight key for this request's user.
func (r *Request) LockKey() string {
	return strconv.FormatInt(r.UserID, 10)
}

func parseUserID(v any) (int64, error) {
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) || x <= 0 || x > 1<<53 {
			return 0, fmt.Errorf("%w: userId must be a positive integer", ErrValidation)
		}
		return int64(x), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("%w: userId must be a positive integer", ErrValidation)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("%w: userId is required", ErrValidation)
	default:
		return 0, fmt.Errorf("%w: userId must be a positive integer", ErrValidation)
	}
}
