package ingress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MrEthical07/goGuard/obfuscation"
)

const (
	// DefaultHeader flags an obfuscated body when set to "1".
	DefaultHeader = "X-Obfuscated"
	// DefaultMaxBodyBytes caps the request body read by [Guard.Decode].
	DefaultMaxBodyBytes int64 = 1 << 20

	wrapperField = "_"
)

// ErrValidation reports a well-formed body that lacks required fields.
var ErrValidation = errors.New("ingress: validation failed")

// Config configures a [Guard]. Zero values select the defaults.
type Config struct {
	Header       string
	MaxBodyBytes int64
}

// Guard reads request bodies in either plain or obfuscated mode.
type Guard struct {
	codec   *obfuscation.Codec
	header  string
	maxBody int64
}

// New returns a Guard decoding obfuscated bodies with codec. A nil codec
// selects [obfuscation.Default].
func New(codec *obfuscation.Codec, cfg Config) *Guard {
	if codec == nil {
		codec = obfuscation.Default()
	}
	header := cfg.Header
	if header == "" {
		header = DefaultHeader
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Guard{codec: codec, header: header, maxBody: maxBody}
}

// Header returns the name of the flag header.
func (g *Guard) Header() string {
	return g.header
}

// Obfuscated reports whether r carries the obfuscation flag.
func (g *Guard) Obfuscated(r *http.Request) bool {
	return r.Header.Get(g.header) == "1"
}

// Decode reads r's body and returns the plain structured value. Flagged
// bodies must be {"_": "<wire>"}; codec errors are returned unchanged.
func (g *Guard) Decode(r *http.Request) (any, error) {
	body, err := g.read(r)
	if err != nil {
		return nil, err
	}
	return g.DecodeBody(body, g.Obfuscated(r))
}

// DecodeBody decodes an already-read body.
func (g *Guard) DecodeBody(body []byte, obfuscated bool) (any, error) {
	if !obfuscated {
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", obfuscation.ErrDecode, err)
		}
		return v, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: obfuscated body is not an object", obfuscation.ErrFormat)
	}
	raw, ok := wrapper[wrapperField]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q field", obfuscation.ErrFormat, wrapperField)
	}
	var wire string
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %q field is not a string", obfuscation.ErrFormat, wrapperField)
	}
	return g.codec.Decode(wire)
}

// WriteJSON writes v as the response body. When obfuscate is true the body
// is wrapped as {"_": "<wire>"} and the flag header is set.
func (g *Guard) WriteJSON(w http.ResponseWriter, status int, v any, obfuscate bool) error {
	var body []byte
	if obfuscate {
		wire, err := g.codec.Encode(v)
		if err != nil {
			return err
		}
		body, err = json.Marshal(map[string]string{wrapperField: wire})
		if err != nil {
			return err
		}
		w.Header().Set(g.header, "1")
	} else {
		var err error
		body, err = json.Marshal(v)
		if err != nil {
			return err
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(body)
	return err
}

func (g *Guard) read(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, fmt.Errorf("%w: empty body", obfuscation.ErrDecode)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, g.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", obfuscation.ErrFormat, err)
	}
	if int64(len(body)) > g.maxBody {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", obfuscation.ErrFormat, g.maxBody)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
