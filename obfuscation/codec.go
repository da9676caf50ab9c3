package obfuscation

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// PadSize is the number of random bytes prepended to every payload.
	PadSize = 4

	separator = "."
)

var (
	// ErrFormat reports a wire string that is not "checksum.payload".
	ErrFormat = errors.New("obfuscation: malformed envelope")
	// ErrChecksum reports a payload whose recomputed checksum differs.
	ErrChecksum = errors.New("obfuscation: checksum mismatch")
	// ErrDecode reports invalid base64, a short payload, or unparsable JSON.
	ErrDecode = errors.New("obfuscation: payload decode failed")
)

// DefaultKey is the repeating XOR pattern shared with clients.
var DefaultKey = []byte{0x4b, 0x9f, 0x21, 0xd6, 0x73, 0x0e}

// ChecksumFunc computes the integrity tag carried in front of the payload.
type ChecksumFunc func(payload string) string

// Config configures a [Codec]. Zero values select the defaults.
type Config struct {
	Key      []byte
	Checksum ChecksumFunc
	Random   io.Reader
}

// Codec converts JSON values to and from the obfuscated wire form. A Codec
// is immutable after construction and safe for concurrent use.
type Codec struct {
	key      []byte
	checksum ChecksumFunc
	random   io.Reader
}

// Envelope is the parsed "checksum.payload" wire string.
type Envelope struct {
	Checksum string
	Payload  string
}

// String flattens the envelope back to its wire form.
func (e Envelope) String() string {
	return e.Checksum + separator + e.Payload
}

// ParseEnvelope splits a wire string on its single separator.
func ParseEnvelope(wire string) (Envelope, error) {
	parts := strings.Split(wire, separator)
	if len(parts) != 2 {
		return Envelope{}, ErrFormat
	}
	return Envelope{Checksum: parts[0], Payload: parts[1]}, nil
}

// AdditiveChecksum is the position-weighted byte sum of payload modulo 65536,
// rendered in base 36. It is unkeyed and detects casual edits only.
func AdditiveChecksum(payload string) string {
	var sum uint32
	for i := 0; i < len(payload); i++ {
		sum = (sum + uint32(payload[i])*uint32(i+1)) & 0xFFFF
	}
	return strconv.FormatUint(uint64(sum), 36)
}

// New returns a Codec for cfg.
func New(cfg Config) (*Codec, error) {
	key := cfg.Key
	if key == nil {
		key = DefaultKey
	}
	if len(key) == 0 {
		return nil, errors.New("obfuscation: empty key")
	}

	c := &Codec{
		key:      append([]byte(nil), key...),
		checksum: cfg.Checksum,
		random:   cfg.Random,
	}
	if c.checksum == nil {
		c.checksum = AdditiveChecksum
	}
	if c.random == nil {
		c.random = rand.Reader
	}
	return c, nil
}

// Default returns a Codec with the default key and checksum.
func Default() *Codec {
	c, _ := New(Config{})
	return c
}

// Encode serializes v to JSON and returns its wire form.
func (c *Codec) Encode(v any) (string, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("obfuscation: marshal: %w", err)
	}

	raw := make([]byte, PadSize+len(plain))
	if _, err := io.ReadFull(c.random, raw[:PadSize]); err != nil {
		return "", fmt.Errorf("obfuscation: pad: %w", err)
	}
	copy(raw[PadSize:], plain)
	c.xor(raw[PadSize:])

	payload := reverse(base64.StdEncoding.EncodeToString(raw))
	return Envelope{Checksum: c.checksum(payload), Payload: payload}.String(), nil
}

// Decode verifies and decodes a wire string into a generic JSON value
// (map[string]any, []any, string, float64, bool or nil).
func (c *Codec) Decode(wire string) (any, error) {
	plain, err := c.open(wire)
	if err != nil {
		return nil, err
	}

	var v any
	if err := json.Unmarshal(plain, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return v, nil
}

// DecodeInto verifies and decodes a wire string into dst.
func (c *Codec) DecodeInto(wire string, dst any) error {
	plain, err := c.open(wire)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plain, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

func (c *Codec) open(wire string) ([]byte, error) {
	env, err := ParseEnvelope(wire)
	if err != nil {
		return nil, err
	}
	if c.checksum(env.Payload) != env.Checksum {
		return nil, ErrChecksum
	}

	raw, err := base64.StdEncoding.DecodeString(reverse(env.Payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(raw) < PadSize {
		return nil, fmt.Errorf("%w: payload shorter than pad", ErrDecode)
	}

	plain := raw[PadSize:]
	c.xor(plain)
	return plain, nil
}

func (c *Codec) xor(b []byte) {
	for i := range b {
		b[i] ^= c.key[i%len(c.key)]
	}
}

// reverse flips a base64 string. base64 output is ASCII, so byte order
// equals character order.
func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}
