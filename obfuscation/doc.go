// Package obfuscation implements the reversible request-body transform shared
// with game clients.
//
// # Wire format
//
// A JSON value is serialized, XORed with a repeating key, prefixed with
// [PadSize] random bytes, base64 encoded, and reversed. The reversed string is
// the payload; a checksum over the payload is prepended with a "." separator:
//
//	<checksum>.<payload>
//
// The default checksum ([AdditiveChecksum]) is a position-weighted byte sum
// modulo 65536 in base 36. It is not a MAC. Callers needing stronger
// integrity can supply a different [ChecksumFunc] without changing the wire
// shape.
//
// # What this package must NOT do
//
//   - Be treated as a confidentiality or authentication boundary.
//   - Import goGuard or any HTTP package.
package obfuscation
