// Package ingress normalizes incoming request bodies before any guarded
// logic sees them.
//
// A request flagged with "X-Obfuscated: 1" must carry {"_": "<wire>"} and is
// decoded through the obfuscation codec; any other request is parsed as
// plain JSON. [ParseRequest] then lifts the declared userId, sessionId and
// token out of the body, leaving the action fields in [Request.Payload].
//
// # What this package must NOT do
//
//   - Verify tokens or take locks. Those steps belong to the Gateway.
//   - Log or retain request bodies.
package ingress
