// Package flows contains pure-function orchestrators for the Gateway's
// authorization decisions.
//
// Each flow function (RunAuthorize, RunLogout) accepts a typed dependency
// struct and returns a classified result. The Gateway maps results onto its
// error taxonomy, metrics, audit events and logs.
//
// # Architecture boundaries
//
// Flow functions coordinate the token verifier and the session registry. They
// do NOT own either resource; ownership stays with the Gateway.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goGuard (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency interfaces.
package flows
