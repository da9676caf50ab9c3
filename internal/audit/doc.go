// Package audit implements async event dispatching for ingress decisions:
// authorization failures, lenient logouts, lock denials and session changes.
//
// # Components
//
//   - [Sink]: event consumer. [SlogSink] and [JSONWriterSink] are the
//     production sinks; [MultiSink] fans out to several.
//   - [Dispatcher]: buffered relay goroutine. A full queue either drops
//     (counted) or makes Emit wait on its context.
//   - [Event]: one record. Tokens never appear in it.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; that responsibility belongs to the Gateway and flow functions.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goGuard or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
