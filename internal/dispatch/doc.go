// Package dispatch routes tool calls to their handlers under capability
// enforcement.
//
// # Call path
//
// CallTool resolves the tool name through a ToolRegistry, enforces the
// supplied capability token before anything else runs, opens a delegation
// trace, invokes either an in-process builtin server or an external
// connection pool, and closes the trace with the outcome. Enforcement is
// strictly ordered before the handler call: a denied or expired token means
// no side effect ever occurred.
//
// # Failure posture
//
// Enforcement failures (unknown tool, capability violation) always reach the
// caller. Trace writes are best-effort in both directions: a failed trace
// open logs a warning and the call proceeds untraced, and a failed trace
// close never displaces the handler's own result or error.
//
// An unresolved tool name additionally emits a capability-gap event to the
// configured GapSink, which is how missing integrations get noticed.
package dispatch
