// ABOUTME: Collaborator interfaces for the handlers tool calls are routed to
// ABOUTME: Builtin servers run in-process; external servers live behind a connection pool

package dispatch

import "context"

// BuiltinServer is an in-process tool handler. Arguments include a "dct" key
// carrying the capability token snapshot when the call was made with a token.
// The return value may be any shape; the client normalizes non-map results.
type BuiltinServer interface {
	CallTool(ctx context.Context, toolName string, arguments map[string]any) (any, error)
}

// BuiltinProvider resolves a builtin server identifier to its handler.
type BuiltinProvider interface {
	GetServer(name string) (BuiltinServer, error)
}

// ExternalConn is one connection to an external tool server. The token
// snapshot and the permission action ride along so the server enforces the
// grant itself; timeouts, retries, and circuit breaking are the pool's
// business, not this package's.
type ExternalConn interface {
	CallTool(ctx context.Context, toolName string, arguments map[string]any, token map[string]any, action string) (map[string]any, error)
}

// ExternalPool hands out connections to external tool servers.
type ExternalPool interface {
	GetConnection(ctx context.Context, userID, serverName string) (ExternalConn, error)
}
