// ABOUTME: Tool registry interface and a thread-safe in-process implementation
// ABOUTME: Resolves a tool name to its server, permission action, and external flag

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrToolNotRegistered indicates the registry has no entry for a tool name.
var ErrToolNotRegistered = errors.New("tool not registered")

// ErrToolCollision indicates a tool name is already registered.
var ErrToolCollision = errors.New("tool name collision")

// ResolvedTool is the routing record for one tool name.
type ResolvedTool struct {
	Server   string // server identifier, builtin or external
	Action   string // permission action checked against the capability token
	External bool   // true when the tool lives behind the external connection pool
}

// ToolInfo describes one registered tool for listings.
type ToolInfo struct {
	Name     string
	Server   string
	Action   string
	External bool
}

// ToolRegistry resolves tool names to handlers. Implementations may be
// backed by a remote service; StaticRegistry is the in-process one.
type ToolRegistry interface {
	// Resolve returns the routing record for a tool name.
	// Returns ErrToolNotRegistered when the name is unknown.
	Resolve(ctx context.Context, toolName, userID string) (ResolvedTool, error)

	// ListTools returns every registered tool, sorted by name.
	ListTools(ctx context.Context) ([]ToolInfo, error)
}

// StaticRegistry is a thread-safe in-memory ToolRegistry.
type StaticRegistry struct {
	mu     sync.RWMutex
	tools  map[string]ResolvedTool
	logger *slog.Logger
}

// NewStaticRegistry creates an empty StaticRegistry.
func NewStaticRegistry(logger *slog.Logger) *StaticRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &StaticRegistry{
		tools:  make(map[string]ResolvedTool),
		logger: logger.With("component", "tool-registry"),
	}
}

// Register adds one tool. Returns ErrToolCollision if the name exists.
func (r *StaticRegistry) Register(name string, tool ResolvedTool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %q already registered to server %q", ErrToolCollision, name, existing.Server)
	}
	r.tools[name] = tool

	r.logger.Debug("registered tool",
		"tool", name,
		"server", tool.Server,
		"action", tool.Action,
		"external", tool.External,
	)
	return nil
}

// Unregister removes a tool by name. Unknown names are ignored.
func (r *StaticRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Resolve returns the routing record for a tool name.
func (r *StaticRegistry) Resolve(ctx context.Context, toolName, userID string) (ResolvedTool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[toolName]
	if !ok {
		return ResolvedTool{}, fmt.Errorf("%w: %q", ErrToolNotRegistered, toolName)
	}
	return tool, nil
}

// ListTools returns every registered tool, sorted by name.
func (r *StaticRegistry) ListTools(ctx context.Context) ([]ToolInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ToolInfo, 0, len(r.tools))
	for name, tool := range r.tools {
		infos = append(infos, ToolInfo{
			Name:     name,
			Server:   tool.Server,
			Action:   tool.Action,
			External: tool.External,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Ensure StaticRegistry implements ToolRegistry
var _ ToolRegistry = (*StaticRegistry)(nil)
