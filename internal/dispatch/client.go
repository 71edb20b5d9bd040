// ABOUTME: Tool dispatch client: resolve, enforce the capability token, trace, invoke
// ABOUTME: Enforcement failures always surface; tracing failures never block a call

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/warrant/internal/capability"
	"github.com/2389/warrant/internal/trace"
)

// UnknownToolError is returned when no registered server provides the
// requested tool. The message lists every known tool so the caller can
// self-correct.
type UnknownToolError struct {
	Tool  string
	Known []string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q; known tools: %s", e.Tool, strings.Join(e.Known, ", "))
}

// CallParams carries one tool invocation. Token is optional; a nil token
// skips client-side enforcement (external servers still enforce their own).
type CallParams struct {
	Tool      string
	Arguments map[string]any
	Token     *capability.Token

	UserID        string
	GoalID        string
	ParentTraceID string

	Delegator string
	Delegatee string
}

// Client routes tool calls to built-in servers or external connections,
// enforcing the capability token before any handler is contacted and
// recording a delegation trace around the call.
type Client struct {
	registry ToolRegistry
	builtins BuiltinProvider
	external ExternalPool
	traces   *trace.Service
	gaps     GapSink
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewClient wires a dispatch client. gaps and metrics may be nil.
func NewClient(registry ToolRegistry, builtins BuiltinProvider, external ExternalPool, traces *trace.Service, gaps GapSink, metrics *Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		registry: registry,
		builtins: builtins,
		external: external,
		traces:   traces,
		gaps:     gaps,
		metrics:  metrics,
		logger:   logger.With("component", "dispatch"),
		now:      time.Now,
	}
}

// CallTool resolves the tool, enforces the token, records a trace, and
// invokes the handler. The returned value is always a map; scalar handler
// results are wrapped as {"result": value}.
func (c *Client) CallTool(ctx context.Context, p CallParams) (map[string]any, error) {
	started := c.now()

	resolved, err := c.registry.Resolve(ctx, p.Tool, p.UserID)
	if err != nil {
		// Only a genuine miss is the caller's problem; a resolver outage
		// is not an unknown tool and must not pollute gap telemetry.
		if !errors.Is(err, ErrToolNotRegistered) {
			c.observe(p.Tool, "error", started)
			return nil, fmt.Errorf("resolving tool %s: %w", p.Tool, err)
		}
		c.recordGap(p)
		c.observe(p.Tool, "unknown", started)
		return nil, &UnknownToolError{Tool: p.Tool, Known: c.knownTools(ctx)}
	}

	// Enforcement happens before any handler is contacted, so a denial
	// has no side effects to unwind.
	if p.Token != nil {
		if !p.Token.IsValidAt(c.now()) {
			c.metrics.observeViolation()
			c.observe(p.Tool, "violation", started)
			return nil, &capability.ViolationError{
				Delegatee: p.Token.Delegatee,
				Action:    resolved.Action,
				Reason:    "token expired",
			}
		}
		if !p.Token.CanPerform(resolved.Action) {
			c.metrics.observeViolation()
			c.observe(p.Tool, "violation", started)
			return nil, &capability.ViolationError{
				Delegatee: p.Token.Delegatee,
				Action:    resolved.Action,
				Reason:    "action not permitted by token",
			}
		}
	}

	traceID := c.startTrace(ctx, p, resolved)

	result, callErr := c.invoke(ctx, p, resolved)
	if callErr != nil {
		c.closeTraceFailed(ctx, traceID, p.Tool, callErr)
		c.observe(p.Tool, "error", started)
		return nil, callErr
	}

	c.closeTraceCompleted(ctx, traceID, result)
	c.observe(p.Tool, "ok", started)
	return result, nil
}

// ListTools returns every registered tool, optionally filtered to one server.
func (c *Client) ListTools(ctx context.Context, server string) ([]ToolInfo, error) {
	tools, err := c.registry.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	if server == "" {
		return tools, nil
	}
	filtered := make([]ToolInfo, 0, len(tools))
	for _, t := range tools {
		if t.Server == server {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

func (c *Client) invoke(ctx context.Context, p CallParams, resolved ResolvedTool) (map[string]any, error) {
	var snapshot map[string]any
	if p.Token != nil {
		snapshot = p.Token.Snapshot()
	}

	if resolved.External {
		conn, err := c.external.GetConnection(ctx, p.UserID, resolved.Server)
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", resolved.Server, err)
		}
		result, err := conn.CallTool(ctx, p.Tool, p.Arguments, snapshot, resolved.Action)
		if err != nil {
			return nil, err
		}
		return normalizeResult(result), nil
	}

	server, err := c.builtins.GetServer(resolved.Server)
	if err != nil {
		return nil, fmt.Errorf("resolving builtin server %s: %w", resolved.Server, err)
	}

	args := make(map[string]any, len(p.Arguments)+1)
	for k, v := range p.Arguments {
		args[k] = v
	}
	if snapshot != nil {
		args["dct"] = snapshot
	}

	result, err := server.CallTool(ctx, p.Tool, args)
	if err != nil {
		return nil, err
	}
	return normalizeResult(result), nil
}

// startTrace opens the delegation trace row. A tracing failure is logged and
// swallowed; the call proceeds without a trace id.
func (c *Client) startTrace(ctx context.Context, p CallParams, resolved ResolvedTool) string {
	if c.traces == nil {
		return ""
	}

	description := p.Tool
	if resolved.External {
		description += " (external)"
	}

	var snapshot map[string]any
	if p.Token != nil {
		snapshot = p.Token.Snapshot()
	}

	traceID, err := c.traces.StartTrace(ctx, trace.StartParams{
		UserID:          p.UserID,
		GoalID:          p.GoalID,
		ParentTraceID:   p.ParentTraceID,
		Delegator:       p.Delegator,
		Delegatee:       p.Delegatee,
		TaskDescription: description,
		CapabilityToken: snapshot,
		Inputs:          p.Arguments,
	})
	if err != nil {
		c.logger.Warn("trace start failed, proceeding untraced", "tool", p.Tool, "error", err)
		return ""
	}
	return traceID
}

func (c *Client) closeTraceCompleted(ctx context.Context, traceID string, result map[string]any) {
	if c.traces == nil || traceID == "" {
		return
	}
	if err := c.traces.CompleteTrace(ctx, traceID, trace.CompleteOptions{Outputs: result}); err != nil {
		c.logger.Warn("trace completion failed", "trace_id", traceID, "error", err)
	}
}

func (c *Client) closeTraceFailed(ctx context.Context, traceID, tool string, callErr error) {
	if c.traces == nil || traceID == "" {
		return
	}

	message := callErr.Error()
	var violation *capability.ViolationError
	if errors.As(callErr, &violation) {
		message = fmt.Sprintf("DCT violation on %s", tool)
	}

	if err := c.traces.FailTrace(ctx, traceID, message); err != nil {
		c.logger.Warn("trace failure recording failed", "trace_id", traceID, "error", err)
	}
}

func (c *Client) recordGap(p CallParams) {
	if c.gaps != nil {
		c.gaps.RecordGap(GapEvent{
			UserID:          p.UserID,
			RequestedTool:   p.Tool,
			RequestingAgent: p.Delegatee,
			Timestamp:       c.now().UTC(),
		})
	}
	c.metrics.observeGap()
}

func (c *Client) knownTools(ctx context.Context) []string {
	tools, err := c.registry.ListTools(ctx)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}

func (c *Client) observe(tool, status string, started time.Time) {
	c.metrics.observeCall(tool, status, c.now().Sub(started))
}

// normalizeResult wraps non-map handler results so callers always get a map.
func normalizeResult(value any) map[string]any {
	if m, ok := value.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": value}
}
