// ABOUTME: Delegation trace service over the TraceStore persistence interface
// ABOUTME: One row per dispatch attempt; exactly one terminal transition; trees reconstructed on read

package trace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/2389/warrant/internal/store"
)

// ErrNonTerminalStatus is returned when CompleteTrace is asked to set a
// status that doesn't end the trace's lifecycle.
var ErrNonTerminalStatus = errors.New("status is not terminal")

// StartParams carries everything captured when a delegation is dispatched.
// GoalID and ParentTraceID are optional; empty means none.
type StartParams struct {
	UserID        string
	GoalID        string
	ParentTraceID string

	Delegator string
	Delegatee string

	TaskDescription     string
	TaskCharacteristics map[string]any
	CapabilityToken     map[string]any
	Inputs              map[string]any
}

// CompleteOptions carries the fields set when a trace finishes successfully
// or is handed off. Status defaults to completed; any terminal status is
// accepted, including re_delegated for hand-off chains.
type CompleteOptions struct {
	Outputs            map[string]any
	VerificationResult map[string]any
	CostUSD            decimal.Decimal
	Status             store.TraceStatus
}

// Service records delegation traces. It fails hard on storage errors; callers
// that want best-effort tracing decide for themselves to log and move on.
type Service struct {
	store  store.TraceStore
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a trace service over the given store.
func NewService(ts store.TraceStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  ts,
		logger: logger.With("component", "trace"),
		now:    time.Now,
	}
}

// StartTrace inserts one row with status "dispatched" and returns its id.
// Returns a *store.PersistenceError when the insert cannot be performed.
func (s *Service) StartTrace(ctx context.Context, p StartParams) (string, error) {
	now := s.now().UTC()

	row := &store.DelegationTrace{
		TraceID:             uuid.New().String(),
		GoalID:              optional(p.GoalID),
		ParentTraceID:       optional(p.ParentTraceID),
		UserID:              p.UserID,
		Delegator:           p.Delegator,
		Delegatee:           p.Delegatee,
		TaskDescription:     p.TaskDescription,
		TaskCharacteristics: p.TaskCharacteristics,
		CapabilityToken:     p.CapabilityToken,
		Inputs:              p.Inputs,
		CostUSD:             decimal.Zero,
		Status:              store.TraceDispatched,
		StartedAt:           now,
		CreatedAt:           now,
	}

	if err := s.store.InsertTrace(ctx, row); err != nil {
		return "", &store.PersistenceError{Op: "start trace", Err: err}
	}

	s.logger.Debug("started trace",
		"trace_id", row.TraceID,
		"delegator", p.Delegator,
		"delegatee", p.Delegatee,
		"goal_id", p.GoalID,
	)
	return row.TraceID, nil
}

// CompleteTrace transitions the trace to a terminal status with its outputs.
// A trace that already reached a terminal status stays as it is; the second
// transition fails with store.ErrAlreadyTerminal.
func (s *Service) CompleteTrace(ctx context.Context, traceID string, opts CompleteOptions) error {
	status := opts.Status
	if status == "" {
		status = store.TraceCompleted
	}
	if !status.Terminal() {
		return fmt.Errorf("%w: %q", ErrNonTerminalStatus, status)
	}

	row, err := s.store.GetTrace(ctx, traceID)
	if err != nil {
		return fmt.Errorf("loading trace: %w", err)
	}
	if row.Status.Terminal() {
		return fmt.Errorf("completing trace %s: %w", traceID, store.ErrAlreadyTerminal)
	}

	now := s.now().UTC()
	upd := store.TraceUpdate{
		Outputs:            opts.Outputs,
		VerificationResult: opts.VerificationResult,
		CostUSD:            opts.CostUSD,
		Status:             status,
		CompletedAt:        now,
		DurationMs:         now.Sub(row.StartedAt).Milliseconds(),
	}

	if err := s.store.UpdateTrace(ctx, traceID, upd); err != nil {
		return fmt.Errorf("completing trace: %w", err)
	}

	s.logger.Debug("completed trace", "trace_id", traceID, "status", status)
	return nil
}

// FailTrace transitions the trace to failed, recording the error message as
// its outputs. Like CompleteTrace, it refuses to rewrite a terminal row.
func (s *Service) FailTrace(ctx context.Context, traceID, errorMessage string) error {
	row, err := s.store.GetTrace(ctx, traceID)
	if err != nil {
		return fmt.Errorf("loading trace: %w", err)
	}
	if row.Status.Terminal() {
		return fmt.Errorf("failing trace %s: %w", traceID, store.ErrAlreadyTerminal)
	}

	now := s.now().UTC()
	upd := store.TraceUpdate{
		Outputs:     map[string]any{"error": errorMessage},
		CostUSD:     decimal.Zero,
		Status:      store.TraceFailed,
		CompletedAt: now,
		DurationMs:  now.Sub(row.StartedAt).Milliseconds(),
	}

	if err := s.store.UpdateTrace(ctx, traceID, upd); err != nil {
		return fmt.Errorf("failing trace: %w", err)
	}

	s.logger.Debug("failed trace", "trace_id", traceID, "error", errorMessage)
	return nil
}

// GetTraceTree returns every trace for a goal, ascending by created_at.
// Callers link rows into a tree via ParentTraceID; see BuildTree.
func (s *Service) GetTraceTree(ctx context.Context, goalID string) ([]*store.DelegationTrace, error) {
	traces, err := s.store.ListTracesByGoal(ctx, goalID)
	if err != nil {
		return nil, fmt.Errorf("listing goal traces: %w", err)
	}
	return traces, nil
}

// GetUserTraces returns the user's most recent traces, newest first, for
// activity-feed views. An empty actionCategory means no delegatee filter;
// limit <= 0 means the default of 20.
func (s *Service) GetUserTraces(ctx context.Context, userID string, limit int, actionCategory string) ([]*store.DelegationTrace, error) {
	traces, err := s.store.ListTracesByUser(ctx, userID, limit, actionCategory)
	if err != nil {
		return nil, fmt.Errorf("listing user traces: %w", err)
	}
	return traces, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
