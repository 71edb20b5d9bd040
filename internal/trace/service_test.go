// ABOUTME: Tests for the delegation trace service lifecycle and queries
// ABOUTME: Covers start/complete/fail transitions, duration capture, and feed filtering

package trace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/warrant/internal/store"
)

func setupService(t *testing.T) (*Service, *store.MockStore) {
	t.Helper()
	mockStore := store.NewMockStore()
	return NewService(mockStore, nil), mockStore
}

func TestService_StartTrace(t *testing.T) {
	svc, mockStore := setupService(t)
	ctx := context.Background()

	traceID, err := svc.StartTrace(ctx, StartParams{
		UserID:          "user-1",
		GoalID:          "goal-1",
		Delegator:       "orchestrator",
		Delegatee:       "hunter",
		TaskDescription: "search_web (external)",
		Inputs:          map[string]any{"query": "x"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, traceID)

	row, err := mockStore.GetTrace(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, store.TraceDispatched, row.Status)
	assert.Equal(t, "hunter", row.Delegatee)
	require.NotNil(t, row.GoalID)
	assert.Equal(t, "goal-1", *row.GoalID)
	assert.Nil(t, row.ParentTraceID)
	assert.Nil(t, row.CompletedAt)
	assert.True(t, decimal.Zero.Equal(row.CostUSD))
}

func TestService_StartTrace_InsertFailure(t *testing.T) {
	svc, mockStore := setupService(t)
	mockStore.InsertErr = errors.New("disk full")

	_, err := svc.StartTrace(context.Background(), StartParams{UserID: "user-1"})
	require.Error(t, err)

	var persistence *store.PersistenceError
	assert.ErrorAs(t, err, &persistence)
}

func TestService_CompleteTrace(t *testing.T) {
	svc, mockStore := setupService(t)
	ctx := context.Background()

	traceID, err := svc.StartTrace(ctx, StartParams{UserID: "user-1", Delegatee: "hunter"})
	require.NoError(t, err)

	err = svc.CompleteTrace(ctx, traceID, CompleteOptions{
		Outputs: map[string]any{"leads": 3},
		CostUSD: decimal.RequireFromString("0.0125"),
	})
	require.NoError(t, err)

	row, err := mockStore.GetTrace(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, store.TraceCompleted, row.Status)
	assert.Equal(t, map[string]any{"leads": 3}, row.Outputs)
	assert.True(t, decimal.RequireFromString("0.0125").Equal(row.CostUSD))
	require.NotNil(t, row.CompletedAt)
	require.NotNil(t, row.DurationMs)
	assert.GreaterOrEqual(t, *row.DurationMs, int64(0))
}

func TestService_CompleteTrace_Redelegated(t *testing.T) {
	svc, mockStore := setupService(t)
	ctx := context.Background()

	traceID, err := svc.StartTrace(ctx, StartParams{UserID: "user-1"})
	require.NoError(t, err)

	err = svc.CompleteTrace(ctx, traceID, CompleteOptions{Status: store.TraceRedelegated})
	require.NoError(t, err)

	row, err := mockStore.GetTrace(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, store.TraceRedelegated, row.Status)
}

func TestService_CompleteTrace_RejectsNonTerminal(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	traceID, err := svc.StartTrace(ctx, StartParams{UserID: "user-1"})
	require.NoError(t, err)

	err = svc.CompleteTrace(ctx, traceID, CompleteOptions{Status: store.TraceDispatched})
	assert.ErrorIs(t, err, ErrNonTerminalStatus)

	err = svc.CompleteTrace(ctx, traceID, CompleteOptions{Status: store.TraceStatus("bogus")})
	assert.ErrorIs(t, err, ErrNonTerminalStatus)
}

func TestService_CompleteTrace_TerminalRowIsImmutable(t *testing.T) {
	svc, mockStore := setupService(t)
	ctx := context.Background()

	traceID, err := svc.StartTrace(ctx, StartParams{UserID: "user-1"})
	require.NoError(t, err)

	require.NoError(t, svc.CompleteTrace(ctx, traceID, CompleteOptions{
		Outputs: map[string]any{"leads": 3},
	}))

	// A second completion must not rewrite the row.
	err = svc.CompleteTrace(ctx, traceID, CompleteOptions{Status: store.TraceCancelled})
	assert.ErrorIs(t, err, store.ErrAlreadyTerminal)

	// Neither may a late failure report.
	err = svc.FailTrace(ctx, traceID, "crm unavailable")
	assert.ErrorIs(t, err, store.ErrAlreadyTerminal)

	row, err := mockStore.GetTrace(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, store.TraceCompleted, row.Status)
	assert.Equal(t, map[string]any{"leads": 3}, row.Outputs)
}

func TestService_CompleteTrace_UnknownID(t *testing.T) {
	svc, _ := setupService(t)

	err := svc.CompleteTrace(context.Background(), "no-such-trace", CompleteOptions{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_FailTrace(t *testing.T) {
	svc, mockStore := setupService(t)
	ctx := context.Background()

	traceID, err := svc.StartTrace(ctx, StartParams{UserID: "user-1"})
	require.NoError(t, err)

	require.NoError(t, svc.FailTrace(ctx, traceID, "crm unavailable"))

	row, err := mockStore.GetTrace(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, store.TraceFailed, row.Status)
	assert.Equal(t, map[string]any{"error": "crm unavailable"}, row.Outputs)
	require.NotNil(t, row.CompletedAt)
}

func TestService_GetTraceTree(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	rootID, err := svc.StartTrace(ctx, StartParams{
		UserID: "user-1", GoalID: "goal-1", Delegatee: "hunter",
	})
	require.NoError(t, err)

	childID, err := svc.StartTrace(ctx, StartParams{
		UserID: "user-1", GoalID: "goal-1", ParentTraceID: rootID, Delegatee: "verifier",
	})
	require.NoError(t, err)

	_, err = svc.StartTrace(ctx, StartParams{
		UserID: "user-2", GoalID: "goal-2", Delegatee: "enricher",
	})
	require.NoError(t, err)

	rows, err := svc.GetTraceTree(ctx, "goal-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	roots := BuildTree(rows)
	require.Len(t, roots, 1)
	assert.Equal(t, rootID, roots[0].Trace.TraceID)
	require.Len(t, roots[0].Children, 1)
	assert.Equal(t, childID, roots[0].Children[0].Trace.TraceID)
}

func TestService_GetUserTraces_FiltersByDelegatee(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	for _, delegatee := range []string{"hunter", "verifier", "hunter"} {
		_, err := svc.StartTrace(ctx, StartParams{UserID: "user-1", Delegatee: delegatee})
		require.NoError(t, err)
	}

	all, err := svc.GetUserTraces(ctx, "user-1", 0, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	hunters, err := svc.GetUserTraces(ctx, "user-1", 0, "hunter")
	require.NoError(t, err)
	assert.Len(t, hunters, 2)
	for _, row := range hunters {
		assert.Equal(t, "hunter", row.Delegatee)
	}
}

func TestBuildTree_OrphanBecomesRoot(t *testing.T) {
	missing := "missing-parent"
	rows := []*store.DelegationTrace{
		{TraceID: "a", ParentTraceID: &missing, CreatedAt: time.Now()},
	}

	roots := BuildTree(rows)
	require.Len(t, roots, 1)
	assert.Equal(t, "a", roots[0].Trace.TraceID)
}

func TestBuildTree_PreservesSiblingOrder(t *testing.T) {
	parent := "p"
	rows := []*store.DelegationTrace{
		{TraceID: "p"},
		{TraceID: "c1", ParentTraceID: &parent},
		{TraceID: "c2", ParentTraceID: &parent},
		{TraceID: "c3", ParentTraceID: &parent},
	}

	roots := BuildTree(rows)
	require.Len(t, roots, 1)
	require.Len(t, roots[0].Children, 3)
	assert.Equal(t, "c1", roots[0].Children[0].Trace.TraceID)
	assert.Equal(t, "c3", roots[0].Children[2].Trace.TraceID)
}
