// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject storage failures

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
// InsertErr and UpdateErr, when set, are returned from the corresponding
// write methods so callers' failure paths can be exercised.
type MockStore struct {
	mu      sync.RWMutex
	traces  map[string]*DelegationTrace   // keyed by trace ID
	order   []string                      // trace IDs in insertion order
	entries map[string][]*SkillAuditEntry // keyed by user ID, insertion order

	InsertErr error
	UpdateErr error
	ReadErr   error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		traces:  make(map[string]*DelegationTrace),
		entries: make(map[string][]*SkillAuditEntry),
	}
}

// InsertTrace stores a copy of the trace row.
func (m *MockStore) InsertTrace(ctx context.Context, t *DelegationTrace) error {
	if m.InsertErr != nil {
		return m.InsertErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.traces[cp.TraceID] = &cp
	m.order = append(m.order, cp.TraceID)
	return nil
}

// UpdateTrace applies a terminal update to a stored trace.
func (m *MockStore) UpdateTrace(ctx context.Context, traceID string, upd TraceUpdate) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.traces[traceID]
	if !ok {
		return ErrNotFound
	}
	if t.Status.Terminal() {
		return ErrAlreadyTerminal
	}

	t.Outputs = upd.Outputs
	t.VerificationResult = upd.VerificationResult
	t.CostUSD = upd.CostUSD
	t.Status = upd.Status
	completed := upd.CompletedAt
	t.CompletedAt = &completed
	duration := upd.DurationMs
	t.DurationMs = &duration
	return nil
}

// GetTrace retrieves a copy of a trace by ID.
func (m *MockStore) GetTrace(ctx context.Context, traceID string) (*DelegationTrace, error) {
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.traces[traceID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ListTracesByGoal returns traces for a goal, ascending by created_at.
func (m *MockStore) ListTracesByGoal(ctx context.Context, goalID string) ([]*DelegationTrace, error) {
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*DelegationTrace
	for _, id := range m.order {
		t := m.traces[id]
		if t.GoalID != nil && *t.GoalID == goalID {
			cp := *t
			out = append(out, &cp)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListTracesByUser returns recent traces for a user, descending by created_at.
func (m *MockStore) ListTracesByUser(ctx context.Context, userID string, limit int, delegatee string) ([]*DelegationTrace, error) {
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	if limit <= 0 {
		limit = 20
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*DelegationTrace
	for _, id := range m.order {
		t := m.traces[id]
		if t.UserID != userID {
			continue
		}
		if delegatee != "" && t.Delegatee != delegatee {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertAuditEntry appends a copy of the entry to the user's chain.
func (m *MockStore) InsertAuditEntry(ctx context.Context, e *SkillAuditEntry) error {
	if m.InsertErr != nil {
		return m.InsertErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	m.entries[cp.UserID] = append(m.entries[cp.UserID], &cp)
	return nil
}

// InsertAuditEntryIf appends the entry only if the user's chain head equals
// expectedPrev.
func (m *MockStore) InsertAuditEntryIf(ctx context.Context, e *SkillAuditEntry, expectedPrev string) error {
	if m.InsertErr != nil {
		return m.InsertErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	head := GenesisHash
	if chain := m.entries[e.UserID]; len(chain) > 0 {
		head = chain[len(chain)-1].EntryHash
	}
	if head != expectedPrev {
		return fmt.Errorf("%w: head %s, expected %s", ErrChainConflict, head, expectedPrev)
	}

	cp := *e
	m.entries[cp.UserID] = append(m.entries[cp.UserID], &cp)
	return nil
}

// LatestAuditHash returns the entry_hash of the user's most recent entry.
func (m *MockStore) LatestAuditHash(ctx context.Context, userID string) (string, error) {
	if m.ReadErr != nil {
		return "", m.ReadErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.entries[userID]
	if len(chain) == 0 {
		return "", ErrNotFound
	}
	return chain[len(chain)-1].EntryHash, nil
}

// ListAuditEntries returns copies of all entries for a user in insertion order.
func (m *MockStore) ListAuditEntries(ctx context.Context, userID string) ([]*SkillAuditEntry, error) {
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.entries[userID]
	out := make([]*SkillAuditEntry, 0, len(chain))
	for _, e := range chain {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// TamperAuditEntry mutates one stored field in place, bypassing the chain.
// Only for tests that need to simulate after-the-fact modification.
func (m *MockStore) TamperAuditEntry(userID string, index int, mutate func(*SkillAuditEntry)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.entries[userID]
	if index >= 0 && index < len(chain) {
		mutate(chain[index])
	}
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error { return nil }

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
