// ABOUTME: Store interfaces and row types for warrant persistence
// ABOUTME: Defines DelegationTrace and SkillAuditEntry rows plus the TraceStore and AuditStore interfaces

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// ErrChainConflict is returned by conditional audit appends when the chain
// head moved between reading the latest hash and inserting the new entry.
var ErrChainConflict = errors.New("audit chain conflict")

// ErrAlreadyTerminal is returned when updating a trace that has already
// reached a terminal status. Terminal rows are immutable.
var ErrAlreadyTerminal = errors.New("trace already in a terminal status")

// PersistenceError wraps a storage failure so callers can distinguish
// "the store broke" from domain errors. Op names the failed operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TraceStatus is the lifecycle state of a delegation trace row.
type TraceStatus string

const (
	TraceDispatched  TraceStatus = "dispatched"
	TraceCompleted   TraceStatus = "completed"
	TraceFailed      TraceStatus = "failed"
	TraceCancelled   TraceStatus = "cancelled"
	TraceRedelegated TraceStatus = "re_delegated"
)

// ValidTraceStatuses lists every status the store accepts.
var ValidTraceStatuses = []TraceStatus{
	TraceDispatched,
	TraceCompleted,
	TraceFailed,
	TraceCancelled,
	TraceRedelegated,
}

// Valid reports whether s is one of the known statuses.
func (s TraceStatus) Valid() bool {
	for _, v := range ValidTraceStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends a trace's lifecycle.
// "dispatched" is the only non-terminal state.
func (s TraceStatus) Terminal() bool {
	return s.Valid() && s != TraceDispatched
}

// DelegationTrace is one recorded delegation/dispatch event. Rows form a tree
// per goal via ParentTraceID; the tree is reconstructed on read, never stored
// nested.
type DelegationTrace struct {
	TraceID       string
	GoalID        *string
	ParentTraceID *string

	UserID    string
	Delegator string
	Delegatee string

	TaskDescription     string
	TaskCharacteristics map[string]any
	CapabilityToken     map[string]any // serialized token snapshot captured at start
	Inputs              map[string]any

	Outputs            map[string]any
	ThinkingTrace      map[string]any
	VerificationResult map[string]any
	ApprovalRecord     map[string]any

	CostUSD     decimal.Decimal
	Status      TraceStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	DurationMs  *int64
	CreatedAt   time.Time
}

// TraceUpdate carries the fields set when a trace transitions to a terminal
// status. Nil maps are written as NULL.
type TraceUpdate struct {
	Outputs            map[string]any
	VerificationResult map[string]any
	CostUSD            decimal.Decimal
	Status             TraceStatus
	CompletedAt        time.Time
	DurationMs         int64
}

// SkillAuditEntry is one row in the per-user hash chain. Callers hash their
// own input/output payloads; the store only persists the envelope.
type SkillAuditEntry struct {
	ID       string
	UserID   string
	TenantID *string

	SkillID         string
	SkillPath       string
	SkillTrustLevel string
	TaskID          *string
	AgentID         *string
	TriggerReason   string

	DataClassesRequested []string
	DataClassesGranted   []string
	DataRedacted         bool

	TokensUsed []string
	InputHash  string
	OutputHash *string

	ExecutionTimeMs *int64
	Success         bool
	Error           *string

	SandboxConfig map[string]any
	SecurityFlags []string

	PreviousHash string // 64-hex-char hash of the prior entry, or the genesis value
	EntryHash    string // 64-hex-char hash of this entry's fields + PreviousHash

	CreatedAt time.Time
}

// TraceStore persists delegation trace rows.
type TraceStore interface {
	// InsertTrace inserts one trace row.
	InsertTrace(ctx context.Context, t *DelegationTrace) error

	// UpdateTrace applies a terminal update to the row with the given id.
	// Returns ErrNotFound if no such row exists.
	UpdateTrace(ctx context.Context, traceID string, upd TraceUpdate) error

	// GetTrace retrieves a single trace row by id.
	GetTrace(ctx context.Context, traceID string) (*DelegationTrace, error)

	// ListTracesByGoal returns every trace for the goal, ascending by created_at.
	ListTracesByGoal(ctx context.Context, goalID string) ([]*DelegationTrace, error)

	// ListTracesByUser returns recent traces for the user, descending by
	// created_at. An empty delegatee means no delegatee filter.
	ListTracesByUser(ctx context.Context, userID string, limit int, delegatee string) ([]*DelegationTrace, error)
}

// AuditStore persists hash-chained skill audit entries. The table is
// append-only: there is deliberately no update or delete.
type AuditStore interface {
	// InsertAuditEntry appends one entry unconditionally.
	InsertAuditEntry(ctx context.Context, e *SkillAuditEntry) error

	// InsertAuditEntryIf appends the entry only if the user's current chain
	// head equals expectedPrev. Returns ErrChainConflict otherwise.
	InsertAuditEntryIf(ctx context.Context, e *SkillAuditEntry, expectedPrev string) error

	// LatestAuditHash returns the entry_hash of the user's most recent entry.
	// Returns ErrNotFound when the user has no entries.
	LatestAuditHash(ctx context.Context, userID string) (string, error)

	// ListAuditEntries returns all entries for the user in insertion order.
	ListAuditEntries(ctx context.Context, userID string) ([]*SkillAuditEntry, error)
}

// Store is the full persistence surface backing the trace service and the
// audit chain. Both logical tables live behind one connection.
type Store interface {
	TraceStore
	AuditStore

	// Close releases any resources held by the store
	Close() error
}
