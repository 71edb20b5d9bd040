// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists delegation traces and the skill audit chain with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// GenesisHash is the previous_hash of the first entry in every per-user
// audit chain: 64 zero characters.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS delegation_traces (
			trace_id             TEXT PRIMARY KEY,
			goal_id              TEXT,
			parent_trace_id      TEXT,
			user_id              TEXT NOT NULL,
			delegator            TEXT NOT NULL,
			delegatee            TEXT NOT NULL,
			task_description     TEXT NOT NULL,
			task_characteristics TEXT,
			capability_token     TEXT,
			inputs               TEXT,
			outputs              TEXT,
			thinking_trace       TEXT,
			verification_result  TEXT,
			approval_record      TEXT,
			cost_usd             TEXT NOT NULL DEFAULT '0',
			status               TEXT NOT NULL,
			started_at           TEXT NOT NULL,
			completed_at         TEXT,
			duration_ms          INTEGER,
			created_at           TEXT NOT NULL,

			CHECK (status IN ('dispatched', 'completed', 'failed', 'cancelled', 're_delegated'))
		);

		CREATE INDEX IF NOT EXISTS idx_traces_goal ON delegation_traces(goal_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_traces_user ON delegation_traces(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_traces_parent ON delegation_traces(parent_trace_id);

		CREATE TABLE IF NOT EXISTS skill_audit_log (
			entry_id               TEXT PRIMARY KEY,
			user_id                TEXT NOT NULL,
			tenant_id              TEXT,
			skill_id               TEXT NOT NULL,
			skill_path             TEXT NOT NULL,
			skill_trust_level      TEXT NOT NULL,
			task_id                TEXT,
			agent_id               TEXT,
			trigger_reason         TEXT NOT NULL,
			data_classes_requested TEXT,
			data_classes_granted   TEXT,
			data_redacted          INTEGER NOT NULL DEFAULT 0,
			tokens_used            TEXT,
			input_hash             TEXT NOT NULL,
			output_hash            TEXT,
			execution_time_ms      INTEGER,
			success                INTEGER NOT NULL,
			error                  TEXT,
			sandbox_config         TEXT,
			security_flags         TEXT,
			previous_hash          TEXT NOT NULL,
			entry_hash             TEXT NOT NULL,
			created_at             TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_user_created ON skill_audit_log(user_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// jsonOrNil marshals a map to a JSON string, or returns nil for a nil map
// so the column is stored as NULL.
func jsonOrNil(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling json column: %w", err)
	}
	return string(data), nil
}

// jsonSliceOrNil marshals a string slice to a JSON string, nil for nil.
func jsonSliceOrNil(ss []string) (any, error) {
	if ss == nil {
		return nil, nil
	}
	data, err := json.Marshal(ss)
	if err != nil {
		return nil, fmt.Errorf("marshaling json column: %w", err)
	}
	return string(data), nil
}

func unmarshalMap(s *string, dst *map[string]any) error {
	if s == nil {
		return nil
	}
	return json.Unmarshal([]byte(*s), dst)
}

func unmarshalSlice(s *string, dst *[]string) error {
	if s == nil {
		return nil
	}
	return json.Unmarshal([]byte(*s), dst)
}

// InsertTrace inserts one delegation trace row.
func (s *SQLiteStore) InsertTrace(ctx context.Context, t *DelegationTrace) error {
	chars, err := jsonOrNil(t.TaskCharacteristics)
	if err != nil {
		return err
	}
	token, err := jsonOrNil(t.CapabilityToken)
	if err != nil {
		return err
	}
	inputs, err := jsonOrNil(t.Inputs)
	if err != nil {
		return err
	}
	outputs, err := jsonOrNil(t.Outputs)
	if err != nil {
		return err
	}
	thinking, err := jsonOrNil(t.ThinkingTrace)
	if err != nil {
		return err
	}
	verification, err := jsonOrNil(t.VerificationResult)
	if err != nil {
		return err
	}
	approval, err := jsonOrNil(t.ApprovalRecord)
	if err != nil {
		return err
	}

	var completedAt any
	if t.CompletedAt != nil {
		completedAt = t.CompletedAt.UTC().Format(time.RFC3339Nano)
	}

	query := `
		INSERT INTO delegation_traces (
			trace_id, goal_id, parent_trace_id, user_id, delegator, delegatee,
			task_description, task_characteristics, capability_token, inputs,
			outputs, thinking_trace, verification_result, approval_record,
			cost_usd, status, started_at, completed_at, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		t.TraceID,
		t.GoalID,
		t.ParentTraceID,
		t.UserID,
		t.Delegator,
		t.Delegatee,
		t.TaskDescription,
		chars,
		token,
		inputs,
		outputs,
		thinking,
		verification,
		approval,
		t.CostUSD.String(),
		string(t.Status),
		t.StartedAt.UTC().Format(time.RFC3339Nano),
		completedAt,
		t.DurationMs,
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting trace: %w", err)
	}

	s.logger.Debug("inserted trace",
		"trace_id", t.TraceID,
		"delegatee", t.Delegatee,
		"status", t.Status,
	)
	return nil
}

// UpdateTrace applies a terminal update to an existing trace row.
// Returns ErrNotFound if the row doesn't exist and ErrAlreadyTerminal if it
// has already left the dispatched state; terminal rows are never rewritten.
func (s *SQLiteStore) UpdateTrace(ctx context.Context, traceID string, upd TraceUpdate) error {
	outputs, err := jsonOrNil(upd.Outputs)
	if err != nil {
		return err
	}
	verification, err := jsonOrNil(upd.VerificationResult)
	if err != nil {
		return err
	}

	query := `
		UPDATE delegation_traces
		SET outputs = ?, verification_result = ?, cost_usd = ?, status = ?,
		    completed_at = ?, duration_ms = ?
		WHERE trace_id = ? AND status = 'dispatched'
	`

	result, err := s.db.ExecContext(ctx, query,
		outputs,
		verification,
		upd.CostUSD.String(),
		string(upd.Status),
		upd.CompletedAt.UTC().Format(time.RFC3339Nano),
		upd.DurationMs,
		traceID,
	)
	if err != nil {
		return fmt.Errorf("updating trace: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM delegation_traces WHERE trace_id = ?`, traceID,
		).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("checking trace existence: %w", err)
		}
		return ErrAlreadyTerminal
	}

	s.logger.Debug("updated trace", "trace_id", traceID, "status", upd.Status)
	return nil
}

const traceColumns = `
	trace_id, goal_id, parent_trace_id, user_id, delegator, delegatee,
	task_description, task_characteristics, capability_token, inputs,
	outputs, thinking_trace, verification_result, approval_record,
	cost_usd, status, started_at, completed_at, duration_ms, created_at
`

// scanTrace scans a row into a DelegationTrace.
func scanTrace(scanner interface{ Scan(dest ...any) error }) (*DelegationTrace, error) {
	var t DelegationTrace
	var chars, token, inputs, outputs, thinking, verification, approval *string
	var costStr, statusStr, startedStr, createdStr string
	var completedStr *string

	if err := scanner.Scan(
		&t.TraceID,
		&t.GoalID,
		&t.ParentTraceID,
		&t.UserID,
		&t.Delegator,
		&t.Delegatee,
		&t.TaskDescription,
		&chars,
		&token,
		&inputs,
		&outputs,
		&thinking,
		&verification,
		&approval,
		&costStr,
		&statusStr,
		&startedStr,
		&completedStr,
		&t.DurationMs,
		&createdStr,
	); err != nil {
		return nil, fmt.Errorf("scanning trace row: %w", err)
	}

	if err := unmarshalMap(chars, &t.TaskCharacteristics); err != nil {
		return nil, fmt.Errorf("unmarshaling task_characteristics: %w", err)
	}
	if err := unmarshalMap(token, &t.CapabilityToken); err != nil {
		return nil, fmt.Errorf("unmarshaling capability_token: %w", err)
	}
	if err := unmarshalMap(inputs, &t.Inputs); err != nil {
		return nil, fmt.Errorf("unmarshaling inputs: %w", err)
	}
	if err := unmarshalMap(outputs, &t.Outputs); err != nil {
		return nil, fmt.Errorf("unmarshaling outputs: %w", err)
	}
	if err := unmarshalMap(thinking, &t.ThinkingTrace); err != nil {
		return nil, fmt.Errorf("unmarshaling thinking_trace: %w", err)
	}
	if err := unmarshalMap(verification, &t.VerificationResult); err != nil {
		return nil, fmt.Errorf("unmarshaling verification_result: %w", err)
	}
	if err := unmarshalMap(approval, &t.ApprovalRecord); err != nil {
		return nil, fmt.Errorf("unmarshaling approval_record: %w", err)
	}

	cost, err := decimal.NewFromString(costStr)
	if err != nil {
		return nil, fmt.Errorf("parsing cost_usd: %w", err)
	}
	t.CostUSD = cost
	t.Status = TraceStatus(statusStr)

	t.StartedAt, err = time.Parse(time.RFC3339Nano, startedStr)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if completedStr != nil {
		ct, err := time.Parse(time.RFC3339Nano, *completedStr)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		t.CompletedAt = &ct
	}

	return &t, nil
}

// GetTrace retrieves a single trace row by id.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetTrace(ctx context.Context, traceID string) (*DelegationTrace, error) {
	query := `SELECT ` + traceColumns + ` FROM delegation_traces WHERE trace_id = ?`

	t, err := scanTrace(s.db.QueryRowContext(ctx, query, traceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying trace: %w", err)
	}
	return t, nil
}

// ListTracesByGoal returns every trace for a goal, ascending by created_at.
// Rowid breaks ties so the order is stable within one process.
func (s *SQLiteStore) ListTracesByGoal(ctx context.Context, goalID string) ([]*DelegationTrace, error) {
	query := `
		SELECT ` + traceColumns + `
		FROM delegation_traces
		WHERE goal_id = ?
		ORDER BY created_at ASC, rowid ASC
	`
	return s.queryTraces(ctx, query, goalID)
}

// ListTracesByUser returns recent traces for a user, descending by created_at.
// An empty delegatee means no delegatee filter.
func (s *SQLiteStore) ListTracesByUser(ctx context.Context, userID string, limit int, delegatee string) ([]*DelegationTrace, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}

	if delegatee != "" {
		query := `
			SELECT ` + traceColumns + `
			FROM delegation_traces
			WHERE user_id = ? AND delegatee = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		`
		return s.queryTraces(ctx, query, userID, delegatee, limit)
	}

	query := `
		SELECT ` + traceColumns + `
		FROM delegation_traces
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	return s.queryTraces(ctx, query, userID, limit)
}

// queryTraces is a helper that executes a query and scans trace rows.
func (s *SQLiteStore) queryTraces(ctx context.Context, query string, args ...any) ([]*DelegationTrace, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying traces: %w", err)
	}
	defer rows.Close()

	var traces []*DelegationTrace
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		traces = append(traces, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trace rows: %w", err)
	}
	return traces, nil
}

// insertAuditEntryTx inserts one audit entry using the given execer.
func insertAuditEntryTx(ctx context.Context, execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, e *SkillAuditEntry) error {
	requested, err := jsonSliceOrNil(e.DataClassesRequested)
	if err != nil {
		return err
	}
	granted, err := jsonSliceOrNil(e.DataClassesGranted)
	if err != nil {
		return err
	}
	tokens, err := jsonSliceOrNil(e.TokensUsed)
	if err != nil {
		return err
	}
	sandbox, err := jsonOrNil(e.SandboxConfig)
	if err != nil {
		return err
	}
	flags, err := jsonSliceOrNil(e.SecurityFlags)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO skill_audit_log (
			entry_id, user_id, tenant_id, skill_id, skill_path, skill_trust_level,
			task_id, agent_id, trigger_reason, data_classes_requested,
			data_classes_granted, data_redacted, tokens_used, input_hash,
			output_hash, execution_time_ms, success, error, sandbox_config,
			security_flags, previous_hash, entry_hash, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = execer.ExecContext(ctx, query,
		e.ID,
		e.UserID,
		e.TenantID,
		e.SkillID,
		e.SkillPath,
		e.SkillTrustLevel,
		e.TaskID,
		e.AgentID,
		e.TriggerReason,
		requested,
		granted,
		e.DataRedacted,
		tokens,
		e.InputHash,
		e.OutputHash,
		e.ExecutionTimeMs,
		e.Success,
		e.Error,
		sandbox,
		flags,
		e.PreviousHash,
		e.EntryHash,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// InsertAuditEntry appends one audit entry unconditionally.
func (s *SQLiteStore) InsertAuditEntry(ctx context.Context, e *SkillAuditEntry) error {
	if err := insertAuditEntryTx(ctx, s.db, e); err != nil {
		return err
	}
	s.logger.Debug("inserted audit entry",
		"entry_id", e.ID,
		"user_id", e.UserID,
		"skill_id", e.SkillID,
	)
	return nil
}

// InsertAuditEntryIf appends the entry only if the user's current chain head
// equals expectedPrev. An empty chain's head is GenesisHash. The check and
// insert run in one transaction so a concurrent append surfaces as
// ErrChainConflict rather than a forked chain.
func (s *SQLiteStore) InsertAuditEntryIf(ctx context.Context, e *SkillAuditEntry, expectedPrev string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	head := GenesisHash
	var latest string
	err = tx.QueryRowContext(ctx, `
		SELECT entry_hash FROM skill_audit_log
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, e.UserID).Scan(&latest)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("querying chain head: %w", err)
	}
	if err == nil {
		head = latest
	}

	if head != expectedPrev {
		return fmt.Errorf("%w: head %s, expected %s", ErrChainConflict, head, expectedPrev)
	}

	if err := insertAuditEntryTx(ctx, tx, e); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing audit entry: %w", err)
	}

	s.logger.Debug("appended audit entry",
		"entry_id", e.ID,
		"user_id", e.UserID,
		"previous_hash", e.PreviousHash,
	)
	return nil
}

// LatestAuditHash returns the entry_hash of the user's most recent entry.
// Returns ErrNotFound when the user has no entries yet.
func (s *SQLiteStore) LatestAuditHash(ctx context.Context, userID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT entry_hash FROM skill_audit_log
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, userID).Scan(&hash)

	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying latest audit hash: %w", err)
	}
	return hash, nil
}

// ListAuditEntries returns all entries for a user in insertion order.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, userID string) ([]*SkillAuditEntry, error) {
	query := `
		SELECT entry_id, user_id, tenant_id, skill_id, skill_path, skill_trust_level,
		       task_id, agent_id, trigger_reason, data_classes_requested,
		       data_classes_granted, data_redacted, tokens_used, input_hash,
		       output_hash, execution_time_ms, success, error, sandbox_config,
		       security_flags, previous_hash, entry_hash, created_at
		FROM skill_audit_log
		WHERE user_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*SkillAuditEntry
	for rows.Next() {
		var e SkillAuditEntry
		var requested, granted, tokens, sandbox, flags *string
		var createdStr string

		if err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.TenantID,
			&e.SkillID,
			&e.SkillPath,
			&e.SkillTrustLevel,
			&e.TaskID,
			&e.AgentID,
			&e.TriggerReason,
			&requested,
			&granted,
			&e.DataRedacted,
			&tokens,
			&e.InputHash,
			&e.OutputHash,
			&e.ExecutionTimeMs,
			&e.Success,
			&e.Error,
			&sandbox,
			&flags,
			&e.PreviousHash,
			&e.EntryHash,
			&createdStr,
		); err != nil {
			return nil, fmt.Errorf("scanning audit entry row: %w", err)
		}

		if err := unmarshalSlice(requested, &e.DataClassesRequested); err != nil {
			return nil, fmt.Errorf("unmarshaling data_classes_requested: %w", err)
		}
		if err := unmarshalSlice(granted, &e.DataClassesGranted); err != nil {
			return nil, fmt.Errorf("unmarshaling data_classes_granted: %w", err)
		}
		if err := unmarshalSlice(tokens, &e.TokensUsed); err != nil {
			return nil, fmt.Errorf("unmarshaling tokens_used: %w", err)
		}
		if err := unmarshalMap(sandbox, &e.SandboxConfig); err != nil {
			return nil, fmt.Errorf("unmarshaling sandbox_config: %w", err)
		}
		if err := unmarshalSlice(flags, &e.SecurityFlags); err != nil {
			return nil, fmt.Errorf("unmarshaling security_flags: %w", err)
		}

		e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entry rows: %w", err)
	}
	return entries, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
