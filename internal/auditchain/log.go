// ABOUTME: Hash-chained audit log service with plain and strict append paths
// ABOUTME: LatestHash fails open to genesis; VerifyChain recomputes every hash to detect tampering

package auditchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"

	"github.com/2389/warrant/internal/store"
)

// hashHexLen is the length of a rendered SHA-256 hash.
const hashHexLen = 64

// appendAttempts bounds strict-append retries on chain conflicts.
const appendAttempts = 3

// ErrHashNotSet is returned by LogExecution when the caller didn't set both
// hash fields before logging.
var ErrHashNotSet = errors.New("entry hash fields not set")

// Log records skill executions in a per-user hash chain.
type Log struct {
	store  store.AuditStore
	logger *slog.Logger

	mu      sync.Mutex
	userMus map[string]*sync.Mutex
}

// NewLog creates an audit log over the given store.
func NewLog(as store.AuditStore, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		store:   as,
		logger:  logger.With("component", "auditchain"),
		userMus: make(map[string]*sync.Mutex),
	}
}

// LatestHash returns the entry_hash of the user's most recent entry, or the
// genesis value for an empty chain. Read failures also fall back to genesis
// so a brief storage outage never blocks new writes; the drift a fallback can
// introduce is deterministically caught later by VerifyChain.
func (l *Log) LatestHash(ctx context.Context, userID string) string {
	hash, err := l.store.LatestAuditHash(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.GenesisHash
	}
	if err != nil {
		l.logger.Warn("reading latest audit hash failed, falling back to genesis",
			"user_id", userID,
			"error", err,
		)
		return store.GenesisHash
	}
	return hash
}

// LogExecution inserts one entry whose PreviousHash and EntryHash the caller
// has already computed (via LatestHash and ComputeEntryHash). Generates the
// id and timestamp if unset. Returns a *store.PersistenceError when the
// insert cannot be performed.
func (l *Log) LogExecution(ctx context.Context, e *store.SkillAuditEntry) error {
	if len(e.PreviousHash) != hashHexLen || len(e.EntryHash) != hashHexLen {
		return fmt.Errorf("%w: previous_hash and entry_hash must be %d hex chars", ErrHashNotSet, hashHexLen)
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if err := l.store.InsertAuditEntry(ctx, e); err != nil {
		return &store.PersistenceError{Op: "log execution", Err: err}
	}

	l.logger.Debug("logged execution",
		"entry_id", e.ID,
		"user_id", e.UserID,
		"skill_id", e.SkillID,
		"success", e.Success,
	)
	return nil
}

// Append is the strict write path: it computes both hashes itself, serializes
// appends per user, and inserts conditionally on the chain head it read.
// A conflicting concurrent append (possible when another process writes the
// same user's chain) is retried with fresh hashes instead of forking the chain.
func (l *Log) Append(ctx context.Context, e *store.SkillAuditEntry) error {
	userMu := l.userMutex(e.UserID)
	userMu.Lock()
	defer userMu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(appendAttempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, store.ErrChainConflict)
		}),
	)

	err := r.Do(func() error {
		prev := l.LatestHash(ctx, e.UserID)
		entryHash, err := ComputeEntryHash(e, prev)
		if err != nil {
			return err
		}
		e.PreviousHash = prev
		e.EntryHash = entryHash
		e.CreatedAt = time.Now().UTC()

		return l.store.InsertAuditEntryIf(ctx, e, prev)
	})
	if err != nil {
		if errors.Is(err, store.ErrChainConflict) {
			return fmt.Errorf("appending audit entry: %w", err)
		}
		return &store.PersistenceError{Op: "append audit entry", Err: err}
	}

	l.logger.Debug("appended audit entry",
		"entry_id", e.ID,
		"user_id", e.UserID,
		"skill_id", e.SkillID,
	)
	return nil
}

// VerifyChain walks the user's entries in insertion order and recomputes
// every hash. An empty chain is valid. Returns false on the first broken
// link: either a previous_hash that doesn't match the running head, or a
// stored entry_hash that doesn't match the recomputation.
func (l *Log) VerifyChain(ctx context.Context, userID string) (bool, error) {
	entries, err := l.store.ListAuditEntries(ctx, userID)
	if err != nil {
		return false, &store.PersistenceError{Op: "verify chain", Err: err}
	}

	expected := store.GenesisHash
	for i, e := range entries {
		if e.PreviousHash != expected {
			l.logger.Warn("audit chain broken: previous_hash mismatch",
				"user_id", userID,
				"index", i,
				"entry_id", e.ID,
			)
			return false, nil
		}

		recomputed, err := ComputeEntryHash(e, expected)
		if err != nil {
			return false, fmt.Errorf("recomputing entry hash: %w", err)
		}
		if recomputed != e.EntryHash {
			l.logger.Warn("audit chain broken: entry_hash mismatch",
				"user_id", userID,
				"index", i,
				"entry_id", e.ID,
			)
			return false, nil
		}

		expected = e.EntryHash
	}
	return true, nil
}

// userMutex returns the append mutex for a user, creating it on first use.
func (l *Log) userMutex(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	mu, ok := l.userMus[userID]
	if !ok {
		mu = &sync.Mutex{}
		l.userMus[userID] = mu
	}
	return mu
}
