// ABOUTME: Delegation capability token with permission, scope, and validity queries
// ABOUTME: Tokens are immutable after minting; deny patterns always win and expiry is strict

package capability

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTimeLimit is the token lifetime used when the caller doesn't supply one.
const DefaultTimeLimit = 300 * time.Second

// wildcardSuffixes are the pattern suffixes that turn a pattern into a prefix
// match. The prefix must be non-empty: a bare "_everything" never matches.
var wildcardSuffixes = []string{"_everything", "_anything"}

// Token is a delegation capability token (DCT): the authority one delegation
// carries. Only the Minter constructs tokens; treat all fields as read-only.
type Token struct {
	ID        string
	Delegatee string // original delegatee string, not normalized
	GoalID    string // empty when the delegation has no goal

	AllowedActions []string
	DeniedActions  []string

	// DataScope restricts which IDs may be touched per data type. A type
	// absent from the map is unrestricted.
	DataScope map[string][]string

	TimeLimit time.Duration
	CreatedAt time.Time
}

// ViolationError reports a denied or expired capability. The message names
// the delegatee and the action so audit review doesn't see a bare "forbidden".
type ViolationError struct {
	Delegatee string
	Action    string
	Reason    string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("capability violation: %s may not perform %q: %s", e.Delegatee, e.Action, e.Reason)
}

// CanPerform reports whether the token authorizes the action.
// Denied patterns are checked first and win unconditionally; anything not
// explicitly allowed is denied.
func (t *Token) CanPerform(action string) bool {
	if matchesAny(t.DeniedActions, action) {
		return false
	}
	return matchesAny(t.AllowedActions, action)
}

// matchesAny reports whether any pattern matches the action, exactly or by
// wildcard prefix ("read_everything" matches "read_exa").
func matchesAny(patterns []string, action string) bool {
	for _, p := range patterns {
		if p == action {
			return true
		}
		for _, suffix := range wildcardSuffixes {
			if !strings.HasSuffix(p, suffix) {
				continue
			}
			prefix := strings.TrimSuffix(p, suffix)
			if prefix == "" {
				continue // bare "_everything" is not a universal wildcard
			}
			if strings.HasPrefix(action, prefix+"_") {
				return true
			}
		}
	}
	return false
}

// WithinScope reports whether the token may touch the given ID of the given
// data type. A type with no scope entry is unrestricted.
func (t *Token) WithinScope(dataType, dataID string) bool {
	ids, restricted := t.DataScope[dataType]
	if !restricted {
		return true
	}
	for _, id := range ids {
		if id == dataID {
			return true
		}
	}
	return false
}

// IsValid reports whether the token is still within its time limit.
func (t *Token) IsValid() bool {
	return t.IsValidAt(time.Now())
}

// IsValidAt reports validity at an explicit instant. Age strictly less than
// the limit is valid; age equal to the limit is already expired.
func (t *Token) IsValidAt(now time.Time) bool {
	return now.Sub(t.CreatedAt) < t.TimeLimit
}

// Snapshot renders the token as a plain map for persistence in trace rows and
// for pass-through to external tool servers. Keys follow the stored row
// contract, so don't rename them casually.
func (t *Token) Snapshot() map[string]any {
	scope := make(map[string]any, len(t.DataScope))
	for k, ids := range t.DataScope {
		scope[k] = append([]string(nil), ids...)
	}

	goalID := any(nil)
	if t.GoalID != "" {
		goalID = t.GoalID
	}

	return map[string]any{
		"token_id":           t.ID,
		"delegatee":          t.Delegatee,
		"goal_id":            goalID,
		"allowed_actions":    append([]string(nil), t.AllowedActions...),
		"denied_actions":     append([]string(nil), t.DeniedActions...),
		"data_scope":         scope,
		"time_limit_seconds": int64(t.TimeLimit / time.Second),
		"created_at":         t.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
