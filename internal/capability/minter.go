// ABOUTME: Minter issues capability tokens from injected permission profiles
// ABOUTME: Normalizes the delegatee for profile lookup and deep-copies every permission list

package capability

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UnknownAgentError is returned when minting for a delegatee whose normalized
// agent type has no profile. Known lists every valid agent-type key.
type UnknownAgentError struct {
	Delegatee string
	Known     []string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent type %q (known: %s)", e.Delegatee, strings.Join(e.Known, ", "))
}

// AdditionalScope carries caller-supplied extras merged into a minted token
// on top of the profile's lists.
type AdditionalScope struct {
	AllowedActions []string
	DeniedActions  []string
	DataScope      map[string][]string
}

// MintOptions configures a single mint. The zero value mints a goal-less
// token with the default time limit and no extra scope.
type MintOptions struct {
	GoalID    string
	Scope     *AdditionalScope
	TimeLimit time.Duration // 0 means the minter default
}

// Minter issues delegation capability tokens from an immutable profile set.
type Minter struct {
	profiles  Profiles
	timeLimit time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// MinterOption customizes a Minter.
type MinterOption func(*Minter)

// WithDefaultTimeLimit overrides the default token lifetime.
func WithDefaultTimeLimit(d time.Duration) MinterOption {
	return func(m *Minter) { m.timeLimit = d }
}

// WithClock overrides the minter's time source. For tests.
func WithClock(now func() time.Time) MinterOption {
	return func(m *Minter) { m.now = now }
}

// NewMinter creates a Minter over the given profiles. The profiles value is
// shared, never copied wholesale: Mint deep-copies the individual lists it
// puts into tokens, so the registry's own slices are never handed out.
func NewMinter(profiles Profiles, logger *slog.Logger, opts ...MinterOption) *Minter {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Minter{
		profiles:  profiles,
		timeLimit: DefaultTimeLimit,
		logger:    logger.With("component", "minter"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mint issues a token for the delegatee. The delegatee is normalized only for
// the profile lookup; the token keeps the original string. Returns an
// UnknownAgentError when no profile matches.
func (m *Minter) Mint(delegatee string, opts MintOptions) (*Token, error) {
	key := NormalizeAgentType(delegatee)
	profile, ok := m.profiles[key]
	if !ok {
		return nil, &UnknownAgentError{
			Delegatee: delegatee,
			Known:     m.profiles.AgentTypes(),
		}
	}

	allowed := append([]string(nil), profile.Allowed...)
	denied := append([]string(nil), profile.Denied...)
	dataScope := make(map[string][]string)

	if opts.Scope != nil {
		allowed = append(allowed, opts.Scope.AllowedActions...)
		denied = append(denied, opts.Scope.DeniedActions...)
		for dataType, ids := range opts.Scope.DataScope {
			dataScope[dataType] = append(dataScope[dataType], ids...)
		}
	}

	timeLimit := opts.TimeLimit
	if timeLimit == 0 {
		timeLimit = m.timeLimit
	}

	token := &Token{
		ID:             uuid.New().String(),
		Delegatee:      delegatee,
		GoalID:         opts.GoalID,
		AllowedActions: allowed,
		DeniedActions:  denied,
		DataScope:      dataScope,
		TimeLimit:      timeLimit,
		CreatedAt:      m.now(),
	}

	m.logger.Debug("minted capability token",
		"token_id", token.ID,
		"delegatee", delegatee,
		"agent_type", key,
		"goal_id", opts.GoalID,
		"time_limit", timeLimit,
	)
	return token, nil
}
