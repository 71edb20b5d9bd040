// ABOUTME: Tests for minting capability tokens from permission profiles
// ABOUTME: Covers delegatee normalization, scope merging, list isolation, and unknown agents

package capability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinter_Mint_HunterDefaults(t *testing.T) {
	minter := NewMinter(DefaultProfiles(), nil)

	token, err := minter.Mint("hunter", MintOptions{})
	require.NoError(t, err)

	assert.True(t, token.CanPerform("read_exa"))
	assert.False(t, token.CanPerform("send_email"), "hunters are explicitly denied send_email")
	assert.NotEmpty(t, token.ID)
	assert.Equal(t, DefaultTimeLimit, token.TimeLimit)
}

func TestMinter_Mint_NormalizesDelegatee(t *testing.T) {
	minter := NewMinter(DefaultProfiles(), nil)

	token, err := minter.Mint("  Verifier agent  ", MintOptions{})
	require.NoError(t, err)

	// Normalization feeds the profile lookup; the token keeps the original.
	assert.Equal(t, "  Verifier agent  ", token.Delegatee)
	assert.True(t, token.CanPerform("read_anything_at_all"))
	assert.False(t, token.CanPerform("write_x"))
}

func TestMinter_Mint_UnknownAgent(t *testing.T) {
	minter := NewMinter(DefaultProfiles(), nil)

	_, err := minter.Mint("astrologer", MintOptions{})
	require.Error(t, err)

	var unknown *UnknownAgentError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "astrologer", unknown.Delegatee)
	assert.Contains(t, unknown.Known, "hunter")
	assert.Contains(t, unknown.Known, "verifier")
	assert.Contains(t, err.Error(), "hunter", "the error message lists known agent types")
}

func TestMinter_Mint_MergesAdditionalScope(t *testing.T) {
	minter := NewMinter(DefaultProfiles(), nil)

	token, err := minter.Mint("hunter", MintOptions{
		GoalID: "goal-7",
		Scope: &AdditionalScope{
			AllowedActions: []string{"read_internal_db"},
			DeniedActions:  []string{"read_exa"},
			DataScope:      map[string][]string{"lead": {"lead-1"}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "goal-7", token.GoalID)
	assert.True(t, token.CanPerform("read_internal_db"))
	assert.False(t, token.CanPerform("read_exa"), "caller-supplied denies apply on top of the profile")
	assert.True(t, token.WithinScope("lead", "lead-1"))
	assert.False(t, token.WithinScope("lead", "lead-2"))
}

func TestMinter_Mint_CopiesProfileLists(t *testing.T) {
	profiles := Profiles{
		"hunter": {
			Allowed: []string{"read_exa"},
			Denied:  []string{"send_email"},
		},
	}
	minter := NewMinter(profiles, nil)

	token, err := minter.Mint("hunter", MintOptions{
		Scope: &AdditionalScope{AllowedActions: []string{"read_crm"}},
	})
	require.NoError(t, err)

	// The registry's slices must be untouched by the merge.
	assert.Equal(t, []string{"read_exa"}, profiles["hunter"].Allowed)

	// And mutating the token's list must not reach the registry.
	token.AllowedActions[0] = "mutated"
	assert.Equal(t, "read_exa", profiles["hunter"].Allowed[0])
}

func TestMinter_Mint_TimeLimits(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	minter := NewMinter(DefaultProfiles(), nil,
		WithDefaultTimeLimit(60*time.Second),
		WithClock(func() time.Time { return created }),
	)

	token, err := minter.Mint("hunter", MintOptions{})
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, token.TimeLimit)
	assert.Equal(t, created, token.CreatedAt)

	token, err = minter.Mint("hunter", MintOptions{TimeLimit: 10 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, token.TimeLimit)
	assert.True(t, token.IsValidAt(created.Add(9*time.Second)))
	assert.False(t, token.IsValidAt(created.Add(10*time.Second)))
}

func TestNormalizeAgentType(t *testing.T) {
	assert.Equal(t, "hunter", NormalizeAgentType("Hunter"))
	assert.Equal(t, "verifier", NormalizeAgentType("  Verifier agent  "))
	assert.Equal(t, "enricher", NormalizeAgentType("enricher\tworker pool"))
	assert.Equal(t, "", NormalizeAgentType("   "))
}

func TestProfiles_AgentTypes_Sorted(t *testing.T) {
	types := DefaultProfiles().AgentTypes()

	require.NotEmpty(t, types)
	for i := 1; i < len(types); i++ {
		assert.Less(t, types[i-1], types[i])
	}
}
