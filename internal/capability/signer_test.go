// ABOUTME: Tests for HS256 signing and verification of capability tokens
// ABOUTME: Covers round trips, wrong secrets, expiry, and garbage input

package capability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testToken(createdAt time.Time) *Token {
	return &Token{
		ID:             "tok-1",
		Delegatee:      "hunter",
		GoalID:         "goal-1",
		AllowedActions: []string{"read_exa"},
		DeniedActions:  []string{"send_email"},
		TimeLimit:      300 * time.Second,
		CreatedAt:      createdAt,
	}
}

func TestSigner_RoundTrip(t *testing.T) {
	signer := NewSigner([]byte("test-secret"))
	token := testToken(time.Now())

	signed, err := signer.Sign(token)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := signer.Verify(signed)
	require.NoError(t, err)

	assert.Equal(t, "tok-1", claims["jti"])
	assert.Equal(t, "hunter", claims["sub"])
	assert.Equal(t, "goal-1", claims["goal_id"])
	assert.Equal(t, float64(300), claims["time_limit_seconds"])
}

func TestSigner_WrongSecret(t *testing.T) {
	signer := NewSigner([]byte("test-secret"))
	other := NewSigner([]byte("different-secret"))

	signed, err := signer.Sign(testToken(time.Now()))
	require.NoError(t, err)

	_, err = other.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidSignedToken)
}

func TestSigner_Expired(t *testing.T) {
	signer := NewSigner([]byte("test-secret"))

	signed, err := signer.Sign(testToken(time.Now().Add(-10 * time.Minute)))
	require.NoError(t, err)

	_, err = signer.Verify(signed)
	assert.ErrorIs(t, err, ErrExpiredSignedToken)
}

func TestSigner_Garbage(t *testing.T) {
	signer := NewSigner([]byte("test-secret"))

	_, err := signer.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidSignedToken)
}

func TestSigner_OmitsEmptyGoal(t *testing.T) {
	signer := NewSigner([]byte("test-secret"))
	token := testToken(time.Now())
	token.GoalID = ""

	signed, err := signer.Sign(token)
	require.NoError(t, err)

	claims, err := signer.Verify(signed)
	require.NoError(t, err)
	assert.NotContains(t, claims, "goal_id")
}
