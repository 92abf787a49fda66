// ABOUTME: Tests for challenge issuance and consumption
// ABOUTME: Covers kind policy, bad proofs, expiry, replay, and kind mismatch

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddudl/agentgate/internal/pow"
	"github.com/ddudl/agentgate/internal/store"
)

func TestChallenges_IssueAppliesKindPolicy(t *testing.T) {
	h := setupTestAuth(t)
	ctx := context.Background()

	reg, err := h.challenges.Issue(ctx, store.KindRegister)
	require.NoError(t, err)
	act, err := h.challenges.Issue(ctx, store.KindAction)
	require.NoError(t, err)

	assert.Equal(t, "sha256", reg.Algorithm)
	assert.Len(t, reg.Prefix, 16)
	assert.NotEqual(t, reg.Prefix, act.Prefix)

	// Register challenges outlive action challenges
	assert.Equal(t, 30*time.Minute, reg.ExpiresAt.Sub(reg.IssuedAt))
	assert.Equal(t, 10*time.Minute, act.ExpiresAt.Sub(act.IssuedAt))
}

func TestChallenges_IssueRejectsUnknownKind(t *testing.T) {
	h := setupTestAuth(t)

	_, err := h.challenges.Issue(context.Background(), store.ChallengeKind("login"))
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestChallenges_ConsumeValidProof(t *testing.T) {
	h := setupTestAuth(t)
	ctx := context.Background()

	ch, err := h.challenges.Issue(ctx, store.KindAction)
	require.NoError(t, err)

	nonce := pow.Solve(ch.Prefix, ch.Difficulty)
	consumed, err := h.challenges.Consume(ctx, ch.ID, nonce, store.KindAction)
	require.NoError(t, err)
	assert.Equal(t, ch.ID, consumed.ID)
}

func TestChallenges_BadProofLeavesChallengeSpendable(t *testing.T) {
	h := setupTestAuth(t)
	ctx := context.Background()

	ch, err := h.challenges.Issue(ctx, store.KindAction)
	require.NoError(t, err)

	_, err = h.challenges.Consume(ctx, ch.ID, "not-a-proof", store.KindAction)
	assert.ErrorIs(t, err, ErrInvalidProof)

	// The failed attempt did not burn the challenge
	nonce := pow.Solve(ch.Prefix, ch.Difficulty)
	_, err = h.challenges.Consume(ctx, ch.ID, nonce, store.KindAction)
	require.NoError(t, err)
}

func TestChallenges_ConsumeTwice(t *testing.T) {
	h := setupTestAuth(t)
	ctx := context.Background()

	ch, err := h.challenges.Issue(ctx, store.KindAction)
	require.NoError(t, err)

	nonce := pow.Solve(ch.Prefix, ch.Difficulty)
	_, err = h.challenges.Consume(ctx, ch.ID, nonce, store.KindAction)
	require.NoError(t, err)

	_, err = h.challenges.Consume(ctx, ch.ID, nonce, store.KindAction)
	assert.ErrorIs(t, err, ErrChallengeConsumed)
}

func TestChallenges_ConsumeExpired(t *testing.T) {
	h := setupTestAuth(t)
	ctx := context.Background()

	ch, err := h.challenges.Issue(ctx, store.KindAction)
	require.NoError(t, err)
	nonce := pow.Solve(ch.Prefix, ch.Difficulty)

	h.clock.Advance(10*time.Minute + time.Second)

	_, err = h.challenges.Consume(ctx, ch.ID, nonce, store.KindAction)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestChallenges_KindMismatchLooksLikeUnknown(t *testing.T) {
	h := setupTestAuth(t)
	ctx := context.Background()

	ch, err := h.challenges.Issue(ctx, store.KindAction)
	require.NoError(t, err)
	nonce := pow.Solve(ch.Prefix, ch.Difficulty)

	// An action challenge cannot buy a registration
	_, err = h.challenges.Consume(ctx, ch.ID, nonce, store.KindRegister)
	assert.ErrorIs(t, err, ErrChallengeNotFound)

	// And the mismatch attempt did not burn it
	_, err = h.challenges.Consume(ctx, ch.ID, nonce, store.KindAction)
	require.NoError(t, err)
}

func TestChallenges_ConsumeUnknownID(t *testing.T) {
	h := setupTestAuth(t)

	_, err := h.challenges.Consume(context.Background(), "no-such-id", "0", store.KindAction)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}
