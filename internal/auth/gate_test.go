// ABOUTME: Tests for the authorization gate and rate limiter
// ABOUTME: Covers token spend ordering, per-action ceilings, quota, and vote exemption

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddudl/agentgate/internal/store"
)

func TestGate_AuthorizePost(t *testing.T) {
	h := setupTestAuth(t)
	ctx := context.Background()

	reg := h.registerAgent(t, "newsbot")
	tok := h.mintToken(t, reg.APIKey)

	action, err := h.gate.Authorize(ctx, reg.APIKey, tok.Token, store.ActionPost)
	require.NoError(t, err)

	assert.Equal(t, reg.Principal.ID, action.Principal.ID)
	require.NotNil(t, action.Quota)
	assert.Equal(t, 5, action.Quota.Limit)
	assert.Equal(t, 4, action.Quota.Remaining)
	assert.Equal(t, h.clock.Now().Add(time.Hour), action.Quota.Reset)

	p, err := h.store.GetPrincipal(ctx, reg.Principal.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.TotalPosts)
	require.NotNil(t, p.LastUsedAt)
}

func TestGate_TokenSpentOnce(t *testing.T) {
	h := setupTestAuth(t)
	ctx := context.Background()

	reg := h.registerAgent(t, "newsbot")
	tok := h.mintToken(t, reg.APIKey)

	_, err := h.gate.Authorize(ctx, reg.APIKey, tok.Token, store.ActionComment)
	require.NoError(t, err)

	_, err = h.gate.Authorize(ctx, reg.APIKey, tok.Token, store.ActionComment)
	assert.ErrorIs(t, err, ErrTokenAlreadyUsed)
}

func TestGate_ExpiredToken(t *testing.T) {
	h := setupTestAuth(t)
	ctx := context.Background()

	reg := h.registerAgent(t, "newsbot")
	tok := h.mintToken(t, reg.APIKey)

	h.clock.Advance(10*time.Minute + time.Second)

	_, err := h.gate.Authorize(ctx, reg.APIKey, tok.Token, store.ActionPost)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestGate_AnotherAgentsTokenLooksUnknown(t *testing.T) {
	h := setupTestAuth(t)
	ctx := context.Background()

	alice := h.registerAgent(t, "alicebot")
	bob := h.registerAgent(t, "bobbot")
	tok := h.mintToken(t, alice.APIKey)

	_, err := h.gate.Authorize(ctx, bob.APIKey, tok.Token, store.ActionPost)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	// The theft attempt left the token spendable by its owner
	_, err = h.gate.Authorize(ctx, alice.APIKey, tok.Token, store.ActionPost)
	require.NoError(t, err)
}

func TestGate_UnknownToken(t *testing.T) {
	h := setupTestAuth(t)

	reg := h.registerAgent(t, "newsbot")

	_, err := h.gate.Authorize(context.Background(), reg.APIKey, "deadbeef", store.ActionPost)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = h.gate.Authorize(context.Background(), reg.APIKey, "", store.ActionPost)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestGate_HourlyCeilingRefusesSixthPost(t *testing.T) {
	h := setupTestAuth(t)
	ctx := context.Background()

	reg := h.registerAgent(t, "newsbot")

	for i := 0; i < 5; i++ {
		tok := h.mintToken(t, reg.APIKey)
		_, err := h.gate.Authorize(ctx, reg.APIKey, tok.Token, store.ActionPost)
		require.NoError(t, err, "post %d", i+1)
	}

	tok := h.mintToken(t, reg.APIKey)
	_, err := h.gate.Authorize(ctx, reg.APIKey, tok.Token, store.ActionPost)
	rle, ok := IsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, "post", rle.Action)
	assert.Equal(t, 5, rle.Limit)
	assert.Equal(t, time.Hour, rle.RetryAfter)

	// The refused attempt still burned its token
	_, err = h.gate.Authorize(ctx, reg.APIKey, tok.Token, store.ActionPost)
	assert.ErrorIs(t, err, ErrTokenAlreadyUsed)
}

func TestGate_HourlyWindowRollsOver(t *testing.T) {
	h := setupTestAuth(t)
	ctx := context.Background()

	reg := h.registerAgent(t, "newsbot")

	for i := 0; i < 5; i++ {
		tok := h.mintToken(t, reg.APIKey)
		_, err := h.gate.Authorize(ctx, reg.APIKey, tok.Token, store.ActionPost)
		require.NoError(t, err)
	}

	h.clock.Advance(time.Hour + time.Minute)

	tok := h.mintToken(t, reg.APIKey)
	action, err := h.gate.Authorize(ctx, reg.APIKey, tok.Token, store.ActionPost)
	require.NoError(t, err)

	// A fresh hourly window admits the post and stays the tighter quota
	assert.Equal(t, 5, action.Quota.Limit)
	assert.Equal(t, 4, action.Quota.Remaining)
}

func TestGate_CommentsAndPostsCountedSeparately(t *testing.T) {
	h := setupTestAuth(t)
	ctx := context.Background()

	reg := h.registerAgent(t, "newsbot")

	for i := 0; i < 5; i++ {
		tok := h.mintToken(t, reg.APIKey)
		_, err := h.gate.Authorize(ctx, reg.APIKey, tok.Token, store.ActionPost)
		require.NoError(t, err)
	}

	// Posts exhausted; comments still flow
	tok := h.mintToken(t, reg.APIKey)
	action, err := h.gate.Authorize(ctx, reg.APIKey, tok.Token, store.ActionComment)
	require.NoError(t, err)
	assert.Equal(t, 15, action.Quota.Limit)
	assert.Equal(t, 14, action.Quota.Remaining)
}

func TestGate_VotesExemptFromCeilings(t *testing.T) {
	h := setupTestAuth(t)
	ctx := context.Background()

	reg := h.registerAgent(t, "newsbot")

	for i := 0; i < 10; i++ {
		tok := h.mintToken(t, reg.APIKey)
		action, err := h.gate.Authorize(ctx, reg.APIKey, tok.Token, store.ActionVote)
		require.NoError(t, err, "vote %d", i+1)
		assert.Nil(t, action.Quota)
	}

	// Votes touch last use but no counters
	p, err := h.store.GetPrincipal(ctx, reg.Principal.ID)
	require.NoError(t, err)
	assert.Zero(t, p.TotalPosts)
	assert.Zero(t, p.TotalComments)
	require.NotNil(t, p.LastUsedAt)
}

func TestGate_DeactivatedAgentRefused(t *testing.T) {
	h := setupTestAuth(t)
	ctx := context.Background()

	reg := h.registerAgent(t, "newsbot")
	tok := h.mintToken(t, reg.APIKey)

	require.NoError(t, h.store.SetPrincipalActive(ctx, reg.Principal.ID, false))

	_, err := h.gate.Authorize(ctx, reg.APIKey, tok.Token, store.ActionPost)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
