// ABOUTME: Tests for admin agent management
// ABOUTME: Covers listing, activation toggles, and the audit trail

package admin

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddudl/agentgate/internal/store"
)

func setupTestService(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(st, logger), st
}

func seedAgent(t *testing.T, st *store.SQLiteStore, id, name string) {
	t.Helper()
	require.NoError(t, st.CreatePrincipal(context.Background(), &store.Principal{
		ID:         id,
		APIKeyHash: "hash-" + id,
		Username:   name,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}))
}

func TestService_ListAgents(t *testing.T) {
	svc, st := setupTestService(t)

	seedAgent(t, st, "a1", "alicebot")
	seedAgent(t, st, "a2", "bobbot")

	agents, err := svc.ListAgents(context.Background())
	require.NoError(t, err)
	assert.Len(t, agents, 2)
}

func TestService_SetAgentActive(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()

	seedAgent(t, st, "a1", "alicebot")

	require.NoError(t, svc.SetAgentActive(ctx, "ops@ddudl", "a1", false))

	agent, err := svc.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, agent.Active)

	require.NoError(t, svc.SetAgentActive(ctx, "ops@ddudl", "a1", true))

	agent, err = svc.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, agent.Active)

	entries, err := svc.AuditLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, store.AuditActivateAgent, entries[0].Action)
	assert.Equal(t, store.AuditDeactivateAgent, entries[1].Action)
	assert.Equal(t, "ops@ddudl", entries[0].Actor)
}

func TestService_SetAgentActive_Unknown(t *testing.T) {
	svc, _ := setupTestService(t)

	err := svc.SetAgentActive(context.Background(), "ops@ddudl", "nope", false)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
