// ABOUTME: Shared test harness for the authorization protocol services
// ABOUTME: Wires real SQLite storage with an adjustable clock and cheap proofs

package auth

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ddudl/agentgate/internal/config"
	"github.com/ddudl/agentgate/internal/pow"
	"github.com/ddudl/agentgate/internal/store"
)

// testClock is a manual clock the tests advance explicitly.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testHarness struct {
	store      *store.SQLiteStore
	clock      *testClock
	challenges *Challenges
	registry   *Registry
	issuer     *Issuer
	limiter    *Limiter
	gate       *Gate
}

// testConfig uses difficulty 1 so proofs mine in a handful of hashes.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.PoW.Register.Difficulty = 1
	cfg.PoW.Action.Difficulty = 1
	return cfg
}

func setupTestAuth(t *testing.T) *testHarness {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := newTestClock()

	challenges := NewChallenges(st, cfg.PoW, logger)
	challenges.now = clock.Now

	registry := NewRegistry(st, challenges, logger)
	registry.now = clock.Now

	issuer := NewIssuer(st, challenges, registry, cfg.Tokens.TTL, logger)
	issuer.now = clock.Now

	limiter := NewLimiter(st, cfg.Limits, logger)
	limiter.now = clock.Now

	gate := NewGate(st, registry, limiter, logger)
	gate.now = clock.Now

	return &testHarness{
		store:      st,
		clock:      clock,
		challenges: challenges,
		registry:   registry,
		issuer:     issuer,
		limiter:    limiter,
		gate:       gate,
	}
}

// registerAgent mines a registration proof and registers an agent,
// returning its plaintext API key.
func (h *testHarness) registerAgent(t *testing.T, name string) *Registration {
	t.Helper()

	ch, err := h.challenges.Issue(context.Background(), store.KindRegister)
	require.NoError(t, err)

	nonce := pow.Solve(ch.Prefix, ch.Difficulty)
	reg, err := h.registry.Register(context.Background(), ch.ID, nonce, name, "")
	require.NoError(t, err)

	return reg
}

// mintToken mines an action proof and exchanges it for a token.
func (h *testHarness) mintToken(t *testing.T, apiKey string) *IssuedToken {
	t.Helper()

	ch, err := h.challenges.Issue(context.Background(), store.KindAction)
	require.NoError(t, err)

	nonce := pow.Solve(ch.Prefix, ch.Difficulty)
	tok, err := h.issuer.Verify(context.Background(), apiKey, ch.ID, nonce)
	require.NoError(t, err)

	return tok
}
