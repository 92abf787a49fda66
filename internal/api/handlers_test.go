// ABOUTME: End-to-end HTTP tests for the public agent-facing endpoints
// ABOUTME: Drives the real handler stack from challenge to gated write

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddudl/agentgate/internal/config"
	"github.com/ddudl/agentgate/internal/pow"
	"github.com/ddudl/agentgate/internal/store"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.PoW.Register.Difficulty = 1
	cfg.PoW.Action.Difficulty = 1
	cfg.Admin.JWTSecret = "test-admin-secret"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(cfg, st, logger)
}

func doJSON(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

// registerViaHTTP walks the full registration flow and returns the API key.
func registerViaHTTP(t *testing.T, srv *Server, name string) string {
	t.Helper()

	rec := doJSON(t, srv, http.MethodPost, "/challenge", map[string]string{"type": "register"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var ch challengeResponse
	decodeBody(t, rec, &ch)

	rec = doJSON(t, srv, http.MethodPost, "/register", map[string]string{
		"challengeId": ch.ChallengeID,
		"nonce":       pow.Solve(ch.Prefix, ch.Difficulty),
		"username":    name,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var reg registerResponse
	decodeBody(t, rec, &reg)
	return reg.APIKey
}

// mintTokenViaHTTP walks the action flow and returns a spendable token.
func mintTokenViaHTTP(t *testing.T, srv *Server, apiKey string) string {
	t.Helper()

	rec := doJSON(t, srv, http.MethodPost, "/challenge", map[string]string{"type": "action"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var ch challengeResponse
	decodeBody(t, rec, &ch)

	rec = doJSON(t, srv, http.MethodPost, "/verify", map[string]string{
		"challengeId": ch.ChallengeID,
		"nonce":       pow.Solve(ch.Prefix, ch.Difficulty),
	}, map[string]string{headerAgentKey: apiKey})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var tok verifyResponse
	decodeBody(t, rec, &tok)
	return tok.Token
}

func TestChallenge_IssueAndShape(t *testing.T) {
	srv := setupTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/challenge", map[string]string{"type": "register"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var ch challengeResponse
	decodeBody(t, rec, &ch)
	assert.NotEmpty(t, ch.ChallengeID)
	assert.Len(t, ch.Prefix, 16)
	assert.Equal(t, "sha256", ch.Algorithm)
	assert.Equal(t, 1, ch.Difficulty)
	assert.False(t, ch.ExpiresAt.IsZero())
}

func TestChallenge_UnknownType(t *testing.T) {
	srv := setupTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/challenge", map[string]string{"type": "login"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChallenge_MethodNotAllowed(t *testing.T) {
	srv := setupTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/challenge", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRegister_FullFlow(t *testing.T) {
	srv := setupTestServer(t)

	apiKey := registerViaHTTP(t, srv, "newsbot")
	assert.Contains(t, apiKey, "ddudl_")
}

func TestRegister_BadProof(t *testing.T) {
	srv := setupTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/challenge", map[string]string{"type": "register"}, nil)
	var ch challengeResponse
	decodeBody(t, rec, &ch)

	rec = doJSON(t, srv, http.MethodPost, "/register", map[string]string{
		"challengeId": ch.ChallengeID,
		"nonce":       "wrong",
		"username":    "newsbot",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegister_NameTaken(t *testing.T) {
	srv := setupTestServer(t)

	registerViaHTTP(t, srv, "newsbot")

	rec := doJSON(t, srv, http.MethodPost, "/challenge", map[string]string{"type": "register"}, nil)
	var ch challengeResponse
	decodeBody(t, rec, &ch)

	rec = doJSON(t, srv, http.MethodPost, "/register", map[string]string{
		"challengeId": ch.ChallengeID,
		"nonce":       pow.Solve(ch.Prefix, ch.Difficulty),
		"username":    "NewsBot",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegister_UnknownChallenge(t *testing.T) {
	srv := setupTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/register", map[string]string{
		"challengeId": "no-such-id",
		"nonce":       "0",
		"username":    "newsbot",
	}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerify_RequiresKnownKey(t *testing.T) {
	srv := setupTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/challenge", map[string]string{"type": "action"}, nil)
	var ch challengeResponse
	decodeBody(t, rec, &ch)

	rec = doJSON(t, srv, http.MethodPost, "/verify", map[string]string{
		"challengeId": ch.ChallengeID,
		"nonce":       pow.Solve(ch.Prefix, ch.Difficulty),
	}, map[string]string{headerAgentKey: "ddudl_bogus_key"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPosts_AcceptedWithQuotaHeaders(t *testing.T) {
	srv := setupTestServer(t)

	apiKey := registerViaHTTP(t, srv, "newsbot")
	token := mintTokenViaHTTP(t, srv, apiKey)

	rec := doJSON(t, srv, http.MethodPost, "/posts", map[string]string{
		"title": "Interesting article about gateways",
	}, map[string]string{headerAgentKey: apiKey, headerAgentToken: token})

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	var resp acceptedResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, "newsbot", resp.Agent)
}

func TestPosts_TitleTooShort(t *testing.T) {
	srv := setupTestServer(t)

	apiKey := registerViaHTTP(t, srv, "newsbot")
	token := mintTokenViaHTTP(t, srv, apiKey)

	rec := doJSON(t, srv, http.MethodPost, "/posts", map[string]string{
		"title": "hey",
	}, map[string]string{headerAgentKey: apiKey, headerAgentToken: token})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The malformed request never reached the gate; the token survives
	rec = doJSON(t, srv, http.MethodPost, "/posts", map[string]string{
		"title": "a proper title",
	}, map[string]string{headerAgentKey: apiKey, headerAgentToken: token})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestPosts_TokenReplayRejected(t *testing.T) {
	srv := setupTestServer(t)

	apiKey := registerViaHTTP(t, srv, "newsbot")
	token := mintTokenViaHTTP(t, srv, apiKey)
	headers := map[string]string{headerAgentKey: apiKey, headerAgentToken: token}
	body := map[string]string{"title": "a proper title"}

	rec := doJSON(t, srv, http.MethodPost, "/posts", body, headers)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/posts", body, headers)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPosts_RateLimited(t *testing.T) {
	srv := setupTestServer(t)

	apiKey := registerViaHTTP(t, srv, "newsbot")
	body := map[string]string{"title": "a proper title"}

	for i := 0; i < 5; i++ {
		token := mintTokenViaHTTP(t, srv, apiKey)
		rec := doJSON(t, srv, http.MethodPost, "/posts", body,
			map[string]string{headerAgentKey: apiKey, headerAgentToken: token})
		require.Equal(t, http.StatusAccepted, rec.Code, "post %d", i+1)
	}

	token := mintTokenViaHTTP(t, srv, apiKey)
	rec := doJSON(t, srv, http.MethodPost, "/posts", body,
		map[string]string{headerAgentKey: apiKey, headerAgentToken: token})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestComments_RequiresPostIDAndBody(t *testing.T) {
	srv := setupTestServer(t)

	apiKey := registerViaHTTP(t, srv, "newsbot")
	token := mintTokenViaHTTP(t, srv, apiKey)

	rec := doJSON(t, srv, http.MethodPost, "/comments", map[string]string{
		"body": "missing post id",
	}, map[string]string{headerAgentKey: apiKey, headerAgentToken: token})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/comments", map[string]string{
		"postId": "p123",
		"body":   "a thoughtful reply",
	}, map[string]string{headerAgentKey: apiKey, headerAgentToken: token})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "15", rec.Header().Get("X-RateLimit-Limit"))
}

func TestVote_AcceptedWithoutQuotaHeaders(t *testing.T) {
	srv := setupTestServer(t)

	apiKey := registerViaHTTP(t, srv, "newsbot")
	token := mintTokenViaHTTP(t, srv, apiKey)

	rec := doJSON(t, srv, http.MethodPost, "/posts/p123/vote", map[string]string{
		"direction": "up",
	}, map[string]string{headerAgentKey: apiKey, headerAgentToken: token})

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))

	var resp acceptedResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "vote", resp.Action)
}

func TestVote_BadDirection(t *testing.T) {
	srv := setupTestServer(t)

	apiKey := registerViaHTTP(t, srv, "newsbot")
	token := mintTokenViaHTTP(t, srv, apiKey)

	rec := doJSON(t, srv, http.MethodPost, "/posts/p123/vote", map[string]string{
		"direction": "sideways",
	}, map[string]string{headerAgentKey: apiKey, headerAgentToken: token})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWrites_MissingCredentials(t *testing.T) {
	srv := setupTestServer(t)
	body := map[string]string{"title": "a proper title"}

	// No key at all
	rec := doJSON(t, srv, http.MethodPost, "/posts", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid key, no token
	apiKey := registerViaHTTP(t, srv, "newsbot")
	rec = doJSON(t, srv, http.MethodPost, "/posts", body,
		map[string]string{headerAgentKey: apiKey})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	srv := setupTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConcurrentTokenSpend_OneWinner(t *testing.T) {
	srv := setupTestServer(t)

	apiKey := registerViaHTTP(t, srv, "newsbot")
	token := mintTokenViaHTTP(t, srv, apiKey)
	headers := map[string]string{headerAgentKey: apiKey, headerAgentToken: token}

	const attempts = 8
	codes := make(chan int, attempts)
	for i := 0; i < attempts; i++ {
		go func(n int) {
			rec := doJSON(t, srv, http.MethodPost, "/comments", map[string]string{
				"postId": "p123",
				"body":   fmt.Sprintf("attempt %d", n),
			}, headers)
			codes <- rec.Code
		}(i)
	}

	accepted := 0
	for i := 0; i < attempts; i++ {
		if <-codes == http.StatusAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
}
