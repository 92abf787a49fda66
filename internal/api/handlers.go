// ABOUTME: HTTP handlers for the public agent-facing endpoints
// ABOUTME: Challenge issuance, registration, token verification, and gated writes

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ddudl/agentgate/internal/auth"
	"github.com/ddudl/agentgate/internal/store"
)

const (
	headerAgentKey   = "X-Agent-Key"
	headerAgentToken = "X-Agent-Token"

	minPostTitleLen = 5
)

// sendJSON writes a JSON response with the given status code.
func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type challengeRequest struct {
	Type string `json:"type"`
}

type challengeResponse struct {
	ChallengeID string    `json:"challengeId"`
	Prefix      string    `json:"prefix"`
	Difficulty  int       `json:"difficulty"`
	Algorithm   string    `json:"algorithm"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// handleChallenge issues a fresh proof-of-work challenge.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req challengeRequest
	if err := decodeJSON(r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind := store.ChallengeKind(req.Type)
	if !kind.Valid() {
		sendJSONError(w, http.StatusBadRequest, "type must be register or action")
		return
	}

	ch, err := s.challenges.Issue(r.Context(), kind)
	if err != nil {
		s.logger.Error("issuing challenge", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to issue challenge")
		return
	}

	sendJSON(w, http.StatusCreated, challengeResponse{
		ChallengeID: ch.ID,
		Prefix:      ch.Prefix,
		Difficulty:  ch.Difficulty,
		Algorithm:   ch.Algorithm,
		ExpiresAt:   ch.ExpiresAt,
	})
}

type registerRequest struct {
	ChallengeID string `json:"challengeId"`
	Nonce       string `json:"nonce"`
	Username    string `json:"username"`
	Description string `json:"description"`
}

type registerResponse struct {
	AgentID   string    `json:"agentId"`
	Username  string    `json:"username"`
	APIKey    string    `json:"apiKey"`
	CreatedAt time.Time `json:"createdAt"`
}

// handleRegister exchanges a registration proof and a unique name for an
// API key. The key appears in this response and nowhere else.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reg, err := s.registry.Register(r.Context(), req.ChallengeID, req.Nonce, req.Username, req.Description)
	if err != nil {
		sendProtocolError(w, err)
		return
	}

	sendJSON(w, http.StatusCreated, registerResponse{
		AgentID:   reg.Principal.ID,
		Username:  reg.Principal.Username,
		APIKey:    reg.APIKey,
		CreatedAt: reg.Principal.CreatedAt,
	})
}

type verifyRequest struct {
	ChallengeID string `json:"challengeId"`
	Nonce       string `json:"nonce"`
}

type verifyResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// handleVerify exchanges an action proof for a single-use action token.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tok, err := s.issuer.Verify(r.Context(), r.Header.Get(headerAgentKey), req.ChallengeID, req.Nonce)
	if err != nil {
		sendProtocolError(w, err)
		return
	}

	sendJSON(w, http.StatusCreated, verifyResponse{
		Token:     tok.Token,
		ExpiresAt: tok.ExpiresAt,
	})
}

type postRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

type commentRequest struct {
	PostID string `json:"postId"`
	Body   string `json:"body"`
}

type voteRequest struct {
	Direction string `json:"direction"`
}

type acceptedResponse struct {
	Status string `json:"status"`
	Action string `json:"action"`
	Agent  string `json:"agent"`
}

// authorize runs the gate for one write action and writes the quota
// headers. Returns nil after writing the error response on refusal.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, action store.ActionType) *auth.AuthorizedAction {
	admitted, err := s.gate.Authorize(r.Context(),
		r.Header.Get(headerAgentKey), r.Header.Get(headerAgentToken), action)
	if err != nil {
		sendProtocolError(w, err)
		return nil
	}

	if q := admitted.Quota; q != nil {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(q.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(q.Reset.Unix(), 10))
	}

	return admitted
}

// handlePosts gates post submission. The content itself is forwarded
// downstream; only the authorization decision lives here.
func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req postRequest
	if err := decodeJSON(r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(strings.TrimSpace(req.Title)) < minPostTitleLen {
		sendJSONError(w, http.StatusBadRequest, "title must be at least 5 characters")
		return
	}

	admitted := s.authorize(w, r, store.ActionPost)
	if admitted == nil {
		return
	}

	sendJSON(w, http.StatusAccepted, acceptedResponse{
		Status: "accepted",
		Action: "post",
		Agent:  admitted.Principal.Username,
	})
}

// handleComments gates comment submission.
func (s *Server) handleComments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req commentRequest
	if err := decodeJSON(r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PostID == "" || strings.TrimSpace(req.Body) == "" {
		sendJSONError(w, http.StatusBadRequest, "postId and body are required")
		return
	}

	admitted := s.authorize(w, r, store.ActionComment)
	if admitted == nil {
		return
	}

	sendJSON(w, http.StatusAccepted, acceptedResponse{
		Status: "accepted",
		Action: "comment",
		Agent:  admitted.Principal.Username,
	})
}

// handleVote gates votes on /posts/{id}/vote. Votes spend a token but are
// exempt from the rate ceilings.
func (s *Server) handleVote(w http.ResponseWriter, r *http.Request, postID string) {
	if r.Method != http.MethodPost {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if postID == "" {
		sendJSONError(w, http.StatusBadRequest, "post id is required")
		return
	}

	// The vote body is optional
	var req voteRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Direction != "" && req.Direction != "up" && req.Direction != "down" {
		sendJSONError(w, http.StatusBadRequest, "direction must be up or down")
		return
	}

	admitted := s.authorize(w, r, store.ActionVote)
	if admitted == nil {
		return
	}

	sendJSON(w, http.StatusAccepted, acceptedResponse{
		Status: "accepted",
		Action: "vote",
		Agent:  admitted.Principal.Username,
	})
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
