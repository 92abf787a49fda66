// ABOUTME: Operator-facing admin endpoints behind JWT bearer auth
// ABOUTME: Agent listing, activation toggles, and the audit log

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ddudl/agentgate/internal/admin"
	"github.com/ddudl/agentgate/internal/store"
)

// requireAdmin wraps a handler with bearer JWT verification. The verified
// subject is passed through for audit attribution.
func (s *Server) requireAdmin(next func(w http.ResponseWriter, r *http.Request, actor string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminVerifier == nil {
			sendJSONError(w, http.StatusNotFound, "admin API is not enabled")
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			sendJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		subject, err := s.adminVerifier.Verify(token)
		if err != nil {
			if errors.Is(err, admin.ErrNotAdmin) {
				sendJSONError(w, http.StatusForbidden, "admin role required")
				return
			}
			sendJSONError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		next(w, r, subject)
	}
}

type agentResponse struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Description   string     `json:"description,omitempty"`
	Active        bool       `json:"active"`
	TotalPosts    int64      `json:"totalPosts"`
	TotalComments int64      `json:"totalComments"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastUsedAt    *time.Time `json:"lastUsedAt,omitempty"`
}

func toAgentResponse(p *store.Principal) agentResponse {
	return agentResponse{
		ID:            p.ID,
		Username:      p.Username,
		Description:   p.Description,
		Active:        p.Active,
		TotalPosts:    p.TotalPosts,
		TotalComments: p.TotalComments,
		CreatedAt:     p.CreatedAt,
		LastUsedAt:    p.LastUsedAt,
	}
}

// handleAdminAgents lists all registered agents. Key digests are never
// included.
func (s *Server) handleAdminAgents(w http.ResponseWriter, r *http.Request, actor string) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	agents, err := s.adminService.ListAgents(r.Context())
	if err != nil {
		s.logger.Error("listing agents", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}

	out := make([]agentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, toAgentResponse(a))
	}
	sendJSON(w, http.StatusOK, map[string]any{"agents": out})
}

// handleAdminAgent routes /admin/agents/{id} and the activate/deactivate
// subresources.
func (s *Server) handleAdminAgent(w http.ResponseWriter, r *http.Request, actor string) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/agents/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		sendJSONError(w, http.StatusBadRequest, "agent id is required")
		return
	}

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		agent, err := s.adminService.GetAgent(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				sendJSONError(w, http.StatusNotFound, "agent not found")
				return
			}
			s.logger.Error("getting agent", "agent_id", id, "error", err)
			sendJSONError(w, http.StatusInternalServerError, "failed to get agent")
			return
		}
		sendJSON(w, http.StatusOK, toAgentResponse(agent))

	case "activate", "deactivate":
		if r.Method != http.MethodPost {
			sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		err := s.adminService.SetAgentActive(r.Context(), actor, id, sub == "activate")
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				sendJSONError(w, http.StatusNotFound, "agent not found")
				return
			}
			s.logger.Error("updating agent", "agent_id", id, "error", err)
			sendJSONError(w, http.StatusInternalServerError, "failed to update agent")
			return
		}
		sendJSON(w, http.StatusOK, map[string]any{"id": id, "active": sub == "activate"})

	default:
		sendJSONError(w, http.StatusNotFound, "not found")
	}
}

// handleAdminAudit returns recent audit entries, newest first.
func (s *Server) handleAdminAudit(w http.ResponseWriter, r *http.Request, actor string) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.adminService.AuditLog(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing audit log", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}

	sendJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
