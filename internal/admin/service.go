// ABOUTME: Admin operations over registered agents
// ABOUTME: Listing, activation, and deactivation with audit trail

package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ddudl/agentgate/internal/store"
)

// Service exposes the operator-facing agent management operations. Every
// state change is recorded in the audit log with the acting admin.
type Service struct {
	store  *store.SQLiteStore
	logger *slog.Logger
}

// NewService creates an admin service.
func NewService(st *store.SQLiteStore, logger *slog.Logger) *Service {
	return &Service{
		store:  st,
		logger: logger.With("component", "admin"),
	}
}

// ListAgents returns all registered agents, active or not.
func (s *Service) ListAgents(ctx context.Context) ([]*store.Principal, error) {
	return s.store.ListPrincipals(ctx)
}

// GetAgent returns one agent by ID.
func (s *Service) GetAgent(ctx context.Context, id string) (*store.Principal, error) {
	return s.store.GetPrincipal(ctx, id)
}

// SetAgentActive activates or deactivates an agent. Deactivation revokes
// the agent's key immediately; its name stays claimed forever.
func (s *Service) SetAgentActive(ctx context.Context, actor, id string, active bool) error {
	if err := s.store.SetPrincipalActive(ctx, id, active); err != nil {
		return fmt.Errorf("updating agent %s: %w", id, err)
	}

	action := store.AuditDeactivateAgent
	if active {
		action = store.AuditActivateAgent
	}
	if err := s.store.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      actor,
		Action:     action,
		TargetType: "agent",
		TargetID:   id,
	}); err != nil {
		s.logger.Warn("appending audit entry", "error", err)
	}

	s.logger.Info("agent state changed", "agent_id", id, "active", active, "actor", actor)
	return nil
}

// AuditLog returns the most recent audit entries, newest first.
func (s *Service) AuditLog(ctx context.Context, limit int) ([]*store.AuditEntry, error) {
	return s.store.ListAuditLog(ctx, limit)
}
