// ABOUTME: The authorization gate every write action passes through
// ABOUTME: Authenticates, spends the token, and charges the rate ceilings in order

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ddudl/agentgate/internal/store"
)

// AuthorizedAction is the gate's admission record: who acted, what they
// did, and what quota remains. Quota is nil for exempt actions.
type AuthorizedAction struct {
	Principal *store.Principal
	Action    store.ActionType
	Quota     *Quota
}

// Gate is the single choke point for write actions. It authenticates the
// API key, spends the action token, and charges the rate ceilings, in
// that order: a rate-limited agent still loses its token and must mine
// again after the window resets.
type Gate struct {
	store    *store.SQLiteStore
	registry *Registry
	limiter  *Limiter
	logger   *slog.Logger
	now      func() time.Time
}

// NewGate creates an authorization gate.
func NewGate(st *store.SQLiteStore, registry *Registry, limiter *Limiter, logger *slog.Logger) *Gate {
	return &Gate{
		store:    st,
		registry: registry,
		limiter:  limiter,
		logger:   logger.With("component", "gate"),
		now:      time.Now,
	}
}

// Authorize admits or refuses one write action. Token spend is bound to
// the authenticated agent: a token minted for another agent is
// indistinguishable from an unknown token. Vote actions are gated but
// exempt from ceilings and activity counters beyond last use.
func (g *Gate) Authorize(ctx context.Context, apiKey, token string, action store.ActionType) (*AuthorizedAction, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("unknown action type %q", action)
	}

	p, err := g.registry.Lookup(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	if token == "" {
		return nil, ErrTokenInvalid
	}

	now := g.now().UTC()
	if err := g.store.ConsumeActionToken(ctx, HashSecret(token), p.ID, now); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrTokenInvalid
		case errors.Is(err, store.ErrAlreadyConsumed):
			return nil, ErrTokenAlreadyUsed
		case errors.Is(err, store.ErrExpired):
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("consuming token: %w", err)
	}

	var quota *Quota
	if action.Counted() {
		quota, err = g.limiter.CheckAndIncrement(ctx, p.ID, action)
		if err != nil {
			return nil, err
		}
	}

	if err := g.store.RecordPrincipalUse(ctx, p.ID, action, now); err != nil {
		return nil, fmt.Errorf("recording agent use: %w", err)
	}

	g.logger.Info("action authorized",
		"agent_id", p.ID,
		"username", p.Username,
		"action", action)

	return &AuthorizedAction{Principal: p, Action: action, Quota: quota}, nil
}
