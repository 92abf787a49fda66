// ABOUTME: Action token issuance after a verified action proof
// ABOUTME: Mints short-lived single-use tokens bound to the solving agent

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/ddudl/agentgate/internal/store"
)

const tokenBytes = 32

// Issuer exchanges a solved action challenge for a short-lived action
// token. Tokens are bound to the agent that solved the challenge and can
// be spent exactly once.
type Issuer struct {
	store      *store.SQLiteStore
	challenges *Challenges
	registry   *Registry
	tokenTTL   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewIssuer creates an action token issuer.
func NewIssuer(st *store.SQLiteStore, challenges *Challenges, registry *Registry, tokenTTL time.Duration, logger *slog.Logger) *Issuer {
	return &Issuer{
		store:      st,
		challenges: challenges,
		registry:   registry,
		tokenTTL:   tokenTTL,
		logger:     logger.With("component", "issuer"),
		now:        time.Now,
	}
}

// IssuedToken is the one-time result of a successful verification. The
// Token field is the only place the plaintext token ever appears.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// Verify authenticates the API key, spends the action challenge, and
// mints a token. Authentication is checked before the challenge so an
// unauthorized caller cannot burn someone else's challenge. Issuance does
// not count as agent activity; only admitted actions do.
func (i *Issuer) Verify(ctx context.Context, apiKey, challengeID, nonce string) (*IssuedToken, error) {
	p, err := i.registry.Lookup(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	if _, err := i.challenges.Consume(ctx, challengeID, nonce, store.KindAction); err != nil {
		return nil, err
	}

	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}
	token := hex.EncodeToString(buf)

	now := i.now().UTC()
	at := &store.ActionToken{
		TokenHash:   HashSecret(token),
		PrincipalID: p.ID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(i.tokenTTL),
	}

	if err := i.store.CreateActionToken(ctx, at); err != nil {
		return nil, fmt.Errorf("persisting token: %w", err)
	}

	i.logger.Debug("action token issued", "agent_id", p.ID, "expires_at", at.ExpiresAt)

	return &IssuedToken{Token: token, ExpiresAt: at.ExpiresAt}, nil
}
