// ABOUTME: Challenge issuance and consumption for proof-of-work gating
// ABOUTME: Issues random prefixes with per-kind policy and spends them exactly once

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ddudl/agentgate/internal/config"
	"github.com/ddudl/agentgate/internal/pow"
	"github.com/ddudl/agentgate/internal/store"
)

const prefixBytes = 8

// Challenges issues and consumes proof-of-work challenges. Each challenge
// carries a random prefix and a per-kind difficulty; a challenge is spent
// exactly once, regardless of how many agents race to spend it.
type Challenges struct {
	store  *store.SQLiteStore
	policy config.PoWConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewChallenges creates a challenge service with the given policy table.
func NewChallenges(st *store.SQLiteStore, policy config.PoWConfig, logger *slog.Logger) *Challenges {
	return &Challenges{
		store:  st,
		policy: policy,
		logger: logger.With("component", "challenges"),
		now:    time.Now,
	}
}

// Issue creates a new challenge of the given kind and persists it. The
// returned challenge includes everything an agent needs to start mining:
// prefix, difficulty, algorithm, and deadline.
func (c *Challenges) Issue(ctx context.Context, kind store.ChallengeKind) (*store.Challenge, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown challenge type %q", ErrChallengeNotFound, kind)
	}

	buf := make([]byte, prefixBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generating challenge prefix: %w", err)
	}

	policy := c.policy.ForKind(kind)
	now := c.now().UTC()

	ch := &store.Challenge{
		ID:         uuid.New().String(),
		Kind:       kind,
		Prefix:     hex.EncodeToString(buf),
		Difficulty: policy.Difficulty,
		Algorithm:  pow.Algorithm,
		IssuedAt:   now,
		ExpiresAt:  now.Add(policy.TTL),
	}

	if err := c.store.CreateChallenge(ctx, ch); err != nil {
		return nil, fmt.Errorf("persisting challenge: %w", err)
	}

	c.logger.Debug("challenge issued",
		"challenge_id", ch.ID,
		"kind", ch.Kind,
		"difficulty", ch.Difficulty)

	return ch, nil
}

// Consume verifies the proof for a challenge and spends it. The proof is
// checked before any mutation: a bad nonce leaves the challenge spendable
// so the agent can keep mining. A challenge issued for one kind cannot be
// spent as another; the mismatch is indistinguishable from an unknown ID.
func (c *Challenges) Consume(ctx context.Context, id, nonce string, kind store.ChallengeKind) (*store.Challenge, error) {
	ch, err := c.store.GetChallenge(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("loading challenge: %w", err)
	}

	if ch.Kind != kind {
		return nil, ErrChallengeNotFound
	}

	now := c.now().UTC()
	switch ch.State(now) {
	case store.StateConsumed:
		return nil, ErrChallengeConsumed
	case store.StateExpired:
		return nil, ErrChallengeExpired
	}

	if !pow.Verify(ch.Prefix, nonce, ch.Difficulty) {
		c.logger.Debug("proof rejected", "challenge_id", ch.ID, "kind", ch.Kind)
		return nil, ErrInvalidProof
	}

	if err := c.store.ConsumeChallenge(ctx, id, now); err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyConsumed):
			return nil, ErrChallengeConsumed
		case errors.Is(err, store.ErrExpired):
			return nil, ErrChallengeExpired
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("consuming challenge: %w", err)
	}

	c.logger.Debug("challenge consumed", "challenge_id", ch.ID, "kind", ch.Kind)
	return ch, nil
}
