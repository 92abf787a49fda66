// ABOUTME: Agent registration and API key lookup
// ABOUTME: Mints ddudl API keys after a registration proof; stores only digests

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ddudl/agentgate/internal/store"
)

const (
	minNameLen = 3
	maxNameLen = 50

	keySecretBytes = 16
)

// Registry registers agents and resolves API keys to principals. Keys are
// returned to the caller exactly once at registration; only their SHA-256
// digests are ever stored.
type Registry struct {
	store      *store.SQLiteStore
	challenges *Challenges
	logger     *slog.Logger
	now        func() time.Time
}

// NewRegistry creates an agent registry backed by the given store.
func NewRegistry(st *store.SQLiteStore, challenges *Challenges, logger *slog.Logger) *Registry {
	return &Registry{
		store:      st,
		challenges: challenges,
		logger:     logger.With("component", "registry"),
		now:        time.Now,
	}
}

// Registration is the one-time result of a successful registration. The
// APIKey field is the only place the plaintext key ever appears.
type Registration struct {
	Principal *store.Principal
	APIKey    string
}

// Register spends a registration challenge and creates a new agent. The
// challenge is consumed on the attempt: a valid proof paired with a bad or
// taken name still burns the challenge, so a rejected agent must mine
// again. Names are unique case-insensitively and never reusable, even
// after deactivation.
func (r *Registry) Register(ctx context.Context, challengeID, nonce, name, description string) (*Registration, error) {
	if _, err := r.challenges.Consume(ctx, challengeID, nonce, store.KindRegister); err != nil {
		return nil, err
	}

	if len(name) < minNameLen || len(name) > maxNameLen {
		return nil, fmt.Errorf("%w: name must be %d-%d characters", ErrInvalidName, minNameLen, maxNameLen)
	}

	key, err := mintAPIKey(r.now())
	if err != nil {
		return nil, fmt.Errorf("minting api key: %w", err)
	}

	p := &store.Principal{
		ID:          uuid.New().String(),
		APIKeyHash:  HashSecret(key),
		Username:    name,
		Description: description,
		Active:      true,
		CreatedAt:   r.now().UTC(),
	}

	if err := r.store.CreatePrincipal(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("creating principal: %w", err)
	}

	if err := r.store.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      "system",
		Action:     store.AuditRegisterAgent,
		TargetType: "agent",
		TargetID:   p.ID,
		Detail:     map[string]any{"username": p.Username},
	}); err != nil {
		r.logger.Warn("appending audit entry", "error", err)
	}

	r.logger.Info("agent registered", "agent_id", p.ID, "username", p.Username)

	return &Registration{Principal: p, APIKey: key}, nil
}

// Lookup resolves an API key to its active principal. Unknown keys and
// keys belonging to deactivated agents both return ErrUnauthorized.
func (r *Registry) Lookup(ctx context.Context, apiKey string) (*store.Principal, error) {
	if apiKey == "" {
		return nil, ErrUnauthorized
	}

	p, err := r.store.GetPrincipalByKeyHash(ctx, HashSecret(apiKey))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("looking up principal: %w", err)
	}

	if !p.Active {
		return nil, ErrUnauthorized
	}

	return p, nil
}

// HashSecret returns the hex SHA-256 digest of a secret. Digests are what
// the store indexes on, so lookup never needs the plaintext.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// mintAPIKey builds a key in the ddudl format: a fixed prefix, the mint
// time in base36 milliseconds, and 32 hex characters of randomness.
func mintAPIKey(now time.Time) (string, error) {
	buf := make([]byte, keySecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	millis := strconv.FormatInt(now.UnixMilli(), 36)
	return fmt.Sprintf("ddudl_%s_%s", millis, hex.EncodeToString(buf)), nil
}
