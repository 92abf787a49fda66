// ABOUTME: Challenge persistence with a linearizable consume transition
// ABOUTME: Consumption is a single conditional UPDATE keyed on id + consumed=0 + expiry

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateChallenge persists a freshly issued challenge.
func (s *SQLiteStore) CreateChallenge(ctx context.Context, c *Challenge) error {
	query := `
		INSERT INTO challenges (id, kind, prefix, difficulty, algorithm, issued_at, expires_at, consumed)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		string(c.Kind),
		c.Prefix,
		c.Difficulty,
		c.Algorithm,
		formatTime(c.IssuedAt),
		formatTime(c.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting challenge: %w", err)
	}

	s.logger.Debug("created challenge", "id", c.ID, "kind", c.Kind, "difficulty", c.Difficulty)
	return nil
}

// GetChallenge retrieves a challenge by ID.
// Returns ErrNotFound if the challenge doesn't exist.
func (s *SQLiteStore) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	query := `
		SELECT id, kind, prefix, difficulty, algorithm, issued_at, expires_at, consumed, consumed_at
		FROM challenges
		WHERE id = ?
	`

	var c Challenge
	var kind, issuedAt, expiresAt string
	var consumed int
	var consumedAt sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&kind,
		&c.Prefix,
		&c.Difficulty,
		&c.Algorithm,
		&issuedAt,
		&expiresAt,
		&consumed,
		&consumedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying challenge: %w", err)
	}

	c.Kind = ChallengeKind(kind)
	c.Consumed = consumed != 0

	c.IssuedAt, err = parseTime(issuedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing issued_at: %w", err)
	}
	c.ExpiresAt, err = parseTime(expiresAt)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if consumedAt.Valid {
		t, err := parseTime(consumedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing consumed_at: %w", err)
		}
		c.ConsumedAt = &t
	}

	return &c, nil
}

// ConsumeChallenge flips consumed false to true for an unexpired challenge.
// The transition is a single conditional UPDATE so two racing consumers of
// the same id cannot both succeed. Returns ErrNotFound, ErrAlreadyConsumed,
// or ErrExpired when the transition is not legal.
func (s *SQLiteStore) ConsumeChallenge(ctx context.Context, id string, now time.Time) error {
	nowStr := formatTime(now)

	result, err := s.db.ExecContext(ctx, `
		UPDATE challenges
		SET consumed = 1, consumed_at = ?
		WHERE id = ? AND consumed = 0 AND expires_at > ?
	`, nowStr, id, nowStr)
	if err != nil {
		return fmt.Errorf("consuming challenge: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows > 0 {
		s.logger.Debug("consumed challenge", "id", id)
		return nil
	}

	// The conditional update matched nothing; re-read to report why.
	c, err := s.GetChallenge(ctx, id)
	if err != nil {
		return err
	}
	if c.Consumed {
		return ErrAlreadyConsumed
	}
	return ErrExpired
}

// DeleteExpiredChallenges removes challenges whose expiry is older than
/// the cutoff. Storage hygiene only: consumption already enforces expiry
// by timestamp comparison.
func (s *SQLiteStore) DeleteExpiredChallenges(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM challenges WHERE expires_at <= ?
	`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting expired challenges: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		s.logger.Debug("deleted expired challenges", "count", rows)
	}
	return rows, nil
}
