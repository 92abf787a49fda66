// ABOUTME: Action token persistence keyed by token secret digest
// ABOUTME: Single-use consumption via conditional UPDATE; consumed rows are kept for audit

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateActionToken persists a freshly minted action token.
func (s *SQLiteStore) CreateActionToken(ctx context.Context, t *ActionToken) error {
	query := `
		INSERT INTO action_tokens (token_hash, principal_id, issued_at, expires_at, consumed)
		VALUES (?, ?, ?, ?, 0)
	`

	_, err := s.db.ExecContext(ctx, query,
		t.TokenHash,
		t.PrincipalID,
		formatTime(t.IssuedAt),
		formatTime(t.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting action token: %w", err)
	}

	s.logger.Debug("created action token", "principal_id", t.PrincipalID, "expires_at", t.ExpiresAt)
	return nil
}

// GetActionToken retrieves a token by its digest.
// Returns ErrNotFound if no such token exists.
func (s *SQLiteStore) GetActionToken(ctx context.Context, tokenHash string) (*ActionToken, error) {
	query := `
		SELECT token_hash, principal_id, issued_at, expires_at, consumed, consumed_at
		FROM action_tokens
		WHERE token_hash = ?
	`

	var t ActionToken
	var issuedAt, expiresAt string
	var consumed int
	var consumedAt sql.NullString

	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&t.TokenHash,
		&t.PrincipalID,
		&issuedAt,
		&expiresAt,
		&consumed,
		&consumedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying action token: %w", err)
	}

	t.Consumed = consumed != 0
	t.IssuedAt, err = parseTime(issuedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing issued_at: %w", err)
	}
	t.ExpiresAt, err = parseTime(expiresAt)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if consumedAt.Valid {
		ts, err := parseTime(consumedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing consumed_at: %w", err)
		}
		t.ConsumedAt = &ts
	}

	return &t, nil
}

// ConsumeActionToken flips consumed false to true for an unexpired token
// belonging to the given principal. A single conditional UPDATE makes the
// transition atomic with respect to concurrent use of the same token
// value. Returns ErrNotFound when the digest is unknown or bound to a
// different principal, ErrAlreadyConsumed when the token was spent, and
// ErrExpired when its TTL has passed.
func (s *SQLiteStore) ConsumeActionToken(ctx context.Context, tokenHash, principalID string, now time.Time) error {
	nowStr := formatTime(now)

	result, err := s.db.ExecContext(ctx, `
		UPDATE action_tokens
		SET consumed = 1, consumed_at = ?
		WHERE token_hash = ? AND principal_id = ? AND consumed = 0 AND expires_at > ?
	`, nowStr, tokenHash, principalID, nowStr)
	if err != nil {
		return fmt.Errorf("consuming action token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows > 0 {
		s.logger.Debug("consumed action token", "principal_id", principalID)
		return nil
	}

	t, err := s.GetActionToken(ctx, tokenHash)
	if err != nil {
		return err
	}
	if t.PrincipalID != principalID {
		// A token presented with someone else's key is indistinguishable
		// from an unknown token to the caller.
		return ErrNotFound
	}
	if t.Consumed {
		return ErrAlreadyConsumed
	}
	return ErrExpired
}

// DeleteExpiredTokens removes unconsumed tokens whose expiry is older than
// the cutoff. Consumed rows are preserved as the audit trail of admitted
// actions.
func (s *SQLiteStore) DeleteExpiredTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM action_tokens WHERE consumed = 0 AND expires_at <= ?
	`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		s.logger.Debug("deleted expired tokens", "count", rows)
	}
	return rows, nil
}
