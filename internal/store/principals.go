// ABOUTME: Principal persistence: creation, lookup by key digest, usage updates
// ABOUTME: Username uniqueness is case-insensitive and permanent

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CreatePrincipal inserts a new principal. Returns ErrDuplicateName when
// the username is already taken (case-insensitive, including by inactive
// principals).
func (s *SQLiteStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	query := `
		INSERT INTO principals (id, api_key_hash, username, description, is_active, total_posts, total_comments, created_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?)
	`

	active := 0
	if p.Active {
		active = 1
	}

	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.APIKeyHash,
		p.Username,
		nullString(p.Description),
		active,
		formatTime(p.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			if strings.Contains(err.Error(), "username") {
				return ErrDuplicateName
			}
			return fmt.Errorf("inserting principal: %w", err)
		}
		return fmt.Errorf("inserting principal: %w", err)
	}

	s.logger.Debug("created principal", "id", p.ID, "username", p.Username)
	return nil
}

const principalColumns = `id, api_key_hash, username, description, is_active, total_posts, total_comments, created_at, last_used_at`

// scanPrincipal reads one principal row from a row scanner.
func scanPrincipal(scan func(dest ...any) error) (*Principal, error) {
	var p Principal
	var description, lastUsedAt sql.NullString
	var active int
	var createdAt string

	err := scan(
		&p.ID,
		&p.APIKeyHash,
		&p.Username,
		&description,
		&active,
		&p.TotalPosts,
		&p.TotalComments,
		&createdAt,
		&lastUsedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning principal: %w", err)
	}

	p.Active = active != 0
	if description.Valid {
		p.Description = description.String
	}
	p.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lastUsedAt.Valid {
		t, err := parseTime(lastUsedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_used_at: %w", err)
		}
		p.LastUsedAt = &t
	}

	return &p, nil
}

// GetPrincipal retrieves a principal by ID.
// Returns ErrNotFound if the principal doesn't exist.
func (s *SQLiteStore) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+principalColumns+`
		FROM principals
		WHERE id = ?
	`, id)
	return scanPrincipal(row.Scan)
}

// GetPrincipalByKeyHash retrieves a principal by the digest of its API key
// secret. The row is returned regardless of is_active; callers decide
// whether inactive principals are acceptable.
func (s *SQLiteStore) GetPrincipalByKeyHash(ctx context.Context, keyHash string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+principalColumns+`
		FROM principals
		WHERE api_key_hash = ?
	`, keyHash)
	return scanPrincipal(row.Scan)
}

// ListPrincipals returns all principals, newest first.
func (s *SQLiteStore) ListPrincipals(ctx context.Context) ([]*Principal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+principalColumns+`
		FROM principals
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying principals: %w", err)
	}
	defer rows.Close()

	var principals []*Principal
	for rows.Next() {
		p, err := scanPrincipal(rows.Scan)
		if err != nil {
			return nil, err
		}
		principals = append(principals, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating principal rows: %w", err)
	}
	return principals, nil
}

// RecordPrincipalUse stamps last_used_at and bumps the lifetime counter
// for the admitted action. Votes touch only last_used_at.
func (s *SQLiteStore) RecordPrincipalUse(ctx context.Context, id string, action ActionType, now time.Time) error {
	var query string
	switch action {
	case ActionPost:
		query = `UPDATE principals SET last_used_at = ?, total_posts = total_posts + 1 WHERE id = ?`
	case ActionComment:
		query = `UPDATE principals SET last_used_at = ?, total_comments = total_comments + 1 WHERE id = ?`
	default:
		query = `UPDATE principals SET last_used_at = ? WHERE id = ?`
	}

	result, err := s.db.ExecContext(ctx, query, formatTime(now), id)
	if err != nil {
		return fmt.Errorf("recording principal use: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPrincipalActive flips the is_active flag. Deactivation does not free
// the username. Returns ErrNotFound if the principal doesn't exist.
func (s *SQLiteStore) SetPrincipalActive(ctx context.Context, id string, active bool) error {
	val := 0
	if active {
		val = 1
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE principals SET is_active = ? WHERE id = ?
	`, val, id)
	if err != nil {
		return fmt.Errorf("updating principal active flag: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Info("principal active flag changed", "id", id, "active", active)
	return nil
}
