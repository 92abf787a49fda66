// ABOUTME: Rate window counters with all-or-nothing transactional increments
// ABOUTME: Rollover is computed from wall-clock time inside the write transaction

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// IncrementRateWindows checks every charged window for the principal and
// action, then increments them all together. If any window is at or over
// its ceiling the blocking window is returned and nothing is mutated.
//
// The whole check-then-increment runs under BEGIN IMMEDIATE so the write
// lock is taken before the first read: two simultaneous requests from the
// same principal can never both observe the last free slot.
func (s *SQLiteStore) IncrementRateWindows(ctx context.Context, principalID string, action ActionType, charges []WindowCharge, now time.Time) ([]RateWindow, *RateWindow, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}

	windows, blocked, err := s.incrementLocked(ctx, conn, principalID, action, charges, now)
	if err != nil || blocked != nil {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			s.logger.Warn("rate window rollback failed", "error", rbErr)
		}
		return nil, blocked, err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, nil, fmt.Errorf("committing rate windows: %w", err)
	}

	return windows, nil, nil
}

// incrementLocked does the per-window work inside an open transaction.
// Returns a non-nil blocked window when any ceiling is hit; in that case
// the caller rolls back.
func (s *SQLiteStore) incrementLocked(ctx context.Context, conn *sql.Conn, principalID string, action ActionType, charges []WindowCharge, now time.Time) ([]RateWindow, *RateWindow, error) {
	windows := make([]RateWindow, 0, len(charges))

	// First pass: load (rolling over as needed) and check every ceiling
	// before any write, so a blocked request mutates nothing.
	for _, charge := range charges {
		w := RateWindow{
			PrincipalID: principalID,
			Action:      action,
			Kind:        charge.Kind,
		}

		var windowStart string
		err := conn.QueryRowContext(ctx, `
			SELECT window_start, count
			FROM rate_windows
			WHERE principal_id = ? AND action = ? AND window_kind = ?
		`, principalID, string(action), string(charge.Kind)).Scan(&windowStart, &w.Count)

		switch {
		case err == sql.ErrNoRows:
			w.WindowStart = now
			w.Count = 0
		case err != nil:
			return nil, nil, fmt.Errorf("querying rate window: %w", err)
		default:
			w.WindowStart, err = parseTime(windowStart)
			if err != nil {
				return nil, nil, fmt.Errorf("parsing window_start: %w", err)
			}
			if !now.Before(w.ResetAt()) {
				// Window elapsed; roll over in place.
				w.WindowStart = now
				w.Count = 0
			}
		}

		if w.Count >= charge.Limit {
			blocked := w
			return nil, &blocked, nil
		}
		windows = append(windows, w)
	}

	// Second pass: every ceiling passed, increment all windows together.
	for i := range windows {
		w := &windows[i]
		w.Count++
		_, err := conn.ExecContext(ctx, `
			INSERT INTO rate_windows (principal_id, action, window_kind, window_start, count)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (principal_id, action, window_kind)
			DO UPDATE SET window_start = excluded.window_start, count = excluded.count
		`, w.PrincipalID, string(w.Action), string(w.Kind), formatTime(w.WindowStart), w.Count)
		if err != nil {
			return nil, nil, fmt.Errorf("upserting rate window: %w", err)
		}
	}

	return windows, nil, nil
}

// GetRateWindow retrieves the live counter row for one window.
// Returns ErrNotFound if the principal has never charged this window.
func (s *SQLiteStore) GetRateWindow(ctx context.Context, principalID string, action ActionType, kind WindowKind) (*RateWindow, error) {
	w := RateWindow{
		PrincipalID: principalID,
		Action:      action,
		Kind:        kind,
	}

	var windowStart string
	err := s.db.QueryRowContext(ctx, `
		SELECT window_start, count
		FROM rate_windows
		WHERE principal_id = ? AND action = ? AND window_kind = ?
	`, principalID, string(action), string(kind)).Scan(&windowStart, &w.Count)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying rate window: %w", err)
	}

	w.WindowStart, err = parseTime(windowStart)
	if err != nil {
		return nil, fmt.Errorf("parsing window_start: %w", err)
	}
	return &w, nil
}

// SetRateWindow overwrites one counter row. Intended for tests and
// administrative repair; normal traffic goes through IncrementRateWindows.
func (s *SQLiteStore) SetRateWindow(ctx context.Context, w *RateWindow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_windows (principal_id, action, window_kind, window_start, count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (principal_id, action, window_kind)
		DO UPDATE SET window_start = excluded.window_start, count = excluded.count
	`, w.PrincipalID, string(w.Action), string(w.Kind), formatTime(w.WindowStart), w.Count)
	if err != nil {
		return fmt.Errorf("upserting rate window: %w", err)
	}
	return nil
}
