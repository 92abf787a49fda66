// ABOUTME: Audit log of registrations and administrative actions
// ABOUTME: Records who did what to which resource for compliance and debugging

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditRegisterAgent   AuditAction = "register_agent"
	AuditActivateAgent   AuditAction = "activate_agent"
	AuditDeactivateAgent AuditAction = "deactivate_agent"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID         string         // UUID v4, generated if empty
	Actor      string         // who performed the action ("system", admin subject, or principal id)
	Action     AuditAction    // what was done
	TargetType string         // "principal"
	TargetID   string         // ID of the affected resource
	Timestamp  time.Time      // when it happened, set to now if zero
	Detail     map[string]any // additional context, stored as JSON
}

// AppendAuditLog records an audit entry.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	var detailJSON any
	if len(entry.Detail) > 0 {
		data, err := json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		detailJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (audit_id, actor, action, target_type, target_id, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.Actor,
		string(entry.Action),
		entry.TargetType,
		entry.TargetID,
		formatTime(entry.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit entry", "action", entry.Action, "target", entry.TargetID)
	return nil
}

// ListAuditLog returns the most recent audit entries, newest first.
// If limit is 0 or negative, a default of 100 is used.
func (s *SQLiteStore) ListAuditLog(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT audit_id, actor, action, target_type, target_id, ts, detail_json
		FROM audit_log
		ORDER BY ts DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var action, ts string
		var detail sql.NullString

		if err := rows.Scan(&e.ID, &e.Actor, &action, &e.TargetType, &e.TargetID, &ts, &detail); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}

		e.Action = AuditAction(action)
		e.Timestamp, err = parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parsing audit ts: %w", err)
		}
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling audit detail: %w", err)
			}
		}

		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}
	return entries, nil
}
