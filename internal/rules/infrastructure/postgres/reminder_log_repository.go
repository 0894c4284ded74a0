package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	rules "dispatch-ops/internal/rules/domain"
)

// ReminderLogRepository records fired reminders. Rows double as the
// dedup witness: a reminder for the same rule and target key is
// suppressed while a row younger than the rule's dedup window exists.
type ReminderLogRepository struct {
	db *sql.DB
}

// NewReminderLogRepository constructs a repository.
func NewReminderLogRepository(db *sql.DB) *ReminderLogRepository {
	return &ReminderLogRepository{db: db}
}

// Insert appends a reminder entry and returns it with its generated id.
func (r *ReminderLogRepository) Insert(ctx context.Context, entry rules.ReminderLogEntry) (rules.ReminderLogEntry, error) {
	if entry.ID == "" {
		entry.ID = "rem-" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reminder_log (id, rule_id, incident_id, unit_id, target_key, message, severity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.RuleID, nullString(entry.IncidentID), nullString(entry.UnitID),
		entry.TargetKey, entry.Message, entry.Severity, entry.CreatedAt,
	)
	if err != nil {
		return rules.ReminderLogEntry{}, err
	}
	return entry, nil
}

// RecentlyNotified reports whether a reminder for the rule and target
// key fired within the window ending now.
func (r *ReminderLogRepository) RecentlyNotified(ctx context.Context, ruleID, targetKey string, window time.Duration, now time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reminder_log
			WHERE rule_id = $1 AND target_key = $2 AND created_at > $3
		)`,
		ruleID, targetKey, now.Add(-window),
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// List returns recent reminders, newest first. When unackedOnly is set,
// acknowledged entries are filtered out.
func (r *ReminderLogRepository) List(ctx context.Context, unackedOnly bool, limit int) ([]rules.ReminderLogEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT id, rule_id, incident_id, unit_id, target_key, message, severity, created_at, acked_by, acked_at
		FROM reminder_log`
	if unackedOnly {
		query += ` WHERE acked_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rules.ReminderLogEntry
	for rows.Next() {
		var (
			entry                rules.ReminderLogEntry
			incidentID, unitID   sql.NullString
			ackedBy              sql.NullString
			ackedAt              sql.NullTime
		)
		if err := rows.Scan(&entry.ID, &entry.RuleID, &incidentID, &unitID,
			&entry.TargetKey, &entry.Message, &entry.Severity, &entry.CreatedAt,
			&ackedBy, &ackedAt); err != nil {
			return nil, err
		}
		entry.IncidentID = incidentID.String
		entry.UnitID = unitID.String
		entry.AckedBy = ackedBy.String
		if ackedAt.Valid {
			entry.AckedAt = ackedAt.Time.UTC()
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Ack marks a reminder acknowledged. The update is conditional on the
// entry being unacked, so only the first caller wins. Returns false
// when the entry is missing or already acked.
func (r *ReminderLogRepository) Ack(ctx context.Context, id, actor string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reminder_log SET acked_by = $2, acked_at = $3
		WHERE id = $1 AND acked_at IS NULL`,
		id, actor, at,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
