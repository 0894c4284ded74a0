package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	rules "dispatch-ops/internal/rules/domain"
)

// ExecutionRepository is the append-only ledger of rule-match outcomes.
type ExecutionRepository struct {
	db *sql.DB
}

// NewExecutionRepository constructs a repository.
func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// ExecutionFilter narrows List results.
type ExecutionFilter struct {
	RuleID     string
	IncidentID string
	Limit      int
}

// Insert appends an execution record.
func (r *ExecutionRepository) Insert(ctx context.Context, rec *rules.ExecutionRecord) error {
	if r == nil || r.db == nil {
		return errors.New("execution repo: nil db")
	}
	if rec == nil {
		return errors.New("execution repo: nil record")
	}
	if rec.ID == "" {
		rec.ID = "exec-" + uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Actor == "" {
		rec.Actor = rules.ActorSystem
	}
	actionsTaken, err := json.Marshal(rec.ActionsTaken)
	if err != nil {
		return err
	}
	suggested := rec.SuggestedActions
	if len(suggested) == 0 {
		suggested = json.RawMessage("[]")
	}
	snapshot := rec.ContextSnapshot
	if len(snapshot) == 0 {
		snapshot = json.RawMessage("{}")
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO rule_executions (
	id, rule_id, rule_name, incident_id, unit_id, result, actions_taken,
	suggested_actions, context, actor, details, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12
)`, rec.ID, rec.RuleID, rec.RuleName, nullString(rec.IncidentID), nullString(rec.UnitID),
		rec.Result, actionsTaken, []byte(suggested), []byte(snapshot), rec.Actor, rec.Details, rec.CreatedAt)
	return err
}

// GetByID loads an execution record.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*rules.ExecutionRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("execution repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, executionSelect+` WHERE id = $1 LIMIT 1`, id)
	rec, err := scanExecution(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// List returns execution records, newest first, bounded by filter.Limit.
func (r *ExecutionRepository) List(ctx context.Context, filter ExecutionFilter) ([]rules.ExecutionRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("execution repo: nil db")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := executionSelect + ` WHERE 1=1`
	args := []any{}
	if filter.RuleID != "" {
		args = append(args, filter.RuleID)
		query += ` AND rule_id = $` + strconv.Itoa(len(args))
	}
	if filter.IncidentID != "" {
		args = append(args, filter.IncidentID)
		query += ` AND incident_id = $` + strconv.Itoa(len(args))
	}
	args = append(args, limit)
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rules.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}
	return result, rows.Err()
}

// CountFires counts executed and suggested matches for a (rule, incident)
// pair. Dismissed suggestions still count toward the hard cap.
func (r *ExecutionRepository) CountFires(ctx context.Context, ruleID, incidentID string) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("execution repo: nil db")
	}
	var count int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM rule_executions
WHERE rule_id = $1 AND incident_id = $2`, ruleID, incidentID).Scan(&count)
	return count, err
}

// LastFire returns the newest match time for a (rule, incident) pair.
func (r *ExecutionRepository) LastFire(ctx context.Context, ruleID, incidentID string) (time.Time, bool, error) {
	if r == nil || r.db == nil {
		return time.Time{}, false, errors.New("execution repo: nil db")
	}
	var at time.Time
	err := r.db.QueryRowContext(ctx, `
SELECT created_at
FROM rule_executions
WHERE rule_id = $1 AND incident_id = $2
ORDER BY created_at DESC
LIMIT 1`, ruleID, incidentID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return at.UTC(), true, nil
}

// Transition flips a record from one result to another, recording the actor
// and resolution time. The conditional WHERE closes the concurrent
// double-accept race: only one caller wins the row.
func (r *ExecutionRepository) Transition(ctx context.Context, id, from, to, actor string, at time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("execution repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE rule_executions
SET result = $3, actor = $4, resolved_at = $5
WHERE id = $1 AND result = $2`, id, from, to, actor, at.UTC())
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// SetOutcome fills in action descriptions and details after a transition.
func (r *ExecutionRepository) SetOutcome(ctx context.Context, id string, actionsTaken []string, result, details string) error {
	if r == nil || r.db == nil {
		return errors.New("execution repo: nil db")
	}
	taken, err := json.Marshal(actionsTaken)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
UPDATE rule_executions
SET actions_taken = $2, result = $3, details = $4
WHERE id = $1`, id, taken, result, details)
	return err
}

const executionSelect = `
SELECT id, rule_id, rule_name, COALESCE(incident_id, ''), COALESCE(unit_id, ''), result,
	actions_taken, suggested_actions, context, actor, COALESCE(details, ''), created_at, resolved_at
FROM rule_executions`

func scanExecution(scan func(...any) error) (*rules.ExecutionRecord, error) {
	var rec rules.ExecutionRecord
	var actionsTaken []byte
	var resolvedAt sql.NullTime
	if err := scan(
		&rec.ID,
		&rec.RuleID,
		&rec.RuleName,
		&rec.IncidentID,
		&rec.UnitID,
		&rec.Result,
		&actionsTaken,
		&rec.SuggestedActions,
		&rec.ContextSnapshot,
		&rec.Actor,
		&rec.Details,
		&rec.CreatedAt,
		&resolvedAt,
	); err != nil {
		return nil, err
	}
	if len(actionsTaken) > 0 {
		_ = json.Unmarshal(actionsTaken, &rec.ActionsTaken)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if resolvedAt.Valid {
		rec.ResolvedAt = resolvedAt.Time.UTC()
	}
	return &rec, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

