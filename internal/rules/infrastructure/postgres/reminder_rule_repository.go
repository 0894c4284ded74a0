package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"dispatch-ops/internal/audit"
	rules "dispatch-ops/internal/rules/domain"
)

// ReminderRuleRepository is a Postgres repository for periodic rules.
type ReminderRuleRepository struct {
	db     *sql.DB
	logger *log.Logger
}

// ReminderRepoOption customizes the repository.
type ReminderRepoOption func(*ReminderRuleRepository)

// WithReminderLogger assigns a warning logger.
func WithReminderLogger(logger *log.Logger) ReminderRepoOption {
	return func(r *ReminderRuleRepository) {
		r.logger = logger
	}
}

// NewReminderRuleRepository constructs a repository.
func NewReminderRuleRepository(db *sql.DB, opts ...ReminderRepoOption) *ReminderRuleRepository {
	repo := &ReminderRuleRepository{db: db}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ReminderRulePatch carries a partial update; nil fields are left untouched.
type ReminderRulePatch struct {
	Name             *string          `json:"name,omitempty"`
	Enabled          *bool            `json:"enabled,omitempty"`
	Priority         *int             `json:"priority,omitempty"`
	ThresholdMinutes *int             `json:"threshold_minutes,omitempty"`
	WindowHours      *int             `json:"window_hours,omitempty"`
	MinCount         *int             `json:"min_count,omitempty"`
	DedupMinutes     *int             `json:"dedup_minutes,omitempty"`
	Severity         *string          `json:"severity,omitempty"`
	Conditions       *json.RawMessage `json:"conditions,omitempty"`
	Actions          *json.RawMessage `json:"actions,omitempty"`
}

// Create inserts a reminder rule.
func (r *ReminderRuleRepository) Create(ctx context.Context, rule *rules.ReminderRule) error {
	if r == nil || r.db == nil {
		return errors.New("reminder rule repo: nil db")
	}
	if rule == nil {
		return errors.New("reminder rule repo: nil rule")
	}
	if rule.ID == "" {
		rule.ID = "rr-" + uuid.NewString()
	}
	if rule.Severity == "" {
		rule.Severity = "medium"
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = rule.CreatedAt
	}
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO reminder_rules (
	id, name, enabled, priority, rule_type, threshold_minutes, window_hours, min_count,
	dedup_minutes, severity, conditions, actions, created_by, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8,
	$9, $10, $11, $12, $13, $14, $15
)`, rule.ID, rule.Name, rule.Enabled, rule.Priority, string(rule.RuleType), rule.ThresholdMinutes,
		rule.WindowHours, rule.MinCount, rule.DedupMinutes, rule.Severity, conditions,
		rules.MarshalActions(rule.Actions), rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return err
	}
	r.logAudit(ctx, "reminder_rule.create", rule)
	return nil
}

// GetByID loads a reminder rule by id.
func (r *ReminderRuleRepository) GetByID(ctx context.Context, id string) (*rules.ReminderRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reminder rule repo: nil db")
	}
	if id == "" {
		return nil, errors.New("reminder rule repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, reminderRuleSelect+` WHERE id = $1 LIMIT 1`, id)
	rule, err := r.scanRule(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
}

// List returns reminder rules in evaluation order.
func (r *ReminderRuleRepository) List(ctx context.Context, enabledOnly bool) ([]rules.ReminderRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reminder rule repo: nil db")
	}
	query := reminderRuleSelect
	if enabledOnly {
		query += ` WHERE enabled = TRUE`
	}
	query += ` ORDER BY priority DESC, created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rules.ReminderRule
	for rows.Next() {
		rule, err := r.scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	return result, rows.Err()
}

// ListEnabled returns enabled reminder rules.
func (r *ReminderRuleRepository) ListEnabled(ctx context.Context) ([]rules.ReminderRule, error) {
	return r.List(ctx, true)
}

// Update applies a partial patch and returns the updated rule.
func (r *ReminderRuleRepository) Update(ctx context.Context, id string, patch ReminderRulePatch) (*rules.ReminderRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reminder rule repo: nil db")
	}
	rule, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, rules.ErrNotFound
	}
	if patch.Name != nil {
		rule.Name = *patch.Name
	}
	if patch.Enabled != nil {
		rule.Enabled = *patch.Enabled
	}
	if patch.Priority != nil {
		rule.Priority = *patch.Priority
	}
	if patch.ThresholdMinutes != nil {
		rule.ThresholdMinutes = *patch.ThresholdMinutes
	}
	if patch.WindowHours != nil {
		rule.WindowHours = *patch.WindowHours
	}
	if patch.MinCount != nil {
		rule.MinCount = *patch.MinCount
	}
	if patch.DedupMinutes != nil {
		rule.DedupMinutes = *patch.DedupMinutes
	}
	if patch.Severity != nil {
		rule.Severity = *patch.Severity
	}
	conditionsRaw, err := json.Marshal(rule.Conditions)
	if err != nil {
		return nil, err
	}
	actionsRaw := rules.MarshalActions(rule.Actions)
	if patch.Conditions != nil {
		conditionsRaw = *patch.Conditions
		conds, warnings := rules.ParseConditions(*patch.Conditions)
		r.warn(rule.ID, warnings)
		rule.Conditions = conds
	}
	if patch.Actions != nil {
		actionsRaw = *patch.Actions
		actions, warnings := rules.ParseActions(*patch.Actions)
		r.warn(rule.ID, warnings)
		rule.Actions = actions
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	rule.UpdatedAt = time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
UPDATE reminder_rules SET
	name = $2, enabled = $3, priority = $4, threshold_minutes = $5, window_hours = $6,
	min_count = $7, dedup_minutes = $8, severity = $9, conditions = $10, actions = $11,
	updated_at = $12
WHERE id = $1`, rule.ID, rule.Name, rule.Enabled, rule.Priority, rule.ThresholdMinutes,
		rule.WindowHours, rule.MinCount, rule.DedupMinutes, rule.Severity,
		[]byte(conditionsRaw), []byte(actionsRaw), rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.logAudit(ctx, "reminder_rule.update", rule)
	return rule, nil
}

// Delete removes a reminder rule.
func (r *ReminderRuleRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("reminder rule repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM reminder_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return rules.ErrNotFound
	}
	r.logAudit(ctx, "reminder_rule.delete", &rules.ReminderRule{ID: id})
	return nil
}

const reminderRuleSelect = `
SELECT id, name, enabled, priority, rule_type, threshold_minutes, window_hours, min_count,
	dedup_minutes, severity, conditions, actions, COALESCE(created_by, ''), created_at, updated_at
FROM reminder_rules`

func (r *ReminderRuleRepository) scanRule(scan func(...any) error) (*rules.ReminderRule, error) {
	var rule rules.ReminderRule
	var conditionsRaw, actionsRaw []byte
	var ruleType string
	if err := scan(
		&rule.ID,
		&rule.Name,
		&rule.Enabled,
		&rule.Priority,
		&ruleType,
		&rule.ThresholdMinutes,
		&rule.WindowHours,
		&rule.MinCount,
		&rule.DedupMinutes,
		&rule.Severity,
		&conditionsRaw,
		&actionsRaw,
		&rule.CreatedBy,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.RuleType = rules.ReminderType(ruleType)
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()

	var warnings []string
	rule.Conditions, warnings = rules.ParseConditions(conditionsRaw)
	r.warn(rule.ID, warnings)
	var actionWarnings []string
	rule.Actions, actionWarnings = rules.ParseActions(actionsRaw)
	r.warn(rule.ID, actionWarnings)
	return &rule, nil
}

func (r *ReminderRuleRepository) warn(ruleID string, warnings []string) {
	if r == nil || r.logger == nil {
		return
	}
	for _, warning := range warnings {
		r.logger.Printf("reminder rule %s: %s", ruleID, warning)
	}
}

func (r *ReminderRuleRepository) logAudit(ctx context.Context, action string, rule *rules.ReminderRule) {
	if r == nil || r.db == nil || rule == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"name":      rule.Name,
		"rule_type": rule.RuleType,
		"enabled":   rule.Enabled,
	})
	repo := audit.NewRepository(r.db)
	if repo == nil {
		return
	}
	_ = repo.Log(ctx, audit.Entry{
		Actor:        actorOrSystem(rule.CreatedBy),
		Action:       action,
		ResourceType: "reminder_rule",
		ResourceID:   rule.ID,
		Metadata:     meta,
		CreatedAt:    time.Now().UTC(),
	})
}
