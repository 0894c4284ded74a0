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

// PlaybookRepository is a Postgres repository for event-triggered rules.
// Condition and action payloads are stored as JSON and parsed into their
// typed form at load; parse problems surface as logged warnings, never as
// evaluation-time errors.
type PlaybookRepository struct {
	db     *sql.DB
	logger *log.Logger
}

// RepoOption customizes a repository.
type RepoOption func(*PlaybookRepository)

// WithLogger assigns a warning logger.
func WithLogger(logger *log.Logger) RepoOption {
	return func(r *PlaybookRepository) {
		r.logger = logger
	}
}

// NewPlaybookRepository constructs a repository.
func NewPlaybookRepository(db *sql.DB, opts ...RepoOption) *PlaybookRepository {
	repo := &PlaybookRepository{db: db}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// PlaybookPatch carries a partial update; nil fields are left untouched.
type PlaybookPatch struct {
	Name                *string          `json:"name,omitempty"`
	Enabled             *bool            `json:"enabled,omitempty"`
	Priority            *int             `json:"priority,omitempty"`
	Trigger             *string          `json:"trigger,omitempty"`
	Conditions          *json.RawMessage `json:"conditions,omitempty"`
	Actions             *json.RawMessage `json:"actions,omitempty"`
	Mode                *string          `json:"mode,omitempty"`
	MaxFiresPerIncident *int             `json:"max_fires_per_incident,omitempty"`
	CooldownMinutes     *int             `json:"cooldown_minutes,omitempty"`
}

// Create inserts a playbook.
func (r *PlaybookRepository) Create(ctx context.Context, pb *rules.Playbook) error {
	if r == nil || r.db == nil {
		return errors.New("playbook repo: nil db")
	}
	if pb == nil {
		return errors.New("playbook repo: nil playbook")
	}
	if pb.ID == "" {
		pb.ID = "pb-" + uuid.NewString()
	}
	if pb.Mode == "" {
		pb.Mode = rules.ModeSuggest
	}
	if err := pb.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if pb.CreatedAt.IsZero() {
		pb.CreatedAt = now
	}
	if pb.UpdatedAt.IsZero() {
		pb.UpdatedAt = pb.CreatedAt
	}
	conditions, err := json.Marshal(pb.Conditions)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO playbooks (
	id, name, enabled, priority, trigger, conditions, actions, mode,
	max_fires_per_incident, cooldown_minutes, created_by, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8,
	$9, $10, $11, $12, $13
)`, pb.ID, pb.Name, pb.Enabled, pb.Priority, pb.Trigger, conditions, rules.MarshalActions(pb.Actions),
		string(pb.Mode), pb.MaxFiresPerIncident, pb.CooldownMinutes, pb.CreatedBy, pb.CreatedAt, pb.UpdatedAt)
	if err != nil {
		return err
	}
	r.logAudit(ctx, "playbook.create", pb)
	return nil
}

// GetByID loads a playbook by id.
func (r *PlaybookRepository) GetByID(ctx context.Context, id string) (*rules.Playbook, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("playbook repo: nil db")
	}
	if id == "" {
		return nil, errors.New("playbook repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, playbookSelect+` WHERE id = $1 LIMIT 1`, id)
	pb, err := r.scanPlaybook(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return pb, nil
}

// List returns playbooks ordered for evaluation: priority descending, ties
// broken by insertion order.
func (r *PlaybookRepository) List(ctx context.Context, enabledOnly bool) ([]rules.Playbook, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("playbook repo: nil db")
	}
	query := playbookSelect
	if enabledOnly {
		query += ` WHERE enabled = TRUE`
	}
	query += ` ORDER BY priority DESC, created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rules.Playbook
	for rows.Next() {
		pb, err := r.scanPlaybook(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *pb)
	}
	return result, rows.Err()
}

// ListEnabled returns enabled playbooks in evaluation order.
func (r *PlaybookRepository) ListEnabled(ctx context.Context) ([]rules.Playbook, error) {
	return r.List(ctx, true)
}

// Update applies a partial patch and returns the updated playbook.
func (r *PlaybookRepository) Update(ctx context.Context, id string, patch PlaybookPatch) (*rules.Playbook, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("playbook repo: nil db")
	}
	pb, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pb == nil {
		return nil, rules.ErrNotFound
	}
	if patch.Name != nil {
		pb.Name = *patch.Name
	}
	if patch.Enabled != nil {
		pb.Enabled = *patch.Enabled
	}
	if patch.Priority != nil {
		pb.Priority = *patch.Priority
	}
	if patch.Trigger != nil {
		pb.Trigger = *patch.Trigger
	}
	if patch.Mode != nil {
		pb.Mode = rules.ExecutionMode(*patch.Mode)
	}
	if patch.MaxFiresPerIncident != nil {
		pb.MaxFiresPerIncident = *patch.MaxFiresPerIncident
	}
	if patch.CooldownMinutes != nil {
		pb.CooldownMinutes = *patch.CooldownMinutes
	}
	conditionsRaw, err := json.Marshal(pb.Conditions)
	if err != nil {
		return nil, err
	}
	actionsRaw := rules.MarshalActions(pb.Actions)
	if patch.Conditions != nil {
		conditionsRaw = *patch.Conditions
		conds, warnings := rules.ParseConditions(*patch.Conditions)
		r.warn(pb.ID, warnings)
		pb.Conditions = conds
	}
	if patch.Actions != nil {
		actionsRaw = *patch.Actions
		actions, warnings := rules.ParseActions(*patch.Actions)
		r.warn(pb.ID, warnings)
		pb.Actions = actions
	}
	if err := pb.Validate(); err != nil {
		return nil, err
	}
	pb.UpdatedAt = time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
UPDATE playbooks SET
	name = $2, enabled = $3, priority = $4, trigger = $5, conditions = $6,
	actions = $7, mode = $8, max_fires_per_incident = $9, cooldown_minutes = $10,
	updated_at = $11
WHERE id = $1`, pb.ID, pb.Name, pb.Enabled, pb.Priority, pb.Trigger, []byte(conditionsRaw),
		[]byte(actionsRaw), string(pb.Mode), pb.MaxFiresPerIncident, pb.CooldownMinutes, pb.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.logAudit(ctx, "playbook.update", pb)
	return pb, nil
}

// Delete removes a playbook.
func (r *PlaybookRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("playbook repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM playbooks WHERE id = $1`, id)
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
	r.logAudit(ctx, "playbook.delete", &rules.Playbook{ID: id})
	return nil
}

const playbookSelect = `
SELECT id, name, enabled, priority, trigger, conditions, actions, mode,
	max_fires_per_incident, cooldown_minutes, COALESCE(created_by, ''), created_at, updated_at
FROM playbooks`

func (r *PlaybookRepository) scanPlaybook(scan func(...any) error) (*rules.Playbook, error) {
	var pb rules.Playbook
	var conditionsRaw, actionsRaw []byte
	var mode string
	if err := scan(
		&pb.ID,
		&pb.Name,
		&pb.Enabled,
		&pb.Priority,
		&pb.Trigger,
		&conditionsRaw,
		&actionsRaw,
		&mode,
		&pb.MaxFiresPerIncident,
		&pb.CooldownMinutes,
		&pb.CreatedBy,
		&pb.CreatedAt,
		&pb.UpdatedAt,
	); err != nil {
		return nil, err
	}
	pb.Mode = rules.ExecutionMode(mode)
	pb.CreatedAt = pb.CreatedAt.UTC()
	pb.UpdatedAt = pb.UpdatedAt.UTC()

	var warnings []string
	pb.Conditions, warnings = rules.ParseConditions(conditionsRaw)
	r.warn(pb.ID, warnings)
	var actionWarnings []string
	pb.Actions, actionWarnings = rules.ParseActions(actionsRaw)
	r.warn(pb.ID, actionWarnings)
	return &pb, nil
}

func (r *PlaybookRepository) warn(ruleID string, warnings []string) {
	if r == nil || r.logger == nil {
		return
	}
	for _, warning := range warnings {
		r.logger.Printf("playbook %s: %s", ruleID, warning)
	}
}

func (r *PlaybookRepository) logAudit(ctx context.Context, action string, pb *rules.Playbook) {
	if r == nil || r.db == nil || pb == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"name":    pb.Name,
		"trigger": pb.Trigger,
		"mode":    pb.Mode,
		"enabled": pb.Enabled,
	})
	repo := audit.NewRepository(r.db)
	if repo == nil {
		return
	}
	_ = repo.Log(ctx, audit.Entry{
		Actor:        actorOrSystem(pb.CreatedBy),
		Action:       action,
		ResourceType: "playbook",
		ResourceID:   pb.ID,
		Metadata:     meta,
		CreatedAt:    time.Now().UTC(),
	})
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return rules.ActorSystem
	}
	return actor
}
