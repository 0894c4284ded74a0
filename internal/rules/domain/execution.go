package rules

import (
	"encoding/json"
	"time"
)

// Execution results.
const (
	ResultExecuted  = "executed"
	ResultSuggested = "suggested"
	ResultDismissed = "dismissed"
	ResultError     = "error"
)

// ActorSystem attributes an execution to the engine itself.
const ActorSystem = "system"

// ExecutionRecord captures one rule-match outcome. Records are append-only;
// the only permitted mutation is the suggested -> executed/dismissed
// transition driven by a human actor.
type ExecutionRecord struct {
	ID               string          `json:"id"`
	RuleID           string          `json:"rule_id"`
	RuleName         string          `json:"rule_name"`
	IncidentID       string          `json:"incident_id,omitempty"`
	UnitID           string          `json:"unit_id,omitempty"`
	Result           string          `json:"result"`
	ActionsTaken     []string        `json:"actions_taken,omitempty"`
	SuggestedActions json.RawMessage `json:"suggested_actions,omitempty"`
	ContextSnapshot  json.RawMessage `json:"context,omitempty"`
	Actor            string          `json:"actor"`
	Details          string          `json:"details,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	ResolvedAt       time.Time       `json:"resolved_at,omitempty"`
}

// ReminderLogEntry is both the notification record for a periodic rule and
// the dedup witness for its suppression window.
type ReminderLogEntry struct {
	ID         string    `json:"id"`
	RuleID     string    `json:"rule_id"`
	IncidentID string    `json:"incident_id,omitempty"`
	UnitID     string    `json:"unit_id,omitempty"`
	TargetKey  string    `json:"target_key"`
	Message    string    `json:"message"`
	Severity   string    `json:"severity"`
	CreatedAt  time.Time `json:"created_at"`
	AckedBy    string    `json:"acked_by,omitempty"`
	AckedAt    time.Time `json:"acked_at,omitempty"`
}
