package rules

import (
	"errors"
	"time"
)

// ExecutionMode decides whether matched actions run immediately or wait
// for a dispatcher to accept the suggestion.
type ExecutionMode string

const (
	ModeAuto    ExecutionMode = "auto"
	ModeSuggest ExecutionMode = "suggest"
)

// Valid returns true when the mode is supported.
func (m ExecutionMode) Valid() bool {
	switch m {
	case ModeAuto, ModeSuggest:
		return true
	default:
		return false
	}
}

// TriggerAny matches every event type.
const TriggerAny = "any"

// Playbook is an event-triggered rule.
type Playbook struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Enabled             bool          `json:"enabled"`
	Priority            int           `json:"priority"`
	Trigger             string        `json:"trigger"`
	Conditions          []Condition   `json:"conditions"`
	Actions             []Action      `json:"actions"`
	Mode                ExecutionMode `json:"mode"`
	MaxFiresPerIncident int           `json:"max_fires_per_incident"`
	CooldownMinutes     int           `json:"cooldown_minutes"`
	CreatedBy           string        `json:"created_by,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// Validate checks playbook invariants.
func (p Playbook) Validate() error {
	if p.ID == "" {
		return errors.New("playbook: empty id")
	}
	if p.Name == "" {
		return errors.New("playbook: empty name")
	}
	if p.Trigger == "" {
		return errors.New("playbook: empty trigger")
	}
	if !p.Mode.Valid() {
		return errors.New("playbook: invalid execution mode")
	}
	if p.MaxFiresPerIncident < 0 {
		return errors.New("playbook: negative fire cap")
	}
	if p.CooldownMinutes < 0 {
		return errors.New("playbook: negative cooldown")
	}
	return nil
}

// MatchesTrigger reports whether the playbook is considered for an event type.
func (p Playbook) MatchesTrigger(eventType string) bool {
	return p.Trigger == TriggerAny || p.Trigger == eventType
}

// ReminderType selects which scanner logic applies to a reminder rule.
type ReminderType string

const (
	ReminderOnSceneTimer  ReminderType = "on_scene_timer"
	ReminderRepeatedAlarm ReminderType = "repeated_alarm"
	ReminderShiftHandoff  ReminderType = "shift_handoff"
)

// Valid returns true when the reminder type is supported.
func (t ReminderType) Valid() bool {
	switch t {
	case ReminderOnSceneTimer, ReminderRepeatedAlarm, ReminderShiftHandoff:
		return true
	default:
		return false
	}
}

// ReminderRule is a periodic rule evaluated by the scanner.
type ReminderRule struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Enabled          bool         `json:"enabled"`
	Priority         int          `json:"priority"`
	RuleType         ReminderType `json:"rule_type"`
	ThresholdMinutes int          `json:"threshold_minutes,omitempty"`
	WindowHours      int          `json:"window_hours,omitempty"`
	MinCount         int          `json:"min_count,omitempty"`
	DedupMinutes     int          `json:"dedup_minutes"`
	Severity         string       `json:"severity"`
	Conditions       []Condition  `json:"conditions"`
	Actions          []Action     `json:"actions"`
	CreatedBy        string       `json:"created_by,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Validate checks reminder rule invariants.
func (r ReminderRule) Validate() error {
	if r.ID == "" {
		return errors.New("reminder rule: empty id")
	}
	if r.Name == "" {
		return errors.New("reminder rule: empty name")
	}
	if !r.RuleType.Valid() {
		return errors.New("reminder rule: invalid rule type")
	}
	switch r.RuleType {
	case ReminderOnSceneTimer:
		if r.ThresholdMinutes <= 0 {
			return errors.New("reminder rule: on-scene threshold must be positive")
		}
	case ReminderRepeatedAlarm:
		if r.WindowHours <= 0 {
			return errors.New("reminder rule: repeated-alarm window must be positive")
		}
		if r.MinCount < 2 {
			return errors.New("reminder rule: repeated-alarm min count must be at least 2")
		}
	}
	if r.DedupMinutes < 0 {
		return errors.New("reminder rule: negative dedup window")
	}
	return nil
}

// DedupWindow returns the suppression window as a duration.
func (r ReminderRule) DedupWindow() time.Duration {
	return time.Duration(r.DedupMinutes) * time.Minute
}
