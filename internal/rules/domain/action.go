package rules

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionKind tags an action descriptor.
type ActionKind string

const (
	ActionNotify               ActionKind = "notify"
	ActionSuggestDispatch      ActionKind = "suggest_dispatch"
	ActionAutoNotifySupervisor ActionKind = "auto_notify_supervisor"
	ActionAddNarrative         ActionKind = "add_narrative"
	ActionSetPriority          ActionKind = "set_priority"
)

// Known returns true when the kind has a defined effect.
func (k ActionKind) Known() bool {
	switch k {
	case ActionNotify, ActionSuggestDispatch, ActionAutoNotifySupervisor,
		ActionAddNarrative, ActionSetPriority:
		return true
	default:
		return false
	}
}

// Action describes one side effect a matched rule requests.
type Action struct {
	Kind        ActionKind `json:"type"`
	Message     string     `json:"message,omitempty"`
	Targets     []string   `json:"targets,omitempty"`
	UnitPattern string     `json:"unit_pattern,omitempty"`
	Priority    string     `json:"priority,omitempty"`
}

// ParseActions decodes the stored action list. Unknown kinds are kept so the
// executor can log and skip them, per-entry, at run time.
func ParseActions(raw json.RawMessage) ([]Action, []string) {
	if len(raw) == 0 {
		return nil, nil
	}
	var actions []Action
	if err := json.Unmarshal(raw, &actions); err != nil {
		return nil, []string{fmt.Sprintf("actions unreadable: %v", err)}
	}
	var warnings []string
	for i := range actions {
		actions[i].Kind = ActionKind(strings.ToLower(strings.TrimSpace(string(actions[i].Kind))))
		if !actions[i].Kind.Known() {
			warnings = append(warnings, fmt.Sprintf("action %d: unknown type %q", i, actions[i].Kind))
		}
	}
	return actions, warnings
}

// MarshalActions serializes an action list for storage.
func MarshalActions(actions []Action) json.RawMessage {
	if len(actions) == 0 {
		return json.RawMessage("[]")
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return json.RawMessage("[]")
	}
	return data
}
