package rules

import (
	"encoding/json"
	"regexp"
)

// Well-known context keys.
const (
	CtxEventType      = "event_type"
	CtxIncidentID     = "incident_id"
	CtxUnitID         = "unit_id"
	CtxCategory       = "category"
	CtxSeverity       = "severity"
	CtxSummary        = "summary"
	CtxUser           = "user"
	CtxShift          = "shift"
	CtxLocation       = "location"
	CtxElapsedMinutes = "elapsed_minutes"
	CtxAlarmCount     = "alarm_count"
)

// Context is the ephemeral fact set a rule's conditions are evaluated
// against. It is built fresh per evaluation and never persisted as state;
// a JSON snapshot is kept on suggestion records so a later accept replays
// exactly what was matched.
type Context map[string]string

// Get returns the value for a key; missing keys coerce to the empty string.
func (c Context) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

// IncidentID returns the incident the event concerns, if any.
func (c Context) IncidentID() string { return c.Get(CtxIncidentID) }

// UnitID returns the unit the event concerns, if any.
func (c Context) UnitID() string { return c.Get(CtxUnitID) }

// Clone returns an independent copy.
func (c Context) Clone() Context {
	if c == nil {
		return Context{}
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Snapshot serializes the context for ledger storage.
func (c Context) Snapshot() json.RawMessage {
	data, err := json.Marshal(c)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_]+)\s*\}\}`)

// ExpandMessage substitutes {{key}} placeholders with context values.
// Unknown keys expand to the empty string.
func ExpandMessage(message string, c Context) string {
	return placeholderPattern.ReplaceAllStringFunc(message, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		return c.Get(key)
	})
}

// ContextFromSnapshot restores a stored context snapshot.
func ContextFromSnapshot(raw json.RawMessage) (Context, error) {
	ctx := Context{}
	if len(raw) == 0 {
		return ctx, nil
	}
	if err := json.Unmarshal(raw, &ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}
