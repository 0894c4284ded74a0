package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchOperators(t *testing.T) {
	evctx := Context{
		"category": "Structure Fire",
		"severity": "high",
		"count":    "3",
	}

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals case insensitive", Condition{Field: "severity", Op: OpEquals, Value: "HIGH"}, true},
		{"equals mismatch", Condition{Field: "severity", Op: OpEquals, Value: "low"}, false},
		{"not equals", Condition{Field: "severity", Op: OpNotEquals, Value: "low"}, true},
		{"contains", Condition{Field: "category", Op: OpContains, Value: "structure"}, true},
		{"not contains", Condition{Field: "category", Op: OpNotContains, Value: "medical"}, true},
		{"starts with", Condition{Field: "category", Op: OpStartsWith, Value: "STRUCT"}, true},
		{"ends with", Condition{Field: "category", Op: OpEndsWith, Value: "fire"}, true},
		{"greater than", Condition{Field: "count", Op: OpGreaterThan, Value: "2"}, true},
		{"greater than false", Condition{Field: "count", Op: OpGreaterThan, Value: "5"}, false},
		{"less than", Condition{Field: "count", Op: OpLessThan, Value: "5"}, true},
		{"numeric parse failure is false", Condition{Field: "category", Op: OpGreaterThan, Value: "2"}, false},
		{"numeric value parse failure is false", Condition{Field: "count", Op: OpLessThan, Value: "many"}, false},
		{"in set", Condition{Field: "severity", Op: OpInSet, Value: "low, medium, high"}, true},
		{"in set miss", Condition{Field: "severity", Op: OpInSet, Value: "low,medium"}, false},
		{"missing field coerces to empty", Condition{Field: "absent", Op: OpEquals, Value: ""}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cond.Match(evctx))
		})
	}
}

func TestParseConditionsRegex(t *testing.T) {
	raw := json.RawMessage(`[{"field":"category","op":"regex","value":"structure\\s+fire"}]`)
	conds, warnings := ParseConditions(raw)
	require.Empty(t, warnings)
	require.Len(t, conds, 1)

	assert.True(t, conds[0].Match(Context{"category": "STRUCTURE  FIRE"}))
	assert.False(t, conds[0].Match(Context{"category": "brush fire"}))
}

func TestParseConditionsInvalidRegexNeverMatches(t *testing.T) {
	raw := json.RawMessage(`[{"field":"category","op":"regex","value":"["}]`)
	conds, warnings := ParseConditions(raw)
	require.Len(t, warnings, 1)
	require.Len(t, conds, 1)

	assert.False(t, conds[0].Match(Context{"category": "["}))
}

func TestParseConditionsUnknownOperator(t *testing.T) {
	raw := json.RawMessage(`[{"field":"severity","op":"between","value":"1"}]`)
	conds, warnings := ParseConditions(raw)
	require.Len(t, warnings, 1)
	require.Len(t, conds, 1)

	assert.False(t, conds[0].Match(Context{"severity": "1"}))
}

func TestParseConditionsUnreadableJSON(t *testing.T) {
	conds, warnings := ParseConditions(json.RawMessage(`{"not":"a list"}`))
	assert.Nil(t, conds)
	assert.Len(t, warnings, 1)
}

func TestEvaluateConditions(t *testing.T) {
	evctx := Context{"severity": "high", "category": "FIRE"}

	assert.True(t, EvaluateConditions(nil, evctx), "empty list matches")

	both := []Condition{
		{Field: "severity", Op: OpEquals, Value: "high"},
		{Field: "category", Op: OpContains, Value: "fire"},
	}
	assert.True(t, EvaluateConditions(both, evctx))

	oneMiss := []Condition{
		{Field: "severity", Op: OpEquals, Value: "high"},
		{Field: "category", Op: OpEquals, Value: "medical"},
	}
	assert.False(t, EvaluateConditions(oneMiss, evctx), "AND semantics")
}
