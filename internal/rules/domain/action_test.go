package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionsKeepsUnknownKinds(t *testing.T) {
	raw := json.RawMessage(`[
		{"type":"notify","message":"hello","targets":["dispatch"]},
		{"type":"page_mayor","message":"nope"}
	]`)
	actions, warnings := ParseActions(raw)
	require.Len(t, actions, 2)
	require.Len(t, warnings, 1)

	assert.Equal(t, ActionNotify, actions[0].Kind)
	assert.False(t, actions[1].Kind.Known())
}

func TestParseActionsNormalizesKind(t *testing.T) {
	raw := json.RawMessage(`[{"type":" Notify "}]`)
	actions, warnings := ParseActions(raw)
	require.Empty(t, warnings)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionNotify, actions[0].Kind)
}

func TestExpandMessage(t *testing.T) {
	evctx := Context{
		CtxUnitID:     "u-7",
		CtxIncidentID: "inc-1",
	}
	got := ExpandMessage("Unit {{unit_id}} on {{incident_id}}, shift {{shift}}", evctx)
	assert.Equal(t, "Unit u-7 on inc-1, shift ", got)
}

func TestContextSnapshotRoundTrip(t *testing.T) {
	evctx := Context{CtxEventType: "INCIDENT_CREATED", CtxSeverity: "high"}
	restored, err := ContextFromSnapshot(evctx.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, evctx, restored)
}
