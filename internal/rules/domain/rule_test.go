package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlaybookValidate(t *testing.T) {
	valid := Playbook{
		ID:      "pb-1",
		Name:    "test",
		Trigger: "INCIDENT_CREATED",
		Mode:    ModeSuggest,
	}
	assert.NoError(t, valid.Validate())

	noTrigger := valid
	noTrigger.Trigger = ""
	assert.Error(t, noTrigger.Validate())

	badMode := valid
	badMode.Mode = "manual"
	assert.Error(t, badMode.Validate())

	negativeCap := valid
	negativeCap.MaxFiresPerIncident = -1
	assert.Error(t, negativeCap.Validate())
}

func TestPlaybookMatchesTrigger(t *testing.T) {
	pb := Playbook{Trigger: "UNIT_EMERGENCY"}
	assert.True(t, pb.MatchesTrigger("UNIT_EMERGENCY"))
	assert.False(t, pb.MatchesTrigger("INCIDENT_CREATED"))

	wildcard := Playbook{Trigger: TriggerAny}
	assert.True(t, wildcard.MatchesTrigger("INCIDENT_CREATED"))
	assert.True(t, wildcard.MatchesTrigger("anything"))
}

func TestReminderRuleValidate(t *testing.T) {
	onScene := ReminderRule{
		ID:               "rr-1",
		Name:             "on scene",
		RuleType:         ReminderOnSceneTimer,
		ThresholdMinutes: 30,
		DedupMinutes:     30,
		Severity:         "medium",
	}
	assert.NoError(t, onScene.Validate())

	noThreshold := onScene
	noThreshold.ThresholdMinutes = 0
	assert.Error(t, noThreshold.Validate())

	repeated := ReminderRule{
		ID:           "rr-2",
		Name:         "repeated",
		RuleType:     ReminderRepeatedAlarm,
		WindowHours:  24,
		MinCount:     2,
		DedupMinutes: 60,
		Severity:     "high",
	}
	assert.NoError(t, repeated.Validate())

	lowCount := repeated
	lowCount.MinCount = 1
	assert.Error(t, lowCount.Validate())

	badType := onScene
	badType.RuleType = "weekly_report"
	assert.Error(t, badType.Validate())
}

func TestDedupWindow(t *testing.T) {
	rule := ReminderRule{DedupMinutes: 45}
	assert.Equal(t, 45*time.Minute, rule.DedupWindow())
}
