package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rules "dispatch-ops/internal/rules/domain"
)

func TestDefaultPlaybooksValidate(t *testing.T) {
	defaults := defaultPlaybooks()
	require.NotEmpty(t, defaults)
	for _, pb := range defaults {
		pb.ID = "pb-pending"
		assert.NoError(t, pb.Validate(), pb.Name)
		assert.True(t, pb.Enabled, pb.Name)
	}
}

func TestDefaultReminderRulesCoverEveryType(t *testing.T) {
	defaults := defaultReminderRules()
	seen := map[rules.ReminderType]bool{}
	for _, rule := range defaults {
		rule.ID = "rr-pending"
		require.NoError(t, rule.Validate(), rule.Name)
		seen[rule.RuleType] = true
	}
	assert.True(t, seen[rules.ReminderOnSceneTimer])
	assert.True(t, seen[rules.ReminderRepeatedAlarm])
	assert.True(t, seen[rules.ReminderShiftHandoff])
}

func TestListedReminderAckedAtIsValue(t *testing.T) {
	// Acked entries surface a concrete timestamp; callers branch on the
	// zero value, never on nil.
	var entry rules.ReminderLogEntry
	assert.True(t, entry.AckedAt.IsZero())
}
