package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	rules "dispatch-ops/internal/rules/domain"
)

// SeedDefaults installs the starter rule set. Each table is seeded only
// when it is empty, so operator edits and deletions survive restarts.
func SeedDefaults(ctx context.Context, db *sql.DB, playbooks *PlaybookRepository, reminders *ReminderRuleRepository, logger *log.Logger) error {
	empty, err := tableEmpty(ctx, db, "playbooks")
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if empty {
		for _, pb := range defaultPlaybooks() {
			pb := pb
			if err := playbooks.Create(ctx, &pb); err != nil {
				return fmt.Errorf("seed playbook %q: %w", pb.Name, err)
			}
		}
		if logger != nil {
			logger.Printf("seeded %d default playbooks", len(defaultPlaybooks()))
		}
	}

	empty, err = tableEmpty(ctx, db, "reminder_rules")
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if empty {
		for _, rule := range defaultReminderRules() {
			rule := rule
			if err := reminders.Create(ctx, &rule); err != nil {
				return fmt.Errorf("seed reminder rule %q: %w", rule.Name, err)
			}
		}
		if logger != nil {
			logger.Printf("seeded %d default reminder rules", len(defaultReminderRules()))
		}
	}
	return nil
}

func tableEmpty(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

func defaultPlaybooks() []rules.Playbook {
	return []rules.Playbook{
		{
			Name:     "Structure fire second alarm prompt",
			Enabled:  true,
			Priority: 100,
			Trigger:  "INCIDENT_CREATED",
			Conditions: []rules.Condition{
				{Field: "category", Op: rules.OpContains, Value: "STRUCTURE FIRE"},
			},
			Actions: []rules.Action{
				{Kind: rules.ActionSuggestDispatch, UnitPattern: "LADDER", Message: "Structure fire reported, consider a ladder company"},
				{Kind: rules.ActionNotify, Message: "Structure fire opened: {{summary}}", Targets: []string{"dispatch"}},
			},
			Mode:                rules.ModeSuggest,
			MaxFiresPerIncident: 1,
			CreatedBy:           "system",
		},
		{
			Name:     "Unit emergency supervisor page",
			Enabled:  true,
			Priority: 200,
			Trigger:  "UNIT_EMERGENCY",
			Actions: []rules.Action{
				{Kind: rules.ActionAutoNotifySupervisor, Message: "Unit {{unit_id}} declared an emergency"},
				{Kind: rules.ActionAddNarrative, Message: "Emergency declared by {{unit_id}}, supervisor paged"},
			},
			Mode:                rules.ModeAuto,
			MaxFiresPerIncident: 0,
			CooldownMinutes:     5,
			CreatedBy:           "system",
		},
		{
			Name:     "High severity escalation",
			Enabled:  true,
			Priority: 50,
			Trigger:  rules.TriggerAny,
			Conditions: []rules.Condition{
				{Field: "severity", Op: rules.OpEquals, Value: "critical"},
			},
			Actions: []rules.Action{
				{Kind: rules.ActionSetPriority, Priority: "1"},
				{Kind: rules.ActionNotify, Message: "Critical-severity activity on incident {{incident_id}}", Targets: []string{"dispatch", "supervisor"}},
			},
			Mode:                rules.ModeSuggest,
			MaxFiresPerIncident: 1,
			CreatedBy:           "system",
		},
	}
}

func defaultReminderRules() []rules.ReminderRule {
	return []rules.ReminderRule{
		{
			Name:             "Units on scene over 30 minutes",
			Enabled:          true,
			Priority:         100,
			RuleType:         rules.ReminderOnSceneTimer,
			ThresholdMinutes: 30,
			DedupMinutes:     30,
			Severity:         "medium",
			Actions: []rules.Action{
				{Kind: rules.ActionNotify, Message: "Unit {{unit_id}} on scene past threshold", Targets: []string{"dispatch"}},
			},
			CreatedBy: "system",
		},
		{
			Name:         "Repeated alarms at the same location",
			Enabled:      true,
			Priority:     100,
			RuleType:     rules.ReminderRepeatedAlarm,
			WindowHours:  24,
			MinCount:     2,
			DedupMinutes: 240,
			Severity:     "high",
			Actions: []rules.Action{
				{Kind: rules.ActionNotify, Message: "Repeated alarms at {{location}}", Targets: []string{"dispatch", "supervisor"}},
			},
			CreatedBy: "system",
		},
		{
			Name:         "Shift handoff digest",
			Enabled:      true,
			Priority:     100,
			RuleType:     rules.ReminderShiftHandoff,
			DedupMinutes: 60,
			Severity:     "low",
			Actions: []rules.Action{
				{Kind: rules.ActionNotify, Message: "Shift handoff summary ready", Targets: []string{"dispatch"}},
			},
			CreatedBy: "system",
		},
	}
}
