package scanner

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch-ops/internal/audit"
	"dispatch-ops/internal/opstate"
	"dispatch-ops/internal/rules/application"
	rules "dispatch-ops/internal/rules/domain"
)

type fakeOpStore struct {
	units      []opstate.Unit
	incidents  []opstate.Incident
	open       []opstate.Incident
	held       []opstate.Incident
	transports []opstate.Transport
	err        error
}

func (s *fakeOpStore) UnitsOnScene(context.Context) ([]opstate.Unit, error) {
	return s.units, s.err
}

func (s *fakeOpStore) IncidentsCreatedSince(_ context.Context, since time.Time) ([]opstate.Incident, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []opstate.Incident
	for _, inc := range s.incidents {
		if inc.CreatedAt.After(since) {
			out = append(out, inc)
		}
	}
	return out, nil
}

func (s *fakeOpStore) IncidentsByStatus(context.Context, ...string) ([]opstate.Incident, error) {
	return s.open, s.err
}

func (s *fakeOpStore) HeldIncidents(context.Context) ([]opstate.Incident, error) {
	return s.held, s.err
}

func (s *fakeOpStore) TransportsSince(context.Context, time.Time) ([]opstate.Transport, error) {
	return s.transports, s.err
}

type fakeRuleSource struct {
	list []rules.ReminderRule
	err  error
}

func (s *fakeRuleSource) ListEnabled(context.Context) ([]rules.ReminderRule, error) {
	return s.list, s.err
}

// fakeReminderLog records inserts and doubles as the dedup witness, the
// same way the real log table backs both.
type fakeReminderLog struct {
	entries []rules.ReminderLogEntry
}

func (l *fakeReminderLog) Insert(_ context.Context, entry rules.ReminderLogEntry) (rules.ReminderLogEntry, error) {
	entry.ID = fmt.Sprintf("rem-%d", len(l.entries)+1)
	l.entries = append(l.entries, entry)
	return entry, nil
}

func (l *fakeReminderLog) RecentlyNotified(_ context.Context, ruleID, targetKey string, window time.Duration, now time.Time) (bool, error) {
	for _, entry := range l.entries {
		if entry.RuleID == ruleID && entry.TargetKey == targetKey && entry.CreatedAt.After(now.Add(-window)) {
			return true, nil
		}
	}
	return false, nil
}

type fakeBroadcaster struct {
	calls []broadcastCall
}

type broadcastCall struct {
	channel string
	payload map[string]any
}

func (b *fakeBroadcaster) Broadcast(channel string, payload map[string]any) {
	b.calls = append(b.calls, broadcastCall{channel: channel, payload: payload})
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeAuditLog struct {
	entries []audit.Entry
}

func (l *fakeAuditLog) Log(_ context.Context, entry audit.Entry) error {
	l.entries = append(l.entries, entry)
	return nil
}

type scannerFixture struct {
	scanner     *Scanner
	store       *fakeOpStore
	reminderLog *fakeReminderLog
	broadcaster *fakeBroadcaster
	auditlog    *fakeAuditLog
	clock       *fakeClock
}

func newFixture(t *testing.T, ruleList []rules.ReminderRule) *scannerFixture {
	t.Helper()
	store := &fakeOpStore{}
	reminderLog := &fakeReminderLog{}
	broadcaster := &fakeBroadcaster{}
	auditlog := &fakeAuditLog{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)}
	throttle := application.NewThrottle(nil, reminderLog, clock)

	cfg := Config{
		OnSceneInterval:        time.Minute,
		RepeatedInterval:       5 * time.Minute,
		PassTimeout:            30 * time.Second,
		ShiftBoundaries:        []string{"07:00", "19:00"},
		TransportLookbackHours: 12,
	}
	s, err := New(cfg, store, &fakeRuleSource{list: ruleList}, reminderLog, throttle, broadcaster, nil,
		WithClock(clock), WithAuditLogger(auditlog))
	require.NoError(t, err)
	return &scannerFixture{
		scanner:     s,
		store:       store,
		reminderLog: reminderLog,
		broadcaster: broadcaster,
		auditlog:    auditlog,
		clock:       clock,
	}
}

func onSceneRule(dedupMinutes int) rules.ReminderRule {
	return rules.ReminderRule{
		ID: "rr-scene", Name: "long on scene", Enabled: true,
		RuleType:         rules.ReminderOnSceneTimer,
		ThresholdMinutes: 30,
		DedupMinutes:     dedupMinutes,
		Severity:         "medium",
	}
}

func TestOnScenePassThresholdAndDedup(t *testing.T) {
	f := newFixture(t, []rules.ReminderRule{onSceneRule(30)})
	now := f.clock.Now()
	f.store.units = []opstate.Unit{
		{ID: "u-1", CallSign: "E21", IncidentID: "inc-1", ArrivedAt: now.Add(-45 * time.Minute)},
		{ID: "u-2", CallSign: "M14", IncidentID: "inc-1", ArrivedAt: now.Add(-10 * time.Minute)},
	}

	require.NoError(t, f.scanner.runOnScenePass(context.Background(), now))

	require.Len(t, f.reminderLog.entries, 1, "only the unit past the threshold fires")
	entry := f.reminderLog.entries[0]
	assert.Equal(t, "rr-scene", entry.RuleID)
	assert.Equal(t, "inc-1:u-1", entry.TargetKey)
	assert.Equal(t, "Unit E21 on scene for 45 minutes", entry.Message)

	require.Len(t, f.broadcaster.calls, 1)
	assert.Equal(t, ChannelReminder, f.broadcaster.calls[0].channel)
	assert.Equal(t, "rem-1", f.broadcaster.calls[0].payload["reminder_id"])

	// Next pass inside the dedup window stays quiet.
	f.clock.advance(10 * time.Minute)
	require.NoError(t, f.scanner.runOnScenePass(context.Background(), f.clock.Now()))
	assert.Len(t, f.reminderLog.entries, 1)

	// Past the window the first unit re-arms, and by now the second
	// unit has crossed the threshold too.
	f.clock.advance(25 * time.Minute)
	require.NoError(t, f.scanner.runOnScenePass(context.Background(), f.clock.Now()))
	require.Len(t, f.reminderLog.entries, 3)
	assert.Equal(t, "inc-1:u-1", f.reminderLog.entries[1].TargetKey)
	assert.Equal(t, "inc-1:u-2", f.reminderLog.entries[2].TargetKey)
}

func TestOnScenePassUsesNotifyMessage(t *testing.T) {
	rule := onSceneRule(30)
	rule.Actions = []rules.Action{{Kind: rules.ActionNotify, Message: "check on unit {{unit_id}}"}}
	f := newFixture(t, []rules.ReminderRule{rule})
	now := f.clock.Now()
	f.store.units = []opstate.Unit{
		{ID: "u-7", CallSign: "E3", IncidentID: "inc-2", ArrivedAt: now.Add(-time.Hour)},
	}

	require.NoError(t, f.scanner.runOnScenePass(context.Background(), now))
	require.Len(t, f.reminderLog.entries, 1)
	assert.Equal(t, "check on unit u-7", f.reminderLog.entries[0].Message)
}

func TestOnScenePassConditionFilter(t *testing.T) {
	rule := onSceneRule(30)
	rule.Conditions = []rules.Condition{
		{Field: rules.CtxSeverity, Op: rules.OpEquals, Value: "high"},
	}
	f := newFixture(t, []rules.ReminderRule{rule})
	now := f.clock.Now()
	f.store.units = []opstate.Unit{
		{ID: "u-1", CallSign: "E21", IncidentID: "inc-1", ArrivedAt: now.Add(-time.Hour)},
	}

	require.NoError(t, f.scanner.runOnScenePass(context.Background(), now))
	assert.Empty(t, f.reminderLog.entries, "severity medium fails the equals high condition")
}

func TestRepeatedAlarmPassGroupsByLocation(t *testing.T) {
	rule := rules.ReminderRule{
		ID: "rr-alarm", Name: "repeated alarms", Enabled: true,
		RuleType:     rules.ReminderRepeatedAlarm,
		WindowHours:  24,
		MinCount:     2,
		DedupMinutes: 240,
		Severity:     "high",
	}
	f := newFixture(t, []rules.ReminderRule{rule})
	now := f.clock.Now()
	f.store.incidents = []opstate.Incident{
		{ID: "inc-1", Location: "123 Main St", CreatedAt: now.Add(-6 * time.Hour)},
		{ID: "inc-2", Location: " 123  MAIN  ST ", CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "inc-3", Location: "9 Oak Ave", CreatedAt: now.Add(-time.Hour)},
	}

	require.NoError(t, f.scanner.runRepeatedAlarmPass(context.Background(), now))

	require.Len(t, f.reminderLog.entries, 1, "only the address with two alarms fires")
	entry := f.reminderLog.entries[0]
	assert.Equal(t, "123 MAIN ST", entry.TargetKey)
	assert.Equal(t, "inc-2", entry.IncidentID, "latest incident in the group")
	assert.Contains(t, entry.Message, "2 alarms at 123 MAIN ST")

	// Dedup on the location suppresses a repeat.
	require.NoError(t, f.scanner.runRepeatedAlarmPass(context.Background(), now))
	assert.Len(t, f.reminderLog.entries, 1)
}

func TestRepeatedAlarmPassIgnoresBlankLocations(t *testing.T) {
	rule := rules.ReminderRule{
		ID: "rr-alarm", Name: "repeated alarms", Enabled: true,
		RuleType: rules.ReminderRepeatedAlarm, WindowHours: 24, MinCount: 2,
	}
	f := newFixture(t, []rules.ReminderRule{rule})
	now := f.clock.Now()
	f.store.incidents = []opstate.Incident{
		{ID: "inc-1", Location: "   ", CreatedAt: now.Add(-time.Hour)},
		{ID: "inc-2", Location: "", CreatedAt: now.Add(-time.Hour)},
	}

	require.NoError(t, f.scanner.runRepeatedAlarmPass(context.Background(), now))
	assert.Empty(t, f.reminderLog.entries)
}

func TestShiftHandoffPassDigestAndAudit(t *testing.T) {
	rule := rules.ReminderRule{
		ID: "rr-shift", Name: "shift handoff", Enabled: true,
		RuleType:     rules.ReminderShiftHandoff,
		DedupMinutes: 60,
		Severity:     "low",
	}
	f := newFixture(t, []rules.ReminderRule{rule})
	now := f.clock.Now()
	f.store.open = []opstate.Incident{
		{ID: "inc-1", Number: "26-0101", Category: "STRUCTURE FIRE", Location: "12 ELM ST", Status: opstate.StatusActive},
	}
	f.store.held = []opstate.Incident{
		{ID: "inc-2", Number: "26-0099", Category: "FUEL SPILL", HoldReason: "awaiting hazmat"},
	}
	f.store.transports = []opstate.Transport{
		{UnitID: "u-4", CallSign: "M14", IncidentID: "inc-3", Destination: "County General"},
	}

	require.NoError(t, f.scanner.runShiftHandoffPass(context.Background(), now))

	require.Len(t, f.reminderLog.entries, 1)
	entry := f.reminderLog.entries[0]
	assert.Equal(t, "shift:2026-03-01 07:00", entry.TargetKey)
	assert.Contains(t, entry.Message, "Open/active incidents: 1")
	assert.Contains(t, entry.Message, "26-0101 STRUCTURE FIRE at 12 ELM ST")
	assert.Contains(t, entry.Message, "26-0099 FUEL SPILL: awaiting hazmat")
	assert.Contains(t, entry.Message, "M14 to County General")

	require.Len(t, f.auditlog.entries, 1)
	assert.Equal(t, "scanner.shift_digest", f.auditlog.entries[0].Action)
	assert.Equal(t, "rr-shift", f.auditlog.entries[0].ResourceID)

	// Same boundary inside the dedup window fires once.
	require.NoError(t, f.scanner.runShiftHandoffPass(context.Background(), now))
	assert.Len(t, f.reminderLog.entries, 1)
}

func TestRulesOfTypeFilters(t *testing.T) {
	f := newFixture(t, []rules.ReminderRule{
		onSceneRule(30),
		{ID: "rr-shift", Name: "shift", Enabled: true, RuleType: rules.ReminderShiftHandoff},
	})
	matched, err := f.scanner.rulesOfType(context.Background(), rules.ReminderOnSceneTimer)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "rr-scene", matched[0].ID)
}

func TestAtShiftBoundary(t *testing.T) {
	f := newFixture(t, nil)
	assert.True(t, f.scanner.atShiftBoundary(time.Date(2026, 3, 1, 7, 0, 30, 0, time.UTC)))
	assert.True(t, f.scanner.atShiftBoundary(time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)))
	assert.False(t, f.scanner.atShiftBoundary(time.Date(2026, 3, 1, 7, 1, 0, 0, time.UTC)))
	assert.False(t, f.scanner.atShiftBoundary(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestDrainTicksDiscardsPendingTick(t *testing.T) {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	drainTicks(ch)
	assert.Empty(t, ch, "a tick that fired mid-pass is skipped")
	assert.NotPanics(t, func() { drainTicks(ch) })
}

func TestNormalizeLocation(t *testing.T) {
	assert.Equal(t, "123 MAIN ST", NormalizeLocation("123 Main St"))
	assert.Equal(t, "123 MAIN ST", NormalizeLocation("  123   main  st  "))
	assert.Equal(t, "", NormalizeLocation("   "))
}

func TestBuildDigestAllClear(t *testing.T) {
	digest := BuildDigest(time.Now(), nil, nil, nil)
	assert.Equal(t, "All clear: no open incidents, holds, or recent transports.", digest)
}

func TestBuildDigestTrailingNewlineTrimmed(t *testing.T) {
	digest := BuildDigest(time.Now(), []opstate.Incident{{Number: "26-1", Category: "MVA", Location: "HWY 9", Status: opstate.StatusOpen}}, nil, nil)
	assert.False(t, strings.HasSuffix(digest, "\n"))
}
