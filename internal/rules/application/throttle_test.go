package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rules "dispatch-ops/internal/rules/domain"
)

func TestAllowFireHardCap(t *testing.T) {
	ledger := newFakeLedger()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	throttle := NewThrottle(ledger, nil, clock)

	pb := rules.Playbook{ID: "pb-1", MaxFiresPerIncident: 2}

	allowed, err := throttle.AllowFire(context.Background(), pb, "inc-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	for i := 0; i < 2; i++ {
		require.NoError(t, ledger.Insert(context.Background(), &rules.ExecutionRecord{
			RuleID:     "pb-1",
			IncidentID: "inc-1",
			Result:     rules.ResultSuggested,
			CreatedAt:  clock.Now(),
		}))
	}

	allowed, err = throttle.AllowFire(context.Background(), pb, "inc-1")
	require.NoError(t, err)
	assert.False(t, allowed, "cap reached")

	// The cap is per incident and permanent; time does not re-arm it.
	clock.advance(48 * time.Hour)
	allowed, err = throttle.AllowFire(context.Background(), pb, "inc-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = throttle.AllowFire(context.Background(), pb, "inc-2")
	require.NoError(t, err)
	assert.True(t, allowed, "other incidents unaffected")
}

func TestAllowFireDismissedCountsTowardCap(t *testing.T) {
	ledger := newFakeLedger()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	throttle := NewThrottle(ledger, nil, clock)

	require.NoError(t, ledger.Insert(context.Background(), &rules.ExecutionRecord{
		RuleID:     "pb-1",
		IncidentID: "inc-1",
		Result:     rules.ResultDismissed,
		CreatedAt:  clock.Now(),
	}))

	pb := rules.Playbook{ID: "pb-1", MaxFiresPerIncident: 1}
	allowed, err := throttle.AllowFire(context.Background(), pb, "inc-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestAllowFireCooldown(t *testing.T) {
	ledger := newFakeLedger()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	throttle := NewThrottle(ledger, nil, clock)

	require.NoError(t, ledger.Insert(context.Background(), &rules.ExecutionRecord{
		RuleID:     "pb-1",
		IncidentID: "inc-1",
		Result:     rules.ResultExecuted,
		CreatedAt:  clock.Now(),
	}))

	pb := rules.Playbook{ID: "pb-1", CooldownMinutes: 10}

	allowed, err := throttle.AllowFire(context.Background(), pb, "inc-1")
	require.NoError(t, err)
	assert.False(t, allowed, "inside cooldown")

	clock.advance(11 * time.Minute)
	allowed, err = throttle.AllowFire(context.Background(), pb, "inc-1")
	require.NoError(t, err)
	assert.True(t, allowed, "cooldown elapsed")
}

func TestAllowFireNoIncident(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failing = true
	throttle := NewThrottle(ledger, nil, nil)

	pb := rules.Playbook{ID: "pb-1", MaxFiresPerIncident: 1}
	allowed, err := throttle.AllowFire(context.Background(), pb, "")
	require.NoError(t, err, "incident-less events never consult the ledger")
	assert.True(t, allowed)
}

func TestRecentlyNotifiedWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	witness := &fakeWitness{seen: map[string]time.Time{
		"rr-1|inc-1:u-1": now.Add(-20 * time.Minute),
	}}
	throttle := NewThrottle(newFakeLedger(), witness, clock)

	seen, err := throttle.RecentlyNotified(context.Background(), "rr-1", "inc-1:u-1", 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, seen, "inside window")

	seen, err = throttle.RecentlyNotified(context.Background(), "rr-1", "inc-1:u-1", 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, seen, "window elapsed")

	seen, err = throttle.RecentlyNotified(context.Background(), "rr-1", "other", 30*time.Minute)
	require.NoError(t, err)
	assert.False(t, seen, "different target key")
}
