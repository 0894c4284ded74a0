package application

import (
	"context"
	"time"

	rules "dispatch-ops/internal/rules/domain"
)

// FireLedger is the slice of the execution ledger the throttle reads.
type FireLedger interface {
	CountFires(ctx context.Context, ruleID, incidentID string) (int, error)
	LastFire(ctx context.Context, ruleID, incidentID string) (time.Time, bool, error)
}

// ReminderWitness answers whether a reminder already fired recently.
type ReminderWitness interface {
	RecentlyNotified(ctx context.Context, ruleID, targetKey string, window time.Duration, now time.Time) (bool, error)
}

// Throttle limits how often rules fire. Playbooks carry a permanent
// per-incident cap plus an optional cooldown; reminder rules use a
// rolling dedup window backed by the reminder log. A fire that was
// later dismissed still counts toward the cap.
type Throttle struct {
	ledger  FireLedger
	witness ReminderWitness
	clock   Clock
}

// NewThrottle constructs a throttle tracker.
func NewThrottle(ledger FireLedger, witness ReminderWitness, clock Clock) *Throttle {
	if clock == nil {
		clock = systemClock{}
	}
	return &Throttle{ledger: ledger, witness: witness, clock: clock}
}

// AllowFire reports whether a playbook may fire for an incident. Zero
// MaxFiresPerIncident means uncapped; zero CooldownMinutes means no
// cooldown. Events without an incident id are never capped.
func (t *Throttle) AllowFire(ctx context.Context, pb rules.Playbook, incidentID string) (bool, error) {
	if incidentID == "" {
		return true, nil
	}
	if pb.MaxFiresPerIncident > 0 {
		count, err := t.ledger.CountFires(ctx, pb.ID, incidentID)
		if err != nil {
			return false, err
		}
		if count >= pb.MaxFiresPerIncident {
			return false, nil
		}
	}
	if pb.CooldownMinutes > 0 {
		last, ok, err := t.ledger.LastFire(ctx, pb.ID, incidentID)
		if err != nil {
			return false, err
		}
		if ok && t.clock.Now().Sub(last) < time.Duration(pb.CooldownMinutes)*time.Minute {
			return false, nil
		}
	}
	return true, nil
}

// RecentlyNotified reports whether a reminder for (rule, target key)
// fired inside the window.
func (t *Throttle) RecentlyNotified(ctx context.Context, ruleID, targetKey string, window time.Duration) (bool, error) {
	if t.witness == nil || window <= 0 {
		return false, nil
	}
	return t.witness.RecentlyNotified(ctx, ruleID, targetKey, window, t.clock.Now())
}
