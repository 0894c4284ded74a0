package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	rules "dispatch-ops/internal/rules/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeLedger implements FireLedger and ExecutionLedger in memory.
type fakeLedger struct {
	mu      sync.Mutex
	seq     int
	records map[string]*rules.ExecutionRecord
	failing bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: map[string]*rules.ExecutionRecord{}}
}

func (l *fakeLedger) Insert(_ context.Context, rec *rules.ExecutionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failing {
		return errors.New("ledger down")
	}
	if rec.ID == "" {
		l.seq++
		rec.ID = fmt.Sprintf("exec-%d", l.seq)
	}
	clone := *rec
	l.records[rec.ID] = &clone
	return nil
}

func (l *fakeLedger) GetByID(_ context.Context, id string) (*rules.ExecutionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return nil, nil
	}
	clone := *rec
	return &clone, nil
}

func (l *fakeLedger) Transition(_ context.Context, id, from, to, actor string, at time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok || rec.Result != from {
		return false, nil
	}
	rec.Result = to
	rec.Actor = actor
	rec.ResolvedAt = at
	return true, nil
}

func (l *fakeLedger) SetOutcome(_ context.Context, id string, actionsTaken []string, result, details string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return errors.New("missing record")
	}
	rec.ActionsTaken = actionsTaken
	rec.Result = result
	rec.Details = details
	return nil
}

func (l *fakeLedger) CountFires(_ context.Context, ruleID, incidentID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failing {
		return 0, errors.New("ledger down")
	}
	count := 0
	for _, rec := range l.records {
		if rec.RuleID == ruleID && rec.IncidentID == incidentID {
			count++
		}
	}
	return count, nil
}

func (l *fakeLedger) LastFire(_ context.Context, ruleID, incidentID string) (time.Time, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var last time.Time
	found := false
	for _, rec := range l.records {
		if rec.RuleID == ruleID && rec.IncidentID == incidentID && rec.CreatedAt.After(last) {
			last = rec.CreatedAt
			found = true
		}
	}
	return last, found, nil
}

func (l *fakeLedger) byResult(result string) []*rules.ExecutionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*rules.ExecutionRecord
	for _, rec := range l.records {
		if rec.Result == result {
			clone := *rec
			out = append(out, &clone)
		}
	}
	return out
}

type fakePlaybooks struct {
	list []rules.Playbook
	err  error
}

func (p *fakePlaybooks) ListEnabled(context.Context) ([]rules.Playbook, error) {
	return p.list, p.err
}

type broadcastCall struct {
	channel string
	payload map[string]any
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (b *fakeBroadcaster) Broadcast(channel string, payload map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcastCall{channel: channel, payload: payload})
}

func (b *fakeBroadcaster) onChannel(channel string) []broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []broadcastCall
	for _, call := range b.calls {
		if call.channel == channel {
			out = append(out, call)
		}
	}
	return out
}

type narrativeCall struct {
	incidentID string
	text       string
	author     string
}

type fakeNarrative struct {
	mu    sync.Mutex
	calls []narrativeCall
	err   error
}

func (n *fakeNarrative) AppendNarrative(_ context.Context, incidentID, text, author string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.calls = append(n.calls, narrativeCall{incidentID: incidentID, text: text, author: author})
	return nil
}

type fakeWitness struct {
	seen map[string]time.Time
}

func (w *fakeWitness) RecentlyNotified(_ context.Context, ruleID, targetKey string, window time.Duration, now time.Time) (bool, error) {
	at, ok := w.seen[ruleID+"|"+targetKey]
	if !ok {
		return false, nil
	}
	return now.Sub(at) < window, nil
}
