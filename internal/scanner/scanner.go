package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"dispatch-ops/internal/audit"
	"dispatch-ops/internal/observability/metrics"
	"dispatch-ops/internal/opstate"
	"dispatch-ops/internal/rules/application"
	rules "dispatch-ops/internal/rules/domain"
)

// ChannelReminder is the broadcast channel for scanner output.
const ChannelReminder = "reminder"

const digestAuditLimit = 2000

// OpStore is the read-only operational state the scanner queries.
type OpStore interface {
	UnitsOnScene(ctx context.Context) ([]opstate.Unit, error)
	IncidentsCreatedSince(ctx context.Context, since time.Time) ([]opstate.Incident, error)
	IncidentsByStatus(ctx context.Context, statuses ...string) ([]opstate.Incident, error)
	HeldIncidents(ctx context.Context) ([]opstate.Incident, error)
	TransportsSince(ctx context.Context, since time.Time) ([]opstate.Transport, error)
}

// RuleSource lists enabled reminder rules.
type RuleSource interface {
	ListEnabled(ctx context.Context) ([]rules.ReminderRule, error)
}

// ReminderLog records fired reminders.
type ReminderLog interface {
	Insert(ctx context.Context, entry rules.ReminderLogEntry) (rules.ReminderLogEntry, error)
}

// Scanner runs the three periodic jobs. Each job has its own timer and
// runs inline on its loop goroutine, so a tick that fires while the
// previous pass is still running is dropped, never queued.
type Scanner struct {
	cfg         Config
	store       OpStore
	ruleSource  RuleSource
	reminderLog ReminderLog
	throttle    *application.Throttle
	broadcaster application.Broadcaster
	auditlog    audit.Logger
	clock       application.Clock
	logger      *log.Logger
}

// Option customizes a scanner.
type Option func(*Scanner)

// WithClock assigns a clock.
func WithClock(clock application.Clock) Option {
	return func(s *Scanner) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithAuditLogger assigns an audit sink for shift digests.
func WithAuditLogger(auditlog audit.Logger) Option {
	return func(s *Scanner) {
		s.auditlog = auditlog
	}
}

// New constructs a scanner.
func New(cfg Config, store OpStore, ruleSource RuleSource, reminderLog ReminderLog, throttle *application.Throttle, broadcaster application.Broadcaster, logger *log.Logger, opts ...Option) (*Scanner, error) {
	if store == nil || ruleSource == nil || reminderLog == nil {
		return nil, errors.New("scanner: nil store")
	}
	if throttle == nil {
		return nil, errors.New("scanner: nil throttle")
	}
	scanner := &Scanner{
		cfg:         cfg,
		store:       store,
		ruleSource:  ruleSource,
		reminderLog: reminderLog,
		throttle:    throttle,
		broadcaster: broadcaster,
		logger:      logger,
		clock:       realClock{},
	}
	for _, opt := range opts {
		opt(scanner)
	}
	return scanner, nil
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Start launches the three job loops. They stop when ctx is cancelled.
func (s *Scanner) Start(ctx context.Context) {
	go s.loop(ctx, "on_scene", s.cfg.OnSceneInterval, s.runOnScenePass)
	go s.loop(ctx, "repeated_alarm", s.cfg.RepeatedInterval, s.runRepeatedAlarmPass)
	go s.shiftLoop(ctx)
}

func (s *Scanner) loop(ctx context.Context, job string, interval time.Duration, pass func(ctx context.Context, now time.Time) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runPass(ctx, job, pass)
			drainTicks(ticker.C)
		}
	}
}

// drainTicks discards a tick that accumulated while the previous pass
// was still running, so a slow pass skips cycles instead of running
// back-to-back the instant it returns.
func drainTicks(ch <-chan time.Time) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func (s *Scanner) shiftLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.atShiftBoundary(s.clock.Now()) {
				continue
			}
			s.runPass(ctx, "shift_handoff", s.runShiftHandoffPass)
			drainTicks(ticker.C)
		}
	}
}

func (s *Scanner) atShiftBoundary(now time.Time) bool {
	for _, boundary := range s.cfg.ShiftBoundaries {
		hour, minute, err := parseDailyAt(boundary)
		if err != nil {
			continue
		}
		if now.Hour() == hour && now.Minute() == minute {
			return true
		}
	}
	return false
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// runPass executes one pass under the pass timeout. A pass that fails
// or times out logs and waits for the next tick; there is no in-cycle
// retry.
func (s *Scanner) runPass(ctx context.Context, job string, pass func(ctx context.Context, now time.Time) error) {
	passCtx, cancel := context.WithTimeout(ctx, s.cfg.PassTimeout)
	defer cancel()

	start := s.clock.Now()
	err := pass(passCtx, start)
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveScan(job, metrics.ResultError, elapsed)
		if s.logger != nil {
			s.logger.Printf("scanner: %s pass skipped: %v", job, err)
		}
		return
	}
	metrics.ObserveScan(job, metrics.ResultSuccess, elapsed)
}

func (s *Scanner) rulesOfType(ctx context.Context, ruleType rules.ReminderType) ([]rules.ReminderRule, error) {
	all, err := s.ruleSource.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	var matched []rules.ReminderRule
	for _, rule := range all {
		if rule.RuleType == ruleType {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}

func (s *Scanner) runOnScenePass(ctx context.Context, now time.Time) error {
	onSceneRules, err := s.rulesOfType(ctx, rules.ReminderOnSceneTimer)
	if err != nil {
		return err
	}
	if len(onSceneRules) == 0 {
		return nil
	}
	units, err := s.store.UnitsOnScene(ctx)
	if err != nil {
		return err
	}
	for _, rule := range onSceneRules {
		threshold := time.Duration(rule.ThresholdMinutes) * time.Minute
		for _, unit := range units {
			elapsed := now.Sub(unit.ArrivedAt)
			if elapsed < threshold {
				continue
			}
			targetKey := unit.IncidentID + ":" + unit.ID
			seen, err := s.throttle.RecentlyNotified(ctx, rule.ID, targetKey, rule.DedupWindow())
			if err != nil {
				return err
			}
			if seen {
				continue
			}
			evctx := rules.Context{
				rules.CtxIncidentID:     unit.IncidentID,
				rules.CtxUnitID:         unit.ID,
				rules.CtxSeverity:       rule.Severity,
				rules.CtxElapsedMinutes: strconv.Itoa(int(elapsed.Minutes())),
			}
			if !rules.EvaluateConditions(rule.Conditions, evctx) {
				continue
			}
			message := s.reminderMessage(rule, evctx,
				fmt.Sprintf("Unit %s on scene for %d minutes", unit.CallSign, int(elapsed.Minutes())))
			s.fireReminder(ctx, rule, rules.ReminderLogEntry{
				RuleID:     rule.ID,
				IncidentID: unit.IncidentID,
				UnitID:     unit.ID,
				TargetKey:  targetKey,
				Message:    message,
				Severity:   rule.Severity,
			})
		}
	}
	return nil
}

func (s *Scanner) runRepeatedAlarmPass(ctx context.Context, now time.Time) error {
	alarmRules, err := s.rulesOfType(ctx, rules.ReminderRepeatedAlarm)
	if err != nil {
		return err
	}
	for _, rule := range alarmRules {
		window := time.Duration(rule.WindowHours) * time.Hour
		incidents, err := s.store.IncidentsCreatedSince(ctx, now.Add(-window))
		if err != nil {
			return err
		}
		groups := make(map[string][]opstate.Incident)
		for _, inc := range incidents {
			loc := NormalizeLocation(inc.Location)
			if loc == "" {
				continue
			}
			groups[loc] = append(groups[loc], inc)
		}
		for loc, group := range groups {
			if len(group) < rule.MinCount {
				continue
			}
			seen, err := s.throttle.RecentlyNotified(ctx, rule.ID, loc, rule.DedupWindow())
			if err != nil {
				return err
			}
			if seen {
				continue
			}
			latest := group[len(group)-1]
			evctx := rules.Context{
				rules.CtxIncidentID: latest.ID,
				rules.CtxLocation:   loc,
				rules.CtxSeverity:   rule.Severity,
				rules.CtxAlarmCount: strconv.Itoa(len(group)),
			}
			if !rules.EvaluateConditions(rule.Conditions, evctx) {
				continue
			}
			message := s.reminderMessage(rule, evctx,
				fmt.Sprintf("%d alarms at %s within %dh", len(group), loc, rule.WindowHours))
			s.fireReminder(ctx, rule, rules.ReminderLogEntry{
				RuleID:     rule.ID,
				IncidentID: latest.ID,
				TargetKey:  loc,
				Message:    message,
				Severity:   rule.Severity,
			})
		}
	}
	return nil
}

func (s *Scanner) runShiftHandoffPass(ctx context.Context, now time.Time) error {
	handoffRules, err := s.rulesOfType(ctx, rules.ReminderShiftHandoff)
	if err != nil {
		return err
	}
	if len(handoffRules) == 0 {
		return nil
	}

	open, err := s.store.IncidentsByStatus(ctx, opstate.StatusOpen, opstate.StatusActive)
	if err != nil {
		return err
	}
	held, err := s.store.HeldIncidents(ctx)
	if err != nil {
		return err
	}
	lookback := time.Duration(s.cfg.TransportLookbackHours) * time.Hour
	transports, err := s.store.TransportsSince(ctx, now.Add(-lookback))
	if err != nil {
		return err
	}

	digest := BuildDigest(now, open, held, transports)
	boundaryKey := "shift:" + now.Format("2006-01-02 15:04")

	for _, rule := range handoffRules {
		seen, err := s.throttle.RecentlyNotified(ctx, rule.ID, boundaryKey, rule.DedupWindow())
		if err != nil {
			return err
		}
		if seen {
			continue
		}
		s.fireReminder(ctx, rule, rules.ReminderLogEntry{
			RuleID:    rule.ID,
			TargetKey: boundaryKey,
			Message:   digest,
			Severity:  rule.Severity,
		})
		s.auditDigest(ctx, rule, digest)
	}
	return nil
}

func (s *Scanner) fireReminder(ctx context.Context, rule rules.ReminderRule, entry rules.ReminderLogEntry) {
	entry.CreatedAt = s.clock.Now()
	inserted, err := s.reminderLog.Insert(ctx, entry)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("scanner: reminder log write failed for %s: %v", rule.ID, err)
		}
		return
	}
	metrics.IncReminder(string(rule.RuleType))
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(ChannelReminder, map[string]any{
			"reminder_id": inserted.ID,
			"rule":        rule.Name,
			"rule_type":   string(rule.RuleType),
			"incident_id": entry.IncidentID,
			"unit_id":     entry.UnitID,
			"message":     entry.Message,
			"severity":    entry.Severity,
		})
	}
}

// reminderMessage prefers the rule's first notify action message, with
// placeholders expanded, over the generated fallback.
func (s *Scanner) reminderMessage(rule rules.ReminderRule, evctx rules.Context, fallback string) string {
	for _, action := range rule.Actions {
		if action.Kind == rules.ActionNotify && action.Message != "" {
			return rules.ExpandMessage(action.Message, evctx)
		}
	}
	return fallback
}

func (s *Scanner) auditDigest(ctx context.Context, rule rules.ReminderRule, digest string) {
	if s.auditlog == nil {
		return
	}
	truncated := digest
	if len(truncated) > digestAuditLimit {
		truncated = truncated[:digestAuditLimit]
	}
	meta, _ := json.Marshal(map[string]string{"digest": truncated})
	entry := audit.Entry{
		ID:            audit.NewID(),
		Actor:         rules.ActorSystem,
		Action:        "scanner.shift_digest",
		ResourceType:  "reminder_rule",
		ResourceID:    rule.ID,
		Metadata:      meta,
		PayloadDigest: audit.DigestJSON(meta),
		CreatedAt:     s.clock.Now(),
	}
	if err := s.auditlog.Log(ctx, entry); err != nil && s.logger != nil {
		s.logger.Printf("scanner: audit write failed: %v", err)
	}
}

// NormalizeLocation upper-cases and collapses internal whitespace so
// "123 Main St" and " 123  MAIN  ST " group together.
func NormalizeLocation(location string) string {
	return strings.Join(strings.Fields(strings.ToUpper(location)), " ")
}

// BuildDigest renders the shift handoff summary.
func BuildDigest(now time.Time, open, held []opstate.Incident, transports []opstate.Transport) string {
	if len(open) == 0 && len(held) == 0 && len(transports) == 0 {
		return "All clear: no open incidents, holds, or recent transports."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Shift handoff %s\n", now.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Open/active incidents: %d\n", len(open))
	for _, inc := range open {
		fmt.Fprintf(&b, "  %s %s at %s (%s)\n", inc.Number, inc.Category, inc.Location, inc.Status)
	}
	fmt.Fprintf(&b, "Held incidents: %d\n", len(held))
	for _, inc := range held {
		reason := inc.HoldReason
		if reason == "" {
			reason = "no reason recorded"
		}
		fmt.Fprintf(&b, "  %s %s: %s\n", inc.Number, inc.Category, reason)
	}
	fmt.Fprintf(&b, "Transports (trailing window): %d\n", len(transports))
	for _, t := range transports {
		dest := t.Destination
		if dest == "" {
			dest = "unknown destination"
		}
		fmt.Fprintf(&b, "  %s to %s\n", t.CallSign, dest)
	}
	return strings.TrimRight(b.String(), "\n")
}
