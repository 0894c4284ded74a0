package application

import (
	"context"
	"errors"
	"log"
	"time"

	"dispatch-ops/internal/observability/metrics"
	rules "dispatch-ops/internal/rules/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// PlaybookSource lists the rules the engine evaluates.
type PlaybookSource interface {
	ListEnabled(ctx context.Context) ([]rules.Playbook, error)
}

// ExecutionLedger is the append-only record of rule outcomes.
type ExecutionLedger interface {
	Insert(ctx context.Context, rec *rules.ExecutionRecord) error
	GetByID(ctx context.Context, id string) (*rules.ExecutionRecord, error)
	Transition(ctx context.Context, id, from, to, actor string, at time.Time) (bool, error)
	SetOutcome(ctx context.Context, id string, actionsTaken []string, result, details string) error
}

// Engine evaluates incoming events against enabled playbooks. It never
// propagates failures back to the event emitter; everything is logged
// and the pass continues with the next rule.
type Engine struct {
	playbooks   PlaybookSource
	ledger      ExecutionLedger
	throttle    *Throttle
	executor    *Executor
	broadcaster Broadcaster
	clock       Clock
	logger      *log.Logger
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithEngineClock assigns a clock.
func WithEngineClock(clock Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithEngineLogger assigns a logger.
func WithEngineLogger(logger *log.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine constructs a rule engine.
func NewEngine(playbooks PlaybookSource, ledger ExecutionLedger, throttle *Throttle, executor *Executor, broadcaster Broadcaster, opts ...EngineOption) (*Engine, error) {
	if playbooks == nil || ledger == nil {
		return nil, errors.New("engine: nil store")
	}
	if throttle == nil || executor == nil {
		return nil, errors.New("engine: nil throttle or executor")
	}
	engine := &Engine{
		playbooks:   playbooks,
		ledger:      ledger,
		throttle:    throttle,
		executor:    executor,
		broadcaster: broadcaster,
		clock:       systemClock{},
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// HandleEvent evaluates one event against every enabled playbook, in
// priority order. Per rule: trigger filter, then throttle, then
// conditions; matches branch on execution mode. Internal failures are
// logged and never surface to the emitter.
func (e *Engine) HandleEvent(ctx context.Context, eventType string, evctx rules.Context) {
	if e == nil || eventType == "" {
		return
	}
	playbooks, err := e.playbooks.ListEnabled(ctx)
	if err != nil {
		e.warnf("engine: rule load failed: %v", err)
		return
	}
	for _, pb := range playbooks {
		e.evaluate(ctx, pb, eventType, evctx)
	}
}

func (e *Engine) evaluate(ctx context.Context, pb rules.Playbook, eventType string, evctx rules.Context) {
	if !pb.MatchesTrigger(eventType) {
		metrics.IncRuleEvaluation("skipped_trigger")
		return
	}

	incidentID := evctx.IncidentID()
	allowed, err := e.throttle.AllowFire(ctx, pb, incidentID)
	if err != nil {
		e.warnf("engine: throttle check failed for %s: %v", pb.ID, err)
		metrics.IncRuleEvaluation("error")
		return
	}
	if !allowed {
		metrics.IncRuleEvaluation("skipped_throttled")
		return
	}

	if !rules.EvaluateConditions(pb.Conditions, evctx) {
		metrics.IncRuleEvaluation("skipped_condition")
		return
	}

	metrics.IncRuleEvaluation("matched")
	metrics.IncRuleMatch(string(pb.Mode))

	record := rules.ExecutionRecord{
		RuleID:           pb.ID,
		RuleName:         pb.Name,
		IncidentID:       incidentID,
		UnitID:           evctx.UnitID(),
		Actor:            rules.ActorSystem,
		SuggestedActions: rules.MarshalActions(pb.Actions),
		ContextSnapshot:  evctx.Snapshot(),
		CreatedAt:        e.clock.Now(),
	}

	switch pb.Mode {
	case rules.ModeAuto:
		taken := e.executor.Execute(ctx, pb.Actions, evctx, pb.Name)
		record.Result = rules.ResultExecuted
		record.ActionsTaken = taken
		if err := e.ledger.Insert(ctx, &record); err != nil {
			e.warnf("engine: ledger write failed for %s: %v", pb.ID, err)
		}

	case rules.ModeSuggest:
		record.Result = rules.ResultSuggested
		if err := e.ledger.Insert(ctx, &record); err != nil {
			e.warnf("engine: ledger write failed for %s: %v", pb.ID, err)
			return
		}
		if e.broadcaster != nil {
			e.broadcaster.Broadcast(ChannelSuggestion, map[string]any{
				"execution_id": record.ID,
				"rule":         pb.Name,
				"incident_id":  incidentID,
				"unit_id":      record.UnitID,
				"actions":      pb.Actions,
			})
		}

	default:
		e.warnf("engine: rule %s has unknown mode %q", pb.ID, pb.Mode)
	}
}

// Accept runs the stored action list of a suggested execution and flips
// the record to executed. Exactly one of concurrent Accept/Dismiss
// callers wins the conditional transition; everyone else gets false.
func (e *Engine) Accept(ctx context.Context, executionID, actor string) bool {
	if e == nil || executionID == "" {
		return false
	}
	if actor == "" {
		actor = rules.ActorSystem
	}
	now := e.clock.Now()
	ok, err := e.ledger.Transition(ctx, executionID, rules.ResultSuggested, rules.ResultExecuted, actor, now)
	if err != nil {
		e.warnf("engine: accept transition failed for %s: %v", executionID, err)
		return false
	}
	if !ok {
		return false
	}
	metrics.IncSuggestionResolved("accepted")

	record, err := e.ledger.GetByID(ctx, executionID)
	if err != nil || record == nil {
		e.warnf("engine: accepted %s but could not reload it: %v", executionID, err)
		return true
	}

	actions, warnings := rules.ParseActions(record.SuggestedActions)
	for _, w := range warnings {
		e.warnf("engine: execution %s: %s", executionID, w)
	}
	evctx, err := rules.ContextFromSnapshot(record.ContextSnapshot)
	if err != nil {
		e.warnf("engine: execution %s has unreadable context snapshot: %v", executionID, err)
		if err := e.ledger.SetOutcome(ctx, executionID, nil, rules.ResultError, "context snapshot unreadable"); err != nil {
			e.warnf("engine: outcome write failed for %s: %v", executionID, err)
		}
		return false
	}

	taken := e.executor.Execute(ctx, actions, evctx, record.RuleName)
	if err := e.ledger.SetOutcome(ctx, executionID, taken, rules.ResultExecuted, ""); err != nil {
		e.warnf("engine: outcome write failed for %s: %v", executionID, err)
	}
	return true
}

// Dismiss flips a suggested execution to dismissed without running
// anything. Returns false when the record is missing or already
// resolved.
func (e *Engine) Dismiss(ctx context.Context, executionID, actor string) bool {
	if e == nil || executionID == "" {
		return false
	}
	if actor == "" {
		actor = rules.ActorSystem
	}
	ok, err := e.ledger.Transition(ctx, executionID, rules.ResultSuggested, rules.ResultDismissed, actor, e.clock.Now())
	if err != nil {
		e.warnf("engine: dismiss transition failed for %s: %v", executionID, err)
		return false
	}
	if ok {
		metrics.IncSuggestionResolved("dismissed")
	}
	return ok
}

func (e *Engine) warnf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}
