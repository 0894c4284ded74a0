package application

import (
	"context"
	"fmt"
	"log"
	"strings"

	"dispatch-ops/internal/observability/metrics"
	rules "dispatch-ops/internal/rules/domain"
)

// Broadcast channel names.
const (
	ChannelNotification = "playbook_notification"
	ChannelSuggestion   = "playbook_suggestion"
)

const supervisorTarget = "supervisor"

// Broadcaster delivers fire-and-forget notifications.
type Broadcaster interface {
	Broadcast(channel string, payload map[string]any)
}

// NarrativeSink appends annotations to an incident's narrative log.
type NarrativeSink interface {
	AppendNarrative(ctx context.Context, incidentID, text, author string) error
}

// Executor runs the side effects of matched rules. It never returns an
// error; failed effects are logged and the rest of the list continues.
type Executor struct {
	broadcaster Broadcaster
	narrative   NarrativeSink
	logger      *log.Logger
}

// NewExecutor constructs an action executor.
func NewExecutor(broadcaster Broadcaster, narrative NarrativeSink, logger *log.Logger) *Executor {
	return &Executor{broadcaster: broadcaster, narrative: narrative, logger: logger}
}

// Execute runs each action in order and returns human-readable
// descriptions of the effects. Unknown action kinds are skipped and
// contribute no description. There is no rollback.
func (e *Executor) Execute(ctx context.Context, actions []rules.Action, evctx rules.Context, ruleName string) []string {
	var taken []string
	for _, action := range actions {
		desc := e.runOne(ctx, action, evctx, ruleName)
		if desc == "" {
			continue
		}
		metrics.IncActionExecuted(string(action.Kind))
		taken = append(taken, desc)
	}
	return taken
}

func (e *Executor) runOne(ctx context.Context, action rules.Action, evctx rules.Context, ruleName string) string {
	message := rules.ExpandMessage(action.Message, evctx)
	switch action.Kind {
	case rules.ActionNotify:
		e.broadcast(ChannelNotification, evctx, ruleName, map[string]any{
			"message": message,
			"targets": action.Targets,
		})
		return fmt.Sprintf("notified %s: %s", targetsLabel(action.Targets), message)

	case rules.ActionSuggestDispatch:
		e.broadcast(ChannelSuggestion, evctx, ruleName, map[string]any{
			"message":      message,
			"unit_pattern": action.UnitPattern,
		})
		return fmt.Sprintf("suggested dispatch of %s: %s", action.UnitPattern, message)

	case rules.ActionAutoNotifySupervisor:
		targets := action.Targets
		if len(targets) == 0 {
			targets = []string{supervisorTarget}
		}
		e.broadcast(ChannelNotification, evctx, ruleName, map[string]any{
			"message": message,
			"targets": targets,
		})
		return fmt.Sprintf("notified %s: %s", targetsLabel(targets), message)

	case rules.ActionAddNarrative:
		incidentID := evctx.IncidentID()
		if incidentID == "" {
			return ""
		}
		if e.narrative == nil {
			return ""
		}
		if err := e.narrative.AppendNarrative(ctx, incidentID, message, rules.ActorSystem); err != nil {
			if e.logger != nil {
				e.logger.Printf("executor: narrative append failed for %s: %v", incidentID, err)
			}
			return ""
		}
		return fmt.Sprintf("added narrative to %s", incidentID)

	case rules.ActionSetPriority:
		// Priority stays a human decision; the engine only proposes.
		e.broadcast(ChannelNotification, evctx, ruleName, map[string]any{
			"message":            message,
			"suggested_priority": action.Priority,
		})
		return fmt.Sprintf("suggested priority %s", action.Priority)

	default:
		if e.logger != nil {
			e.logger.Printf("executor: skipping unknown action type %q in rule %q", action.Kind, ruleName)
		}
		return ""
	}
}

func (e *Executor) broadcast(channel string, evctx rules.Context, ruleName string, extra map[string]any) {
	if e.broadcaster == nil {
		return
	}
	payload := map[string]any{
		"rule":        ruleName,
		"incident_id": evctx.IncidentID(),
		"unit_id":     evctx.UnitID(),
	}
	for k, v := range extra {
		payload[k] = v
	}
	e.broadcaster.Broadcast(channel, payload)
}

func targetsLabel(targets []string) string {
	if len(targets) == 0 {
		return "all subscribers"
	}
	return strings.Join(targets, ", ")
}
