package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	rules "dispatch-ops/internal/rules/domain"
	rulerepo "dispatch-ops/internal/rules/infrastructure/postgres"
)

// PlaybookStore is the playbook CRUD surface the handler consumes.
type PlaybookStore interface {
	List(ctx context.Context, enabledOnly bool) ([]rules.Playbook, error)
	GetByID(ctx context.Context, id string) (*rules.Playbook, error)
	Create(ctx context.Context, pb *rules.Playbook) error
	Update(ctx context.Context, id string, patch rulerepo.PlaybookPatch) (*rules.Playbook, error)
	Delete(ctx context.Context, id string) error
}

// ReminderRuleStore is the reminder rule CRUD surface.
type ReminderRuleStore interface {
	List(ctx context.Context, enabledOnly bool) ([]rules.ReminderRule, error)
	GetByID(ctx context.Context, id string) (*rules.ReminderRule, error)
	Create(ctx context.Context, rule *rules.ReminderRule) error
	Update(ctx context.Context, id string, patch rulerepo.ReminderRulePatch) (*rules.ReminderRule, error)
	Delete(ctx context.Context, id string) error
}

// ExecutionStore lists ledger records.
type ExecutionStore interface {
	List(ctx context.Context, filter rulerepo.ExecutionFilter) ([]rules.ExecutionRecord, error)
}

// ReminderStore lists and acknowledges reminders.
type ReminderStore interface {
	List(ctx context.Context, unackedOnly bool, limit int) ([]rules.ReminderLogEntry, error)
	Ack(ctx context.Context, id, actor string, at time.Time) (bool, error)
}

// SuggestionResolver drives suggested executions to a terminal state.
type SuggestionResolver interface {
	Accept(ctx context.Context, executionID, actor string) bool
	Dismiss(ctx context.Context, executionID, actor string) bool
}

// EventEmitter feeds events into the engine.
type EventEmitter interface {
	Emit(ctx context.Context, eventType string, evctx rules.Context)
}

// Handler provides the automation HTTP API.
type Handler struct {
	playbooks  PlaybookStore
	reminders  ReminderRuleStore
	executions ExecutionStore
	log        ReminderStore
	resolver   SuggestionResolver
	emitter    EventEmitter
	logger     *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(playbooks PlaybookStore, reminderRules ReminderRuleStore, executions ExecutionStore, reminderLog ReminderStore, resolver SuggestionResolver, emitter EventEmitter, logger *log.Logger) (*Handler, error) {
	if playbooks == nil || reminderRules == nil || executions == nil || reminderLog == nil {
		return nil, errors.New("rules handler: nil store")
	}
	if resolver == nil || emitter == nil {
		return nil, errors.New("rules handler: nil engine")
	}
	return &Handler{
		playbooks:  playbooks,
		reminders:  reminderRules,
		executions: executions,
		log:        reminderLog,
		resolver:   resolver,
		emitter:    emitter,
		logger:     logger,
	}, nil
}

// Routes returns the /api/v1 route tree.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/playbooks", func(r chi.Router) {
		r.Get("/", h.handleListPlaybooks)
		r.Post("/", h.handleCreatePlaybook)
		r.Get("/{id}", h.handleGetPlaybook)
		r.Patch("/{id}", h.handleUpdatePlaybook)
		r.Delete("/{id}", h.handleDeletePlaybook)
	})

	r.Route("/reminder-rules", func(r chi.Router) {
		r.Get("/", h.handleListReminderRules)
		r.Post("/", h.handleCreateReminderRule)
		r.Get("/{id}", h.handleGetReminderRule)
		r.Patch("/{id}", h.handleUpdateReminderRule)
		r.Delete("/{id}", h.handleDeleteReminderRule)
	})

	r.Get("/executions", h.handleListExecutions)
	r.Post("/executions/{id}/accept", h.handleAccept)
	r.Post("/executions/{id}/dismiss", h.handleDismiss)

	r.Get("/reminders", h.handleListReminders)
	r.Post("/reminders/{id}/ack", h.handleAckReminder)

	r.Post("/events", h.handleEmitEvent)

	return r
}

func (h *Handler) handleListPlaybooks(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"
	list, err := h.playbooks.List(r.Context(), enabledOnly)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []rules.Playbook{}
	}
	respondJSON(w, http.StatusOK, list)
}

type playbookRequest struct {
	Name                string          `json:"name"`
	Enabled             *bool           `json:"enabled"`
	Priority            int             `json:"priority"`
	Trigger             string          `json:"trigger"`
	Conditions          json.RawMessage `json:"conditions"`
	Actions             json.RawMessage `json:"actions"`
	Mode                string          `json:"mode"`
	MaxFiresPerIncident int             `json:"max_fires_per_incident"`
	CooldownMinutes     int             `json:"cooldown_minutes"`
	CreatedBy           string          `json:"created_by"`
}

func (h *Handler) handleCreatePlaybook(w http.ResponseWriter, r *http.Request) {
	var req playbookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	conditions, condWarnings := rules.ParseConditions(req.Conditions)
	actions, actionWarnings := rules.ParseActions(req.Actions)
	h.warn(condWarnings)
	h.warn(actionWarnings)

	pb := rules.Playbook{
		Name:                req.Name,
		Enabled:             req.Enabled == nil || *req.Enabled,
		Priority:            req.Priority,
		Trigger:             req.Trigger,
		Conditions:          conditions,
		Actions:             actions,
		Mode:                rules.ExecutionMode(req.Mode),
		MaxFiresPerIncident: req.MaxFiresPerIncident,
		CooldownMinutes:     req.CooldownMinutes,
		CreatedBy:           req.CreatedBy,
	}
	if err := h.playbooks.Create(r.Context(), &pb); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondJSON(w, http.StatusCreated, pb)
}

func (h *Handler) handleGetPlaybook(w http.ResponseWriter, r *http.Request) {
	pb, err := h.playbooks.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if pb == nil {
		http.Error(w, "playbook not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, pb)
}

func (h *Handler) handleUpdatePlaybook(w http.ResponseWriter, r *http.Request) {
	var patch rulerepo.PlaybookPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	pb, err := h.playbooks.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			http.Error(w, "playbook not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondJSON(w, http.StatusOK, pb)
}

func (h *Handler) handleDeletePlaybook(w http.ResponseWriter, r *http.Request) {
	if err := h.playbooks.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			http.Error(w, "playbook not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListReminderRules(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"
	list, err := h.reminders.List(r.Context(), enabledOnly)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []rules.ReminderRule{}
	}
	respondJSON(w, http.StatusOK, list)
}

type reminderRuleRequest struct {
	Name             string          `json:"name"`
	Enabled          *bool           `json:"enabled"`
	Priority         int             `json:"priority"`
	RuleType         string          `json:"rule_type"`
	ThresholdMinutes int             `json:"threshold_minutes"`
	WindowHours      int             `json:"window_hours"`
	MinCount         int             `json:"min_count"`
	DedupMinutes     int             `json:"dedup_minutes"`
	Severity         string          `json:"severity"`
	Conditions       json.RawMessage `json:"conditions"`
	Actions          json.RawMessage `json:"actions"`
	CreatedBy        string          `json:"created_by"`
}

func (h *Handler) handleCreateReminderRule(w http.ResponseWriter, r *http.Request) {
	var req reminderRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	conditions, condWarnings := rules.ParseConditions(req.Conditions)
	actions, actionWarnings := rules.ParseActions(req.Actions)
	h.warn(condWarnings)
	h.warn(actionWarnings)

	rule := rules.ReminderRule{
		Name:             req.Name,
		Enabled:          req.Enabled == nil || *req.Enabled,
		Priority:         req.Priority,
		RuleType:         rules.ReminderType(req.RuleType),
		ThresholdMinutes: req.ThresholdMinutes,
		WindowHours:      req.WindowHours,
		MinCount:         req.MinCount,
		DedupMinutes:     req.DedupMinutes,
		Severity:         req.Severity,
		Conditions:       conditions,
		Actions:          actions,
		CreatedBy:        req.CreatedBy,
	}
	if err := h.reminders.Create(r.Context(), &rule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (h *Handler) handleGetReminderRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.reminders.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rule == nil {
		http.Error(w, "reminder rule not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (h *Handler) handleUpdateReminderRule(w http.ResponseWriter, r *http.Request) {
	var patch rulerepo.ReminderRulePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	rule, err := h.reminders.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			http.Error(w, "reminder rule not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (h *Handler) handleDeleteReminderRule(w http.ResponseWriter, r *http.Request) {
	if err := h.reminders.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			http.Error(w, "reminder rule not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	filter := rulerepo.ExecutionFilter{
		RuleID:     r.URL.Query().Get("rule_id"),
		IncidentID: r.URL.Query().Get("incident_id"),
		Limit:      intQuery(r, "limit"),
	}
	list, err := h.executions.List(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []rules.ExecutionRecord{}
	}
	respondJSON(w, http.StatusOK, list)
}

type actorRequest struct {
	Actor string `json:"actor"`
}

func decodeActor(r *http.Request) string {
	var req actorRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	return req.Actor
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	ok := h.resolver.Accept(r.Context(), chi.URLParam(r, "id"), decodeActor(r))
	respondResolved(w, ok)
}

func (h *Handler) handleDismiss(w http.ResponseWriter, r *http.Request) {
	ok := h.resolver.Dismiss(r.Context(), chi.URLParam(r, "id"), decodeActor(r))
	respondResolved(w, ok)
}

func respondResolved(w http.ResponseWriter, ok bool) {
	if !ok {
		respondJSON(w, http.StatusConflict, map[string]bool{"ok": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleListReminders(w http.ResponseWriter, r *http.Request) {
	unackedOnly := r.URL.Query().Get("unacked") == "true"
	list, err := h.log.List(r.Context(), unackedOnly, intQuery(r, "limit"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []rules.ReminderLogEntry{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handler) handleAckReminder(w http.ResponseWriter, r *http.Request) {
	actor := decodeActor(r)
	if actor == "" {
		actor = rules.ActorSystem
	}
	ok, err := h.log.Ack(r.Context(), chi.URLParam(r, "id"), actor, time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondResolved(w, ok)
}

type eventRequest struct {
	EventType string            `json:"event_type"`
	Context   map[string]string `json:"context"`
}

func (h *Handler) handleEmitEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.EventType == "" {
		http.Error(w, "event_type is required", http.StatusBadRequest)
		return
	}
	evctx := rules.Context(req.Context)
	if evctx == nil {
		evctx = rules.Context{}
	}
	evctx[rules.CtxEventType] = req.EventType

	h.emitter.Emit(r.Context(), req.EventType, evctx)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) warn(warnings []string) {
	if h.logger == nil {
		return
	}
	for _, warning := range warnings {
		h.logger.Printf("rules handler: %s", warning)
	}
}

func intQuery(r *http.Request, key string) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
