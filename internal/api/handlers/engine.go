// Package handlers contains the HTTP handler implementations for the
// FinPulse engine API.
//
// The engine exposes a small service-to-service surface: on-demand
// catch-up for a user, recompute-and-rearm for a rule, and an occurrence
// preview for the tracker UI. End-user authentication happens upstream in
// the main application; these routes trust their caller.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"finpulse/internal/core"
	"finpulse/internal/recurrence"
	"finpulse/internal/types"
)

// --- Service Interfaces ---
//
// Locally defined so the handlers depend on abstractions rather than the
// concrete catchup service and repositories.

// CatchUpService exposes the two engine operations the rest of the
// application calls. Implemented by catchup.Service.
type CatchUpService interface {
	// TriggerCatchUp walks every active rule the user owns. Per-rule
	// failures are collected in the result, never returned as the error.
	TriggerCatchUp(ctx context.Context, userID string) (types.SweepResult, error)

	// ScheduleRule walks one rule immediately and re-arms the owner's
	// timer chain from the recomputed schedule.
	ScheduleRule(ctx context.Context, ruleID string) (types.CatchUpResult, error)
}

// RuleReader provides rule lookup for the preview endpoint. Mirrors the
// db.RuleRepository method it needs.
type RuleReader interface {
	GetByID(ctx context.Context, id string) (*types.RecurringRule, error)
}

// Preview count bounds. The default covers half a year of monthly rules;
// the ceiling keeps a daily rule's preview to about two months.
const (
	defaultPreviewCount = 6
	maxPreviewCount     = 60
)

// --- Response Models ---

// RulePreview is the response body for GET /v1/rules/{ruleID}/preview.
// Dates are computed, never materialized.
type RulePreview struct {
	RuleID    string          `json:"rule_id"`
	RuleName  string          `json:"rule_name"`
	Frequency types.Frequency `json:"frequency"`
	Dates     []time.Time     `json:"dates"`
}

// --- Handler ---

// EngineHandler serves the engine's operational endpoints.
type EngineHandler struct {
	service CatchUpService
	rules   RuleReader
}

// NewEngineHandler creates an EngineHandler with the provided dependencies.
func NewEngineHandler(service CatchUpService, rules RuleReader) *EngineHandler {
	return &EngineHandler{
		service: service,
		rules:   rules,
	}
}

// RegisterRoutes mounts the engine routes on the provided chi.Router.
func (h *EngineHandler) RegisterRoutes(r chi.Router) {
	r.Post("/users/{userID}/catchup", h.TriggerCatchUp)

	r.Route("/rules/{ruleID}", func(r chi.Router) {
		r.Post("/schedule", h.ScheduleRule)
		r.Get("/preview", h.Preview)
	})
}

// --- Handler Methods ---

// TriggerCatchUp handles POST /v1/users/{userID}/catchup.
//
// Runs the catch-up walk over every active rule the user owns and returns
// the aggregate result. Per-rule failures appear in the result's failures
// list with a 200 status; only a failure to enumerate the rules at all is
// an error response.
func (h *EngineHandler) TriggerCatchUp(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"user ID is required",
			nil,
		))
		return
	}

	result, err := h.service.TriggerCatchUp(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// ScheduleRule handles POST /v1/rules/{ruleID}/schedule.
//
// Called by the main application after a rule is created or edited: walks
// the rule immediately (a past anchor backfills right away) and re-arms
// the owner's timer chain. Walk errors are reported inside the result; a
// missing rule is an error response.
func (h *EngineHandler) ScheduleRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleID")
	if ruleID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"rule ID is required",
			nil,
		))
		return
	}

	result, err := h.service.ScheduleRule(r.Context(), ruleID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// Preview handles GET /v1/rules/{ruleID}/preview?count=N.
//
// Returns the rule's next N occurrence dates from today onward, computed
// from the anchor without touching stored state. An inactive rule previews
// as empty; an end date truncates the series.
func (h *EngineHandler) Preview(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleID")
	if ruleID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"rule ID is required",
			nil,
		))
		return
	}

	count := defaultPreviewCount
	if raw := r.URL.Query().Get("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxPreviewCount {
			core.Error(w, r, types.NewAppErrorWithDetails(
				types.ErrCodeValidationPreviewCount,
				"count must be a number between 1 and 60",
				err,
				map[string]any{"count": raw},
			))
			return
		}
		count = parsed
	}

	rule, err := h.rules.GetByID(r.Context(), ruleID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	preview := RulePreview{
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Frequency: rule.Frequency,
		Dates:     []time.Time{},
	}

	if rule.IsActive {
		dates := recurrence.Series(rule.AnchorDate, time.Now().UTC(), rule.Frequency, count)
		for _, d := range dates {
			if rule.Ended(d) {
				break
			}
			preview.Dates = append(preview.Dates, d)
		}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: preview})
}
