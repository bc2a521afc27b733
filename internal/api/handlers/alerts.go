// Package handlers contains the HTTP handler implementations for the
// lightalert API. Each handler depends on narrow, locally defined interfaces
// so tests can inject fakes without touching the concrete services.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"lightalert/internal/core"
	"lightalert/internal/types"
)

// AlertService is the alert-core contract this handler consumes. Mirrors the
// concrete alerts.Service methods.
type AlertService interface {
	RecordEvaluations(ctx context.Context, evals []types.Evaluation) ([]*types.Alert, error)
	Get(ctx context.Context, id int64) (*types.Alert, error)
	List(ctx context.Context, filter types.AlertFilter) ([]*types.Alert, int, error)
	Stats(ctx context.Context) (*types.AlertStats, error)
	Resolve(ctx context.Context, id int64, resolvedBy *int64, notes string) (*types.Alert, error)
	Ignore(ctx context.Context, id int64, resolvedBy *int64, notes string) (*types.Alert, error)
}

// RecordEvaluationRequest is the body for POST /v1/evaluations.
type RecordEvaluationRequest struct {
	LotID        int64   `json:"lot_id" validate:"required,gt=0"`
	EvaluationID *int64  `json:"evaluation_id,omitempty" validate:"omitempty,gt=0"`
	VarietyID    *int64  `json:"variety_id,omitempty" validate:"omitempty,gt=0"`
	LightPct     float64 `json:"light_pct" validate:"gte=0,lte=100"`
}

// EvaluationOutcome is the response body for POST /v1/evaluations. Alert is
// nil when the evaluation classified Normal or matched no rule.
type EvaluationOutcome struct {
	Created bool         `json:"created"`
	Alert   *types.Alert `json:"alert,omitempty"`
}

// ResolveAlertRequest is the body for the resolve and ignore operations.
type ResolveAlertRequest struct {
	OperatorID *int64 `json:"operator_id,omitempty" validate:"omitempty,gt=0"`
	Notes      string `json:"notes,omitempty" validate:"max=2000"`
}

// AlertHandler exposes alert listing, stats, lifecycle transitions, and the
// evaluation ingest point.
type AlertHandler struct {
	service   AlertService
	validator *core.Validator
	logger    *slog.Logger
}

// NewAlertHandler creates a new AlertHandler.
func NewAlertHandler(service AlertService, v *core.Validator, l *slog.Logger) *AlertHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AlertHandler{service: service, validator: v, logger: l}
}

// RegisterRoutes mounts the alert and evaluation routes.
func (h *AlertHandler) RegisterRoutes(r chi.Router) {
	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/stats", h.Stats)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/resolve", h.Resolve)
			r.Post("/ignore", h.Ignore)
		})
	})

	r.Post("/evaluations", h.RecordEvaluation)
}

// RecordEvaluation handles POST /v1/evaluations: one classified measurement
// in, at most one alert out. A Normal or unmatched evaluation returns 200
// with created=false; a created alert returns 201.
func (h *AlertHandler) RecordEvaluation(w http.ResponseWriter, r *http.Request) {
	var req RecordEvaluationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	created, err := h.service.RecordEvaluations(r.Context(), []types.Evaluation{{
		LotID:        req.LotID,
		EvaluationID: req.EvaluationID,
		VarietyID:    req.VarietyID,
		LightPct:     req.LightPct,
	}})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if len(created) == 0 {
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: EvaluationOutcome{Created: false}})
		return
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: EvaluationOutcome{
		Created: true,
		Alert:   created[0],
	}})
}

// List handles GET /v1/alerts.
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAlertFilter(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	alerts, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: alerts,
		Meta: &core.ListMeta{
			Page:     filter.Page,
			PageSize: filter.PageSize,
			Total:    total,
		},
	})
}

// Stats handles GET /v1/alerts/stats.
func (h *AlertHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: stats})
}

// Get handles GET /v1/alerts/{id}.
func (h *AlertHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	alert, err := h.service.Get(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: alert})
}

// Resolve handles POST /v1/alerts/{id}/resolve.
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Resolve)
}

// Ignore handles POST /v1/alerts/{id}/ignore.
func (h *AlertHandler) Ignore(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Ignore)
}

func (h *AlertHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, id int64, resolvedBy *int64, notes string) (*types.Alert, error),
) {
	id, err := parseIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req ResolveAlertRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	alert, err := op(r.Context(), id, req.OperatorID, req.Notes)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: alert})
}

// --- Query parsing helpers ---

// parseIDParam extracts a positive int64 {id} from the route.
func parseIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"id must be a positive integer",
			err,
		)
	}
	return id, nil
}

func parseAlertFilter(r *http.Request) (types.AlertFilter, error) {
	q := r.URL.Query()
	filter := types.AlertFilter{
		FarmID: q.Get("farm_id"),
	}

	if raw := q.Get("state"); raw != "" {
		filter.State = types.AlertState(raw)
	}
	if raw := q.Get("classification"); raw != "" {
		filter.Class = types.Classification(raw)
	}

	var err error
	if filter.From, err = parseTimeParam(q.Get("from"), "from"); err != nil {
		return filter, err
	}
	if filter.To, err = parseTimeParam(q.Get("to"), "to"); err != nil {
		return filter, err
	}
	if filter.Page, err = parseIntParam(q.Get("page"), "page"); err != nil {
		return filter, err
	}
	if filter.PageSize, err = parseIntParam(q.Get("page_size"), "page_size"); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseTimeParam(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationFailed,
			name+" must be an RFC 3339 timestamp",
			err,
			map[string]any{"param": name, "value": raw},
		)
	}
	return t.UTC(), nil
}

func parseIntParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeValidationFailed,
			name+" must be a non-negative integer",
			err,
			map[string]any{"param": name, "value": raw},
		)
	}
	return n, nil
}
