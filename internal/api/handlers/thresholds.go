package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lightalert/internal/core"
	"lightalert/internal/thresholds"
	"lightalert/internal/types"
)

// ThresholdStore is the rule persistence contract this handler consumes.
// Mirrors the concrete db.ThresholdRepository methods.
type ThresholdStore interface {
	Create(ctx context.Context, rule *types.ThresholdRule) error
	Update(ctx context.Context, rule *types.ThresholdRule) error
	Deactivate(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*types.ThresholdRule, error)
	List(ctx context.Context) ([]*types.ThresholdRule, error)
	ListActive(ctx context.Context) ([]*types.ThresholdRule, error)
}

// CreateThresholdRequest is the body for POST /v1/thresholds.
type CreateThresholdRequest struct {
	VarietyID      *int64  `json:"variety_id,omitempty" validate:"omitempty,gt=0"`
	Classification string  `json:"classification" validate:"required,oneof=CriticoRojo CriticoAmarillo Normal"`
	MinPct         float64 `json:"min_pct" validate:"gte=0,lte=100"`
	MaxPct         float64 `json:"max_pct" validate:"gte=0,lte=100"`
	Description    string  `json:"description,omitempty" validate:"max=500"`
	ColorHex       string  `json:"color_hex,omitempty" validate:"omitempty,hexcolor"`
	Orden          int     `json:"orden" validate:"gte=0"`
}

// UpdateThresholdRequest is the body for PATCH /v1/thresholds/{id}.
// Pointer fields allow partial updates.
type UpdateThresholdRequest struct {
	Classification *string  `json:"classification,omitempty" validate:"omitempty,oneof=CriticoRojo CriticoAmarillo Normal"`
	MinPct         *float64 `json:"min_pct,omitempty" validate:"omitempty,gte=0,lte=100"`
	MaxPct         *float64 `json:"max_pct,omitempty" validate:"omitempty,gte=0,lte=100"`
	Description    *string  `json:"description,omitempty" validate:"omitempty,max=500"`
	ColorHex       *string  `json:"color_hex,omitempty" validate:"omitempty,hexcolor"`
	Orden          *int     `json:"orden,omitempty" validate:"omitempty,gte=0"`
	Active         *bool    `json:"active,omitempty"`
}

// ThresholdHandler administers the threshold rule catalog.
type ThresholdHandler struct {
	store     ThresholdStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewThresholdHandler creates a new ThresholdHandler.
func NewThresholdHandler(store ThresholdStore, v *core.Validator, l *slog.Logger) *ThresholdHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ThresholdHandler{store: store, validator: v, logger: l}
}

// RegisterRoutes mounts the threshold CRUD routes.
func (h *ThresholdHandler) RegisterRoutes(r chi.Router) {
	r.Route("/thresholds", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/", h.Update)
			r.Delete("/", h.Deactivate)
		})
	})
}

// List handles GET /v1/thresholds. ?active=true narrows to the active set
// the matcher actually evaluates.
func (h *ThresholdHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		rules []*types.ThresholdRule
		err   error
	)
	if r.URL.Query().Get("active") == "true" {
		rules, err = h.store.ListActive(r.Context())
	} else {
		rules, err = h.store.List(r.Context())
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rules})
}

// Create handles POST /v1/thresholds.
func (h *ThresholdHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateThresholdRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := thresholds.ValidateRange(req.MinPct, req.MaxPct); err != nil {
		core.Error(w, r, err)
		return
	}

	rule := &types.ThresholdRule{
		VarietyID:   req.VarietyID,
		Class:       types.Classification(req.Classification),
		MinPct:      req.MinPct,
		MaxPct:      req.MaxPct,
		Description: req.Description,
		ColorHex:    req.ColorHex,
		Orden:       req.Orden,
		Active:      true,
	}
	if err := h.store.Create(r.Context(), rule); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: rule})
}

// Get handles GET /v1/thresholds/{id}.
func (h *ThresholdHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	rule, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rule})
}

// Update handles PATCH /v1/thresholds/{id}. The merged rule is re-checked
// against the range invariant before persisting.
func (h *ThresholdHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req UpdateThresholdRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	rule, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Classification != nil {
		rule.Class = types.Classification(*req.Classification)
	}
	if req.MinPct != nil {
		rule.MinPct = *req.MinPct
	}
	if req.MaxPct != nil {
		rule.MaxPct = *req.MaxPct
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.ColorHex != nil {
		rule.ColorHex = *req.ColorHex
	}
	if req.Orden != nil {
		rule.Orden = *req.Orden
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}

	if err := thresholds.ValidateRange(rule.MinPct, rule.MaxPct); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.store.Update(r.Context(), rule); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rule})
}

// Deactivate handles DELETE /v1/thresholds/{id}. Rules are never deleted,
// only taken out of the active set.
func (h *ThresholdHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.store.Deactivate(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
