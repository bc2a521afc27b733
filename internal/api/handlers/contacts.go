package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lightalert/internal/core"
	"lightalert/internal/types"
)

// ContactStore is the contact persistence contract this handler consumes.
type ContactStore interface {
	Create(ctx context.Context, c *types.Contact) error
	Update(ctx context.Context, c *types.Contact) error
	Deactivate(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*types.Contact, error)
	List(ctx context.Context) ([]*types.Contact, error)
	ListActive(ctx context.Context) ([]*types.Contact, error)
}

// CreateContactRequest is the body for POST /v1/contacts.
type CreateContactRequest struct {
	Name            string  `json:"name" validate:"required,max=200"`
	Email           string  `json:"email" validate:"required,email"`
	Phone           *string `json:"phone,omitempty" validate:"omitempty,max=30"`
	Role            string  `json:"role,omitempty" validate:"max=100"`
	ReceiveCritical bool    `json:"receive_critical"`
	ReceiveWarning  bool    `json:"receive_warning"`
	ReceiveNormal   bool    `json:"receive_normal"`
	FarmID          *string `json:"farm_id,omitempty" validate:"omitempty,max=50"`
	SectorID        *int64  `json:"sector_id,omitempty" validate:"omitempty,gt=0"`
	Priority        int     `json:"priority" validate:"gte=0"`
}

// UpdateContactRequest is the body for PATCH /v1/contacts/{id}. Scope fields
// (farm_id, sector_id) are replaced together when either is present, so a
// partial update cannot silently produce an orphaned sector scope.
type UpdateContactRequest struct {
	Name            *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Email           *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone           *string `json:"phone,omitempty" validate:"omitempty,max=30"`
	Role            *string `json:"role,omitempty" validate:"omitempty,max=100"`
	ReceiveCritical *bool   `json:"receive_critical,omitempty"`
	ReceiveWarning  *bool   `json:"receive_warning,omitempty"`
	ReceiveNormal   *bool   `json:"receive_normal,omitempty"`
	FarmID          *string `json:"farm_id,omitempty" validate:"omitempty,max=50"`
	SectorID        *int64  `json:"sector_id,omitempty" validate:"omitempty,gt=0"`
	ClearScope      bool    `json:"clear_scope,omitempty"`
	Priority        *int    `json:"priority,omitempty" validate:"omitempty,gte=0"`
	Active          *bool   `json:"active,omitempty"`
}

// ContactHandler administers the notification contact list.
type ContactHandler struct {
	store     ContactStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewContactHandler creates a new ContactHandler.
func NewContactHandler(store ContactStore, v *core.Validator, l *slog.Logger) *ContactHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ContactHandler{store: store, validator: v, logger: l}
}

// RegisterRoutes mounts the contact CRUD routes.
func (h *ContactHandler) RegisterRoutes(r chi.Router) {
	r.Route("/contacts", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/", h.Update)
			r.Delete("/", h.Deactivate)
		})
	})
}

// List handles GET /v1/contacts. ?active=true narrows to the set the
// recipient resolver considers.
func (h *ContactHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		contacts []*types.Contact
		err      error
	)
	if r.URL.Query().Get("active") == "true" {
		contacts, err = h.store.ListActive(r.Context())
	} else {
		contacts, err = h.store.List(r.Context())
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: contacts})
}

// Create handles POST /v1/contacts.
func (h *ContactHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateContactRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := validateContactScope(req.FarmID, req.SectorID); err != nil {
		core.Error(w, r, err)
		return
	}

	contact := &types.Contact{
		Name:            req.Name,
		Email:           req.Email,
		Phone:           req.Phone,
		Role:            req.Role,
		ReceiveCritical: req.ReceiveCritical,
		ReceiveWarning:  req.ReceiveWarning,
		ReceiveNormal:   req.ReceiveNormal,
		FarmID:          req.FarmID,
		SectorID:        req.SectorID,
		Priority:        req.Priority,
		Active:          true,
	}
	if err := h.store.Create(r.Context(), contact); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: contact})
}

// Get handles GET /v1/contacts/{id}.
func (h *ContactHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	contact, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: contact})
}

// Update handles PATCH /v1/contacts/{id}. The merged contact is re-checked
// against the scope hierarchy invariant before persisting.
func (h *ContactHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req UpdateContactRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	contact, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Name != nil {
		contact.Name = *req.Name
	}
	if req.Email != nil {
		contact.Email = *req.Email
	}
	if req.Phone != nil {
		contact.Phone = req.Phone
	}
	if req.Role != nil {
		contact.Role = *req.Role
	}
	if req.ReceiveCritical != nil {
		contact.ReceiveCritical = *req.ReceiveCritical
	}
	if req.ReceiveWarning != nil {
		contact.ReceiveWarning = *req.ReceiveWarning
	}
	if req.ReceiveNormal != nil {
		contact.ReceiveNormal = *req.ReceiveNormal
	}
	switch {
	case req.ClearScope:
		contact.FarmID = nil
		contact.SectorID = nil
	case req.FarmID != nil || req.SectorID != nil:
		contact.FarmID = req.FarmID
		contact.SectorID = req.SectorID
	}
	if req.Priority != nil {
		contact.Priority = *req.Priority
	}
	if req.Active != nil {
		contact.Active = *req.Active
	}

	if err := validateContactScope(contact.FarmID, contact.SectorID); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.store.Update(r.Context(), contact); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: contact})
}

// Deactivate handles DELETE /v1/contacts/{id}. Contacts are never deleted,
// only removed from the active set.
func (h *ContactHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
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

// validateContactScope enforces the strict scope hierarchy: a sector-scoped
// contact must also name its farm.
func validateContactScope(farmID *string, sectorID *int64) error {
	if sectorID != nil && farmID == nil {
		return types.NewAppError(
			types.ErrCodeValidationContactHierarchy,
			"sector_id requires farm_id to be set",
			nil,
		)
	}
	return nil
}
