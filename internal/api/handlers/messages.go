package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lightalert/internal/core"
	"lightalert/internal/types"
)

// MessageStore is the message persistence contract this handler consumes.
type MessageStore interface {
	GetByID(ctx context.Context, id int64) (*types.Message, error)
	List(ctx context.Context, filter types.MessageFilter) ([]*types.MessageSummary, int, error)
	RequeueFailed(ctx context.Context) (int64, error)
}

// MessageAlertReader resolves the alerts linked to a message.
type MessageAlertReader interface {
	ListByMessage(ctx context.Context, messageID int64) ([]*types.Alert, error)
}

// ConsolidationRunner runs one consolidation pass over unmessaged alerts.
type ConsolidationRunner interface {
	Run(ctx context.Context, mode types.ConsolidationMode, since time.Time) (*types.ConsolidationReport, error)
}

// SendRunner triggers one in-process delivery pass, the same path the
// external worker polls.
type SendRunner interface {
	RunOnce(ctx context.Context) (*types.SendReport, error)
}

// RunConsolidationRequest is the body for POST /v1/consolidations. Both
// fields default from configuration when omitted.
type RunConsolidationRequest struct {
	Mode          string `json:"mode,omitempty" validate:"omitempty,oneof=per_alert per_farm"`
	LookbackHours int    `json:"lookback_hours,omitempty" validate:"gte=0,lte=720"`
}

// MessageDetail is a message plus its linked alerts.
type MessageDetail struct {
	*types.Message
	Alerts []*types.Alert `json:"alerts"`
}

// MessageHandler exposes message browsing and the consolidation, send, and
// requeue triggers.
type MessageHandler struct {
	store        MessageStore
	alerts       MessageAlertReader
	consolidator ConsolidationRunner
	sender       SendRunner
	validator    *core.Validator
	logger       *slog.Logger

	defaultLookback time.Duration
	clock           types.Clock
}

// MessageHandlerConfig holds the dependencies for creating a MessageHandler.
type MessageHandlerConfig struct {
	Store        MessageStore
	Alerts       MessageAlertReader
	Consolidator ConsolidationRunner
	Sender       SendRunner
	Validator    *core.Validator
	Logger       *slog.Logger

	// DefaultLookback bounds consolidation runs that do not specify
	// lookback_hours. Zero means no lower time bound.
	DefaultLookback time.Duration
	Clock           types.Clock
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(cfg MessageHandlerConfig) *MessageHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MessageHandler{
		store:           cfg.Store,
		alerts:          cfg.Alerts,
		consolidator:    cfg.Consolidator,
		sender:          cfg.Sender,
		validator:       cfg.Validator,
		logger:          logger,
		defaultLookback: cfg.DefaultLookback,
		clock:           clock,
	}
}

// RegisterRoutes mounts the message and consolidation routes.
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Route("/messages", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/send-pending", h.SendPending)
		r.Post("/requeue-failed", h.RequeueFailed)
		r.Get("/{id}", h.Get)
	})

	r.Post("/consolidations", h.RunConsolidation)
}

// List handles GET /v1/messages.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.MessageFilter{FarmID: q.Get("farm_id")}
	if raw := q.Get("state"); raw != "" {
		state := types.MessageState(raw)
		if !state.Valid() {
			core.Error(w, r, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidState,
				"unknown message state filter",
				nil,
				map[string]any{"state": raw},
			))
			return
		}
		filter.State = state
	}

	var err error
	if filter.Page, err = parseIntParam(q.Get("page"), "page"); err != nil {
		core.Error(w, r, err)
		return
	}
	if filter.PageSize, err = parseIntParam(q.Get("page_size"), "page_size"); err != nil {
		core.Error(w, r, err)
		return
	}

	summaries, total, err := h.store.List(r.Context(), filter)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: summaries,
		Meta: &core.ListMeta{
			Page:     filter.Page,
			PageSize: filter.PageSize,
			Total:    total,
		},
	})
}

// Get handles GET /v1/messages/{id}: full body plus linked alerts.
func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	msg, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	alerts, err := h.alerts.ListByMessage(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: MessageDetail{
		Message: msg,
		Alerts:  alerts,
	}})
}

// RunConsolidation handles POST /v1/consolidations. An empty body is
// accepted and means "defaults": per-farm mode, configured lookback.
func (h *MessageHandler) RunConsolidation(w http.ResponseWriter, r *http.Request) {
	req := RunConsolidationRequest{}
	if r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
		if err := h.validator.ValidateStruct(req); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	mode := types.ModePerFarm
	if req.Mode != "" {
		mode = types.ConsolidationMode(req.Mode)
	}

	lookback := h.defaultLookback
	if req.LookbackHours > 0 {
		lookback = time.Duration(req.LookbackHours) * time.Hour
	}
	var since time.Time
	if lookback > 0 {
		since = h.clock.Now().Add(-lookback)
	}

	report, err := h.consolidator.Run(r.Context(), mode, since)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: report})
}

// SendPending handles POST /v1/messages/send-pending: one claim-and-send
// pass in-process. The external worker runs the same path on a timer.
func (h *MessageHandler) SendPending(w http.ResponseWriter, r *http.Request) {
	report, err := h.sender.RunOnce(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: report})
}

// RequeueFailed handles POST /v1/messages/requeue-failed: Error-state
// messages go back to Pendiente with a fresh attempt budget.
func (h *MessageHandler) RequeueFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.RequeueFailed(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]int64{"requeued": n}})
}
