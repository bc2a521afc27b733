// Package alerts implements the alert lifecycle: creation from classified
// light evaluations, listing and stats for the operator dashboard, and the
// resolve/ignore state transitions.
package alerts

import (
	"context"
	"errors"
	"log/slog"

	"lightalert/internal/thresholds"
	"lightalert/internal/types"
)

// ThresholdCatalog supplies the active rule snapshot a batch classifies
// against.
type ThresholdCatalog interface {
	ListActive(ctx context.Context) ([]*types.ThresholdRule, error)
}

// AlertStore is the persistence surface the service needs.
type AlertStore interface {
	Create(ctx context.Context, a *types.Alert) error
	GetByID(ctx context.Context, id int64) (*types.Alert, error)
	List(ctx context.Context, filter types.AlertFilter) ([]*types.Alert, int, error)
	Stats(ctx context.Context) (*types.AlertStats, error)
	UpdateState(ctx context.Context, id int64, fromState, toState types.AlertState, resolvedBy *int64, notes string) error
}

// LotResolver resolves lot ids to their hierarchy, used to default the
// variety when an evaluation does not carry one.
type LotResolver interface {
	GetLotInfo(ctx context.Context, lotID int64) (*types.LotInfo, error)
}

// Service implements the alert operations.
type Service struct {
	catalog ThresholdCatalog
	store   AlertStore
	lots    LotResolver
	clock   types.Clock
	logger  *slog.Logger
}

// ServiceConfig holds the dependencies for creating a Service.
type ServiceConfig struct {
	Catalog ThresholdCatalog
	Store   AlertStore
	Lots    LotResolver
	Clock   types.Clock
	Logger  *slog.Logger
}

// NewService creates a new alert Service. If Clock is nil, RealClock is
// used; if Logger is nil, slog.Default is used.
func NewService(cfg ServiceConfig) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		catalog: cfg.Catalog,
		store:   cfg.Store,
		lots:    cfg.Lots,
		clock:   clock,
		logger:  logger,
	}
}

// RecordEvaluations classifies a batch of light evaluations against a single
// rule snapshot and persists an alert for every critical reading. Normal
// readings and readings no rule covers produce no alert. Per-row persistence
// failures abort the batch; already created alerts stay created, and the
// caller retries idempotently through the evaluation id.
func (s *Service) RecordEvaluations(ctx context.Context, evals []types.Evaluation) ([]*types.Alert, error) {
	rules, err := s.catalog.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	matcher := thresholds.NewMatcher(rules)

	var created []*types.Alert
	for _, eval := range evals {
		alert, err := s.recordOne(ctx, matcher, eval)
		if err != nil {
			return created, err
		}
		if alert != nil {
			created = append(created, alert)
		}
	}
	return created, nil
}

func (s *Service) recordOne(ctx context.Context, matcher *thresholds.Matcher, eval types.Evaluation) (*types.Alert, error) {
	varietyID := eval.VarietyID
	if varietyID == nil {
		info, err := s.lots.GetLotInfo(ctx, eval.LotID)
		if err != nil {
			var appErr *types.AppError
			if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundLot {
				s.logger.Warn("evaluation references unknown lot, skipping",
					"lot_id", eval.LotID, "light_pct", eval.LightPct)
				return nil, nil
			}
			return nil, err
		}
		varietyID = info.VarietyID
	}

	rule, ok := matcher.Match(varietyID, eval.LightPct)
	if !ok {
		s.logger.Warn("no threshold rule covers reading",
			"lot_id", eval.LotID, "light_pct", eval.LightPct)
		return nil, nil
	}
	if !rule.Class.Notifiable() {
		return nil, nil
	}

	alert := &types.Alert{
		LotID:        eval.LotID,
		EvaluationID: eval.EvaluationID,
		RuleID:       rule.ID,
		VarietyID:    varietyID,
		LightPct:     eval.LightPct,
		Class:        rule.Class,
		Severity:     types.SeverityFor(rule.Class),
		State:        types.AlertPending,
	}
	if err := s.store.Create(ctx, alert); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictDuplicate {
			// Re-posted evaluation. The earlier alert stands.
			s.logger.Info("evaluation already produced an alert, skipping",
				"lot_id", eval.LotID, "evaluation_id", eval.EvaluationID)
			return nil, nil
		}
		return nil, err
	}

	s.logger.Info("alert created",
		"alert_id", alert.ID,
		"lot_id", alert.LotID,
		"classification", string(alert.Class),
		"light_pct", alert.LightPct,
	)
	return alert, nil
}

// Get retrieves a single alert.
func (s *Service) Get(ctx context.Context, id int64) (*types.Alert, error) {
	return s.store.GetByID(ctx, id)
}

// List retrieves alerts matching the filter with the total count.
func (s *Service) List(ctx context.Context, filter types.AlertFilter) ([]*types.Alert, int, error) {
	if filter.State != "" && !filter.State.Valid() {
		return nil, 0, types.NewAppError(types.ErrCodeValidationInvalidState, "unknown alert state filter", nil)
	}
	if filter.Class != "" && !filter.Class.Valid() {
		return nil, 0, types.NewAppError(types.ErrCodeValidationInvalidState, "unknown classification filter", nil)
	}
	return s.store.List(ctx, filter)
}

// Stats aggregates alert counts for the dashboard.
func (s *Service) Stats(ctx context.Context) (*types.AlertStats, error) {
	return s.store.Stats(ctx)
}

// Resolve closes an alert as handled.
func (s *Service) Resolve(ctx context.Context, id int64, resolvedBy *int64, notes string) (*types.Alert, error) {
	return s.transition(ctx, id, types.AlertResolved, resolvedBy, notes)
}

// Ignore closes an alert as a non-issue.
func (s *Service) Ignore(ctx context.Context, id int64, resolvedBy *int64, notes string) (*types.Alert, error) {
	return s.transition(ctx, id, types.AlertIgnored, resolvedBy, notes)
}

func (s *Service) transition(ctx context.Context, id int64, to types.AlertState, resolvedBy *int64, notes string) (*types.Alert, error) {
	alert, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !alert.State.CanTransition(to) {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeConflictTransition,
			"alert cannot transition from its current state",
			nil,
			map[string]any{"from": string(alert.State), "to": string(to)},
		)
	}
	if err := s.store.UpdateState(ctx, id, alert.State, to, resolvedBy, notes); err != nil {
		return nil, err
	}

	s.logger.Info("alert state changed",
		"alert_id", id, "from", string(alert.State), "to", string(to))

	return s.store.GetByID(ctx, id)
}
