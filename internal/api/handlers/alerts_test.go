package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"lightalert/internal/core"
	"lightalert/internal/types"
)

// --- Mock Service ---

type mockAlertService struct {
	recordedEvals []types.Evaluation
	recordResult  []*types.Alert
	recordErr     error

	getResult *types.Alert
	getErr    error

	listFilter types.AlertFilter
	listResult []*types.Alert
	listTotal  int
	listErr    error

	statsResult *types.AlertStats
	statsErr    error

	transitionID    int64
	transitionNotes string
	transitionOp    string
	transitionAlert *types.Alert
	transitionErr   error
}

func (m *mockAlertService) RecordEvaluations(_ context.Context, evals []types.Evaluation) ([]*types.Alert, error) {
	m.recordedEvals = evals
	return m.recordResult, m.recordErr
}

func (m *mockAlertService) Get(_ context.Context, id int64) (*types.Alert, error) {
	return m.getResult, m.getErr
}

func (m *mockAlertService) List(_ context.Context, filter types.AlertFilter) ([]*types.Alert, int, error) {
	m.listFilter = filter
	return m.listResult, m.listTotal, m.listErr
}

func (m *mockAlertService) Stats(_ context.Context) (*types.AlertStats, error) {
	return m.statsResult, m.statsErr
}

func (m *mockAlertService) Resolve(_ context.Context, id int64, _ *int64, notes string) (*types.Alert, error) {
	m.transitionID, m.transitionNotes, m.transitionOp = id, notes, "resolve"
	return m.transitionAlert, m.transitionErr
}

func (m *mockAlertService) Ignore(_ context.Context, id int64, _ *int64, notes string) (*types.Alert, error) {
	m.transitionID, m.transitionNotes, m.transitionOp = id, notes, "ignore"
	return m.transitionAlert, m.transitionErr
}

// --- Helpers ---

func makeAlertRouter(svc AlertService) http.Handler {
	h := NewAlertHandler(svc, core.NewValidator(slog.Default()), slog.Default())
	r := chi.NewRouter()
	r.Route("/v1", h.RegisterRoutes)
	return r
}

func sampleAlert(id int64) *types.Alert {
	return &types.Alert{
		ID:       id,
		LotID:    12,
		RuleID:   3,
		LightPct: 18.26,
		Class:    types.ClassCriticalRed,
		Severity: types.SeverityCritical,
		State:    types.AlertPending,
	}
}

// --- RecordEvaluation ---

func TestRecordEvaluation_CreatesAlert(t *testing.T) {
	svc := &mockAlertService{recordResult: []*types.Alert{sampleAlert(1)}}
	router := makeAlertRouter(svc)

	body := `{"lot_id":12,"light_pct":18.26,"variety_id":7}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/evaluations", strings.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(svc.recordedEvals) != 1 || svc.recordedEvals[0].LotID != 12 {
		t.Errorf("unexpected evaluations passed to service: %+v", svc.recordedEvals)
	}

	var resp struct {
		Data EvaluationOutcome `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Data.Created || resp.Data.Alert == nil || resp.Data.Alert.ID != 1 {
		t.Errorf("unexpected outcome: %+v", resp.Data)
	}
}

func TestRecordEvaluation_NoAlertOutcome(t *testing.T) {
	svc := &mockAlertService{recordResult: nil}
	router := makeAlertRouter(svc)

	body := `{"lot_id":12,"light_pct":55.0}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/evaluations", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp struct {
		Data EvaluationOutcome `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Data.Created || resp.Data.Alert != nil {
		t.Errorf("expected no-alert outcome, got %+v", resp.Data)
	}
}

func TestRecordEvaluation_MissingLotID(t *testing.T) {
	svc := &mockAlertService{}
	router := makeAlertRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/evaluations", strings.NewReader(`{"light_pct":18.26}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if svc.recordedEvals != nil {
		t.Error("service must not be called on validation failure")
	}
}

func TestRecordEvaluation_UnknownField(t *testing.T) {
	svc := &mockAlertService{}
	router := makeAlertRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/evaluations", strings.NewReader(`{"lot_id":1,"light_pct":1,"bogus":true}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

// --- List / Stats / Get ---

func TestListAlerts_PassesFilter(t *testing.T) {
	svc := &mockAlertService{listResult: []*types.Alert{sampleAlert(1)}, listTotal: 1}
	router := makeAlertRouter(svc)

	url := "/v1/alerts?state=Pendiente&classification=CriticoRojo&farm_id=F1&from=2026-08-01T00:00:00Z&page=2&page_size=10"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.listFilter.State != types.AlertPending || svc.listFilter.Class != types.ClassCriticalRed {
		t.Errorf("filter enums not passed through: %+v", svc.listFilter)
	}
	if svc.listFilter.FarmID != "F1" || svc.listFilter.Page != 2 || svc.listFilter.PageSize != 10 {
		t.Errorf("filter fields not passed through: %+v", svc.listFilter)
	}
	want := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if !svc.listFilter.From.Equal(want) {
		t.Errorf("expected from %v, got %v", want, svc.listFilter.From)
	}

	var resp struct {
		Meta core.ListMeta `json:"meta"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Meta.Total != 1 {
		t.Errorf("expected total 1 in meta, got %d", resp.Meta.Total)
	}
}

func TestListAlerts_BadDateParam(t *testing.T) {
	router := makeAlertRouter(&mockAlertService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/alerts?from=yesterday", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestAlertStats(t *testing.T) {
	svc := &mockAlertService{statsResult: &types.AlertStats{
		ByState: map[types.AlertState]int{types.AlertPending: 4},
		Last24h: 3,
	}}
	router := makeAlertRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/alerts/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"last_24h":3`) {
		t.Errorf("expected last_24h in body: %s", rec.Body.String())
	}
}

func TestGetAlert_NotFound(t *testing.T) {
	svc := &mockAlertService{getErr: types.NewAppError(types.ErrCodeNotFoundAlert, "alert not found", nil)}
	router := makeAlertRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/alerts/99", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestGetAlert_BadID(t *testing.T) {
	router := makeAlertRouter(&mockAlertService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/alerts/abc", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

// --- Resolve / Ignore ---

func TestResolveAlert(t *testing.T) {
	resolved := sampleAlert(5)
	resolved.State = types.AlertResolved
	svc := &mockAlertService{transitionAlert: resolved}
	router := makeAlertRouter(svc)

	body := `{"operator_id":9,"notes":"falso positivo"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/alerts/5/resolve", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.transitionOp != "resolve" || svc.transitionID != 5 || svc.transitionNotes != "falso positivo" {
		t.Errorf("unexpected transition call: op=%s id=%d notes=%q", svc.transitionOp, svc.transitionID, svc.transitionNotes)
	}
}

func TestIgnoreAlert_TerminalStateConflict(t *testing.T) {
	svc := &mockAlertService{
		transitionErr: types.NewAppErrorWithDetails(
			types.ErrCodeConflictTransition,
			"alert state does not allow this transition",
			nil,
			map[string]any{"from": "Resuelta", "to": "Ignorada"},
		),
	}
	router := makeAlertRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/alerts/5/ignore", strings.NewReader(`{}`)))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
	if svc.transitionOp != "ignore" {
		t.Errorf("expected ignore op, got %q", svc.transitionOp)
	}
}
