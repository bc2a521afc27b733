package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"lightalert/internal/config"
	"lightalert/internal/types"
)

func testServer(t *testing.T) (*Server, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s, err := NewServer(&config.Config{Environment: "local"}, logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s, &buf
}

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	var captured string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = types.GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if captured == "" {
		t.Fatal("expected a generated request ID in context")
	}
	if got := w.Result().Header.Get("X-Request-Id"); got != captured {
		t.Errorf("response header %q does not match context ID %q", got, captured)
	}
}

func TestRequestIDMiddleware_PropagatesIncomingID(t *testing.T) {
	var captured string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = types.GetRequestID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-Id", "req-incoming-7")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if captured != "req-incoming-7" {
		t.Errorf("expected propagated ID req-incoming-7, got %q", captured)
	}
}

func TestRecoverer_CatchesPanic(t *testing.T) {
	s, buf := testServer(t)

	handler := s.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", resp.StatusCode)
	}

	var errResp APIErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("panic response is not valid JSON: %v", err)
	}
	if errResp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("expected code %s, got %s", types.ErrCodeInternalUnexpected, errResp.Error.Code)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Error("expected panic to be logged")
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Error("expected panic value in the log")
	}
}

func TestRequestLogger_RedactsHeaders(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestLogger(logger, []string{"Authorization"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	r := httptest.NewRequest(http.MethodGet, "/v1/alerts", nil)
	r.Header.Set("Authorization", "Bearer secret-token")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	out := buf.String()
	if strings.Contains(out, "secret-token") {
		t.Error("authorization header value leaked into log output")
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Error("expected redaction marker in log output")
	}
	if !strings.Contains(out, "/v1/alerts") {
		t.Error("expected request path in log output")
	}
}

func TestRequestLogger_StatusLevels(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  string
	}{
		{"2xx logs info", http.StatusOK, `"level":"INFO"`},
		{"4xx logs warn", http.StatusNotFound, `"level":"WARN"`},
		{"5xx logs error", http.StatusBadGateway, `"level":"ERROR"`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			handler := RequestLogger(logger, nil)(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tc.status)
				}),
			)
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

			if !strings.Contains(buf.String(), tc.level) {
				t.Errorf("expected log level %s, got: %s", tc.level, buf.String())
			}
		})
	}
}

func TestContextTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var hasDeadline bool
	handler := ContextTimeoutMiddleware(defaultRequestTimeout)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, hasDeadline = r.Context().Deadline()
		}),
	)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !hasDeadline {
		t.Error("expected request context to carry a deadline")
	}
}

func TestMountRoutes_HealthAndV1(t *testing.T) {
	s, _ := testServer(t)
	s.V1RouteRegistrars = append(s.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, req *http.Request) {
			JSON(w, req, http.StatusOK, map[string]string{"pong": "ok"})
		})
	})
	s.MountRoutes()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/v1/ping")
	if err != nil {
		t.Fatalf("GET /v1/ping: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /v1/ping, got %d", resp2.StatusCode)
	}
	if resp2.Header.Get("X-Request-Id") == "" {
		t.Error("expected X-Request-Id header on v1 responses")
	}
	body, _ := io.ReadAll(resp2.Body)
	if !strings.Contains(string(body), "pong") {
		t.Errorf("unexpected /v1/ping body: %s", body)
	}
}

// probeFunc adapts a function to HealthProbe for tests.
type probeFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (p probeFunc) Name() string                    { return p.name }
func (p probeFunc) Check(ctx context.Context) error { return p.fn(ctx) }

func TestHandleHealth_UnhealthyProbe(t *testing.T) {
	s, _ := testServer(t)
	s.HealthProbes = []HealthProbe{
		probeFunc{name: "database", fn: func(ctx context.Context) error {
			return errors.New("connection refused")
		}},
	}

	w := httptest.NewRecorder()
	s.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if body.Status != "unhealthy" {
		t.Errorf("expected unhealthy status, got %q", body.Status)
	}
	if body.Components["database"].Status != "unhealthy" {
		t.Errorf("expected database component unhealthy, got %+v", body.Components)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	s, _ := testServer(t)
	s.HealthProbes = []HealthProbe{
		probeFunc{name: "database", fn: func(ctx context.Context) error { return nil }},
	}

	w := httptest.NewRecorder()
	s.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := w.Result().StatusCode; got != http.StatusOK {
		t.Errorf("expected 200, got %d", got)
	}
}
