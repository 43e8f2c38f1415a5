package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/attune/internal/health"
)

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	health.New().Routes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
}

func TestReadyz_AllProbesPass(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	health.New(
		health.Check{Name: "database", Probe: func(context.Context) error { return nil }},
	).Routes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" || body.Checks["database"] != "ok" {
		t.Errorf("body=%+v", body)
	}
}

func TestReadyz_FailingProbe(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	health.New(
		health.Check{Name: "database", Probe: func(context.Context) error { return errors.New("connection refused") }},
		health.Check{Name: "stream", Probe: func(context.Context) error { return nil }},
	).Routes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status=%q, want fail", body.Status)
	}
	if body.Checks["stream"] != "ok" {
		t.Errorf("later probes skipped: %+v", body.Checks)
	}
}
