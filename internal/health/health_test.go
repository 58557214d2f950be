package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("ledger", NewChecker("ledger", ok))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if response.Version != "v1.0.0" {
		t.Errorf("expected version v1.0.0, got %s", response.Version)
	}
	if len(response.Checks) != 1 {
		t.Errorf("expected 1 check, got %d", len(response.Checks))
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("ledger", NewChecker("ledger", func(context.Context) error {
		return errors.New("redis unavailable")
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestHealthHandler_OptionalFailureDegrades(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("ledger", NewChecker("ledger", ok))
	handler.RegisterChecker("printer", NewOptionalChecker("printer", func(context.Context) error {
		return errors.New("printer offline")
	}))

	response := handler.Evaluate(context.Background())
	if response.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", response.Status)
	}
	if response.Checks["printer"].Message != "printer offline" {
		t.Fatalf("unexpected printer check: %+v", response.Checks["printer"])
	}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("degraded service should stay ready, got %d", w.Code)
	}
}

func TestHealthHandler_CheckTimeout(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.timeout = 20 * time.Millisecond
	handler.RegisterChecker("api", NewChecker("api", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	response := handler.Evaluate(context.Background())
	if response.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", response.Status)
	}
	if time.Since(start) > time.Second {
		t.Fatal("check was not bounded by timeout")
	}
}

func TestLivenessHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	w := httptest.NewRecorder()

	LivenessHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("expected body 'ok', got %s", w.Body.String())
	}
}

func TestReadinessHandler_NotReady(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("ledger", NewChecker("ledger", func(context.Context) error {
		return errors.New("not ready")
	}))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	if w.Body.String() != "not ready" {
		t.Errorf("expected body 'not ready', got %s", w.Body.String())
	}
}

func TestFuncChecker_Duration(t *testing.T) {
	checker := NewChecker("slow", func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	check := checker.Check(context.Background())
	if check.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", check.Status)
	}
	if check.DurationMs < 10 {
		t.Errorf("expected duration >= 10ms, got %dms", check.DurationMs)
	}
}
