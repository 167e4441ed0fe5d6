package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func get(t *testing.T, fn http.HandlerFunc, path string) (*httptest.ResponseRecorder, report) {
	t.Helper()
	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest("GET", path, nil))

	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec, body
}

func TestHealthzAlwaysOK(t *testing.T) {
	h := New()

	rec, body := get(t, h.Healthz, "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if body.Status != "ok" {
		t.Errorf("body status = %q", body.Status)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyzAllProbesPass(t *testing.T) {
	h := New(
		Probe{Name: "model", Check: func(context.Context) error { return nil }},
		Probe{Name: "game_bundle", Check: func(context.Context) error { return nil }},
	)

	rec, body := get(t, h.Readyz, "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if body.Checks["model"] != "ok" || body.Checks["game_bundle"] != "ok" {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestReadyzProbeFails(t *testing.T) {
	h := New(
		Probe{Name: "model", Check: func(context.Context) error {
			return errors.New("connection refused")
		}},
		Probe{Name: "game_bundle", Check: func(context.Context) error { return nil }},
	)

	rec, body := get(t, h.Readyz, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if body.Status != "fail" {
		t.Errorf("body status = %q", body.Status)
	}
	if body.Checks["model"] != "fail: connection refused" {
		t.Errorf("model check = %q", body.Checks["model"])
	}
	if body.Checks["game_bundle"] != "ok" {
		t.Errorf("game_bundle check = %q", body.Checks["game_bundle"])
	}
}

func TestRegisterRoutes(t *testing.T) {
	mux := http.NewServeMux()
	New().Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}
