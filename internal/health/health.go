// Package health provides the HTTP liveness and readiness probes of the
// fabula server.
//
//   - /healthz — liveness; always 200 while the process can serve HTTP.
//   - /readyz  — readiness; 200 only when every registered probe passes
//     (model backend reachable, game bundle loads, ...).
//
// Responses are JSON: a top-level "status" ("ok" or "fail") and a "checks"
// map with the per-probe outcome.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 5 * time.Second

// Probe is one named readiness check. Check returns nil when the dependency
// is healthy; it must respect context cancellation.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// report is the JSON response body of both endpoints.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The probe list is fixed at
// construction; the handler is safe for concurrent use.
type Handler struct {
	probes []Probe
}

// New creates a Handler evaluating the given probes, in order, on each
// /readyz request.
func New(probes ...Probe) *Handler {
	p := make([]Probe, len(probes))
	copy(p, probes)
	return &Handler{probes: p}
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always reports ok. A process that answers is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz reports ok only when every probe passes. Each probe runs under a
// [probeTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.probes))
	status := http.StatusOK

	for _, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Check(ctx)
		cancel()

		if err != nil {
			checks[p.Name] = "fail: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks[p.Name] = "ok"
		}
	}

	res := report{Status: "ok", Checks: checks}
	if status != http.StatusOK {
		res.Status = "fail"
	}
	writeJSON(w, status, res)
}

// writeJSON encodes v with the given status code. On encoding failure it
// falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
