// Package handler holds the HTTP handlers of the operational server.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Pinger interface for health check dependencies.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	checks  map[string]Pinger
	version string
}

// HealthHandlerOption configures the health handler.
type HealthHandlerOption func(*HealthHandler)

// WithCheck adds a named dependency to the readiness check.
func WithCheck(name string, p Pinger) HealthHandlerOption {
	return func(h *HealthHandler) {
		if p != nil {
			h.checks[name] = p
		}
	}
}

// WithVersion reports the build version on /health.
func WithVersion(v string) HealthHandlerOption {
	return func(h *HealthHandler) {
		h.version = v
	}
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(opts ...HealthHandlerOption) *HealthHandler {
	h := &HealthHandler{checks: make(map[string]Pinger)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health handles the /health endpoint (liveness check).
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now().UTC(),
	})
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult represents a single health check result.
type CheckResult struct {
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Ready handles the /ready endpoint. Dependencies are pinged concurrently
// and any failure yields 503.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]CheckResult, len(h.checks))
	allHealthy := true

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, p := range h.checks {
		wg.Go(func() {
			result := checkDependency(ctx, p)
			mu.Lock()
			checks[name] = result
			if result.Status != "ok" {
				allHealthy = false
			}
			mu.Unlock()
		})
	}
	wg.Wait()

	status, code := "ready", http.StatusOK
	if !allHealthy {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, ReadyResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

func checkDependency(ctx context.Context, p Pinger) CheckResult {
	start := time.Now()
	err := p.Ping(ctx)
	duration := time.Since(start)

	if err != nil {
		return CheckResult{Status: "error", Duration: duration.String(), Error: err.Error()}
	}
	return CheckResult{Status: "ok", Duration: duration.String()}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
