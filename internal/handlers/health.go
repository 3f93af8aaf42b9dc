package handlers

import (
	"context"
	"net/http"
	"os"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Instance  string           `json:"instance,omitempty"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// pinger is implemented by backends that can report their reachability.
// The in-memory event queue does not.
type pinger interface {
	Ping(ctx context.Context) error
}

func runCheck(ctx context.Context, p pinger) Check {
	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return Check{Status: "fail", Message: "connection failed"}
	}
	return Check{Status: "pass", Latency: time.Since(start).String()}
}

// Health reports database and event queue reachability. Any failing check
// turns the response into a 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]Check{
		"database": runCheck(ctx, h.db),
		"events":   {Status: "pass", Message: "in-memory"},
	}
	if p, ok := h.events.(pinger); ok {
		checks["events"] = runCheck(ctx, p)
	}

	resp := HealthResponse{
		Status:    "healthy",
		Version:   version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	resp.Instance, _ = os.Hostname()

	status := http.StatusOK
	for name, c := range checks {
		if c.Status != "pass" {
			h.logger.Warn().Str("check", name).Msg("health check failed")
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	h.JSON(w, status, resp)
}

// RootResponse represents the root endpoint response.
type RootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Root handles the root endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{
		Name:    "zulip-submessages",
		Version: version,
	})
}
