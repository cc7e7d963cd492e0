package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/lookym/authgate/internal/port/inbound"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// HealthChecker reports whether the session store has finished its
// initial determination.
type HealthChecker struct {
	states  inbound.StateReader
	version string
}

// NewHealthChecker creates a HealthChecker. states may be nil.
func NewHealthChecker(states inbound.StateReader, version string) *HealthChecker {
	return &HealthChecker{states: states, version: version}
}

// Check performs the health checks.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.states != nil {
		st := h.states.State()
		if st.Known() {
			checks["session_store"] = fmt.Sprintf("ok: %s (version %d)", st.Status, st.Version)
		} else {
			checks["session_store"] = "initializing"
			healthy = false
		}
	} else {
		checks["session_store"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
