package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// Check is a named health check function.
type Check func(ctx context.Context) error

// Handler aggregates health checks for a service.
type Handler struct {
	mu      sync.RWMutex
	service string
	checks  map[string]Check
	timeout time.Duration
}

// NewHandler creates a health handler for the given service name.
func NewHandler(service string) *Handler {
	return &Handler{
		service: service,
		checks:  make(map[string]Check),
		timeout: 5 * time.Second,
	}
}

// Register adds a named check. Registering the same name twice replaces
// the previous check.
func (h *Handler) Register(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

type componentResult struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Service    string                     `json:"service"`
	Status     Status                     `json:"status"`
	Components map[string]componentResult `json:"components,omitempty"`
}

// LivenessHandler reports whether the process is running. It performs no
// dependency checks.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, http.StatusOK, healthResponse{
			Service: h.service,
			Status:  StatusUp,
		})
	}
}

// ReadinessHandler runs all registered checks and reports 503 if any fail.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		h.mu.RLock()
		checks := make(map[string]Check, len(h.checks))
		for name, check := range h.checks {
			checks[name] = check
		}
		h.mu.RUnlock()

		resp := healthResponse{
			Service:    h.service,
			Status:     StatusUp,
			Components: make(map[string]componentResult, len(checks)),
		}

		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Components[name] = componentResult{Status: StatusDown, Error: err.Error()}
				resp.Status = StatusDown
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Components[name] = componentResult{Status: StatusUp}
		}

		writeHealth(w, status, resp)
	}
}

func writeHealth(w http.ResponseWriter, status int, resp healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
