package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/civicwatch/civicwatch/internal/api"
)

// Pinger reports whether a backing service is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping calls f
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HTTPHandler handles the unauthenticated operational endpoints
type HTTPHandler struct {
	version          string
	detectionEnabled bool
	checks           map[string]Pinger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(version string, detectionEnabled bool) *HTTPHandler {
	return &HTTPHandler{
		version:          version,
		detectionEnabled: detectionEnabled,
		checks:           make(map[string]Pinger),
	}
}

// AddCheck registers a dependency probed by /health
func (h *HTTPHandler) AddCheck(name string, p Pinger) {
	h.checks[name] = p
}

// SetupRoutes configures all HTTP routes
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
}

// handleHealth reports ok, or degraded with a 503 when a dependency is down
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := api.HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Detection: h.detectionEnabled,
	}
	status := http.StatusOK

	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
		for name, p := range h.checks {
			if err := p.Ping(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	api.RespondJSON(w, status, resp)
}
