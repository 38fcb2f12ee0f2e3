package handler

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks map[string]Check
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler that runs checks on every probe.
func NewHealthHandler(checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// HealthCheck reports ok, or 503 naming each failing dependency.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	failing := map[string]string{}
	for _, name := range slices.Sorted(maps.Keys(h.checks)) {
		if err := h.checks[name](ctx); err != nil {
			failing[name] = err.Error()
			h.logger.WarnContext(ctx, "handler: health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
		}
	}

	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if len(failing) > 0 {
		body["status"] = "degraded"
		body["failing"] = failing
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}
