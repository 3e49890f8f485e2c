package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Probe checks one dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler serves GET /api/health.
type HealthHandler struct {
	probes    []Probe
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. Without probes it only reports
// liveness.
func NewHealthHandler(startedAt time.Time, logger *slog.Logger, probes ...Probe) *HealthHandler {
	return &HealthHandler{probes: probes, startedAt: startedAt, logger: logger}
}

// HealthCheck reports "ok", or "degraded" with status 503 when any probe
// fails.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(h.probes))
	for _, p := range h.probes {
		if err := p.Check(ctx); err != nil {
			checks[p.Name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			h.logger.WarnContext(ctx, "health probe failed",
				slog.String("probe", p.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		checks[p.Name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"checks":         checks,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
