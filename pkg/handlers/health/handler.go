package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/iddaa-lens/edge/pkg/logger"
	"github.com/iddaa-lens/edge/pkg/models/api"
)

const checkTimeout = 3 * time.Second

// Check probes one dependency; a nil error means healthy
type Check func(ctx context.Context) error

// Handler handles health check requests
type Handler struct {
	logger *logger.Logger
	checks map[string]Check
	now    func() time.Time
}

// NewHandler creates a new health handler. checks may be nil.
func NewHandler(log *logger.Logger, checks map[string]Check) *Handler {
	return &Handler{
		logger: log,
		checks: checks,
		now:    time.Now,
	}
}

// HealthCheck handles the /health endpoint. Any failing check turns the
// status to "degraded" with a 503.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	response := api.HealthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC(),
	}
	statusCode := http.StatusOK

	if len(h.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		names := make([]string, 0, len(h.checks))
		for name := range h.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		response.Checks = make(map[string]string, len(names))
		for _, name := range names {
			if err := h.checks[name](ctx); err != nil {
				response.Checks[name] = err.Error()
				response.Status = "degraded"
				statusCode = http.StatusServiceUnavailable
				continue
			}
			response.Checks[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error().
			Err(err).
			Str("action", "health_check_failed").
			Str("endpoint", "/health").
			Msg("Failed to encode health response")
		return
	}

	h.logger.Debug().
		Str("action", "health_check").
		Str("endpoint", "/health").
		Str("method", r.Method).
		Str("remote_addr", r.RemoteAddr).
		Int("status_code", statusCode).
		Dur("duration", time.Since(start)).
		Msg("Health check completed")
}
