package jobs

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iddaa-lens/edge/pkg/jobs"
	"github.com/iddaa-lens/edge/pkg/logger"
	"github.com/iddaa-lens/edge/pkg/models/api"
)

// Scheduler is the read-only view of the scheduler the handler needs
type Scheduler interface {
	Units() []*jobs.Unit
	Unit(name string) (*jobs.Unit, bool)
	NextRun(name string) time.Time
}

// Handler serves job state and recent run results
type Handler struct {
	scheduler Scheduler
	history   *jobs.RunHistory
	logger    *logger.Logger
}

// NewHandler creates a new jobs handler
func NewHandler(scheduler Scheduler, history *jobs.RunHistory, log *logger.Logger) *Handler {
	return &Handler{scheduler: scheduler, history: history, logger: log}
}

// List handles GET /jobs
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	units := h.scheduler.Units()
	out := make([]api.JobStatusResponse, 0, len(units))
	for _, unit := range units {
		out = append(out, h.status(unit))
	}
	h.writeJSON(w, http.StatusOK, api.Response{Success: true, Data: out})
}

// Get handles GET /jobs/{name}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	unit, ok := h.scheduler.Unit(name)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, api.Response{Success: false, Message: "job not found: " + name})
		return
	}
	h.writeJSON(w, http.StatusOK, api.Response{Success: true, Data: h.status(unit)})
}

func (h *Handler) status(unit *jobs.Unit) api.JobStatusResponse {
	spec := unit.Spec()
	resp := api.JobStatusResponse{
		Name:       spec.Name,
		Schedule:   spec.Cadence,
		Operation:  string(spec.Operation),
		State:      string(unit.State()),
		MaxRuntime: spec.Budget.MaxDuration.String(),
		MaxMemory:  spec.Budget.MaxMemoryMB,
		Runs:       h.history.Recent(spec.Name),
	}
	if last, ok := h.history.Last(spec.Name); ok {
		resp.LastRun = &last
	}
	if next := h.scheduler.NextRun(spec.Name); !next.IsZero() {
		next = next.UTC()
		resp.NextRun = &next
	}
	return resp
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error().
			Err(err).
			Str("action", "encode_failed").
			Msg("Failed to encode jobs response")
	}
}
