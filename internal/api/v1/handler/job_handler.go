package handler

import (
	"encoding/json"
	"net/http"

	"app/internal/api/v1/dto"
	"app/internal/service"

	"github.com/rs/zerolog"
)

// JobHandler exposes the scheduled sweeps as push-triggered endpoints for
// Cloud Scheduler. Auth is the Pub/Sub OIDC middleware, not user JWT.
type JobHandler struct {
	sweepSvc *service.SweepService
	logger   zerolog.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(sweepSvc *service.SweepService, logger zerolog.Logger) *JobHandler {
	return &JobHandler{sweepSvc: sweepSvc, logger: logger}
}

// RegisterRoutes registers the job endpoints behind the push auth middleware.
func (h *JobHandler) RegisterRoutes(mux *http.ServeMux, pushAuthMiddleware func(http.Handler) http.Handler) {
	mux.Handle("/jobs/resync", pushAuthMiddleware(http.HandlerFunc(h.Resync)))
	mux.Handle("/jobs/repair", pushAuthMiddleware(http.HandlerFunc(h.Repair)))
}

// Resync godoc
// @Summary Run the daily stale-subscription resync sweep
// @Tags jobs
// @Produce json
// @Success 200 {object} dto.ResyncJobResponse
// @Failure 500 {string} string "sweep failed"
// @Router /jobs/resync [post]
func (h *JobHandler) Resync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := h.sweepSvc.RunDailyResync(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("resync sweep failed")
		http.Error(w, "sweep failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dto.ResyncJobResponse{Synced: result.Synced, Recovered: result.Recovered})
}

// Repair godoc
// @Summary Run the missing-entitlement repair sweep
// @Tags jobs
// @Produce json
// @Success 200 {object} dto.RepairJobResponse
// @Failure 500 {string} string "sweep failed"
// @Router /jobs/repair [post]
func (h *JobHandler) Repair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := h.sweepSvc.RunRepair(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("repair sweep failed")
		http.Error(w, "sweep failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dto.RepairJobResponse{Checked: result.Checked, Recovered: result.Recovered})
}
