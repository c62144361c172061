package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fullvlad/lava-server/pkg/model"
)

// handleOutputDir returns the output directory of the job on a device.
// GET /api/v1/devices/{hostname}/output-dir
func (s *Server) handleOutputDir(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	hostname := chi.URLParam(r, "hostname")

	dir, err := s.scheduler.GetOutputDirForJobOnBoard(r.Context(), hostname)
	if err != nil {
		respondFailure(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{
		"hostname":   hostname,
		"output_dir": dir,
	})
}

// handleJobCompleted records the end of the dispatch run on a device.
// POST /api/v1/devices/{hostname}/complete
func (s *Server) handleJobCompleted(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	hostname := chi.URLParam(r, "hostname")

	var req model.CompletionReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "invalid JSON body: " + err.Error(),
		})
		return
	}

	if err := s.scheduler.JobCompleted(r.Context(), hostname, req.ExitCode, req.KillReason); err != nil {
		s.logger.Error("job completed", "hostname", hostname, "error", err, "request_id", reqID)
		respondFailure(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{
		"hostname":  hostname,
		"exit_code": req.ExitCode,
	})
}

// handleCancellation reports whether the job on a device should stop.
// GET /api/v1/devices/{hostname}/cancellation
func (s *Server) handleCancellation(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	hostname := chi.URLParam(r, "hostname")

	cancel, err := s.scheduler.JobCheckForCancellation(r.Context(), hostname)
	if err != nil {
		respondFailure(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{
		"hostname": hostname,
		"cancel":   cancel,
	})
}
