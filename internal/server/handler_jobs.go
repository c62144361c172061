package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fullvlad/lava-server/pkg/model"
)

// handleJobList runs a scheduling cycle and returns the dispatch-ready jobs.
// GET /api/v1/jobs
func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	jobs, err := s.scheduler.GetJobList(r.Context())
	if err != nil {
		s.logger.Error("job list", "error", err, "request_id", reqID)
		respondFailure(w, reqID, err)
		return
	}

	out := make([]model.JobSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, model.Summarize(j))
	}
	respondOK(w, reqID, out)
}

// handleJobStart marks a job as running and returns its definition.
// POST /api/v1/jobs/{id}/start
func (s *Server) handleJobStart(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	def, err := s.scheduler.GetJobDetails(r.Context(), id)
	if err != nil {
		respondFailure(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{
		"id":         id,
		"definition": def,
	})
}
