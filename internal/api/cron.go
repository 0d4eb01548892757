package api

import (
	"net/http"

	"github.com/ignite/investor-outreach/internal/pkg/httputil"
)

// handleTrigger runs one processing pass.
//
//	POST /api/cron/process-sequences
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Runner.Run(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, summary)
}

// handleStatus reports scheduler health counts. No auth.
//
//	GET /api/cron/process-sequences/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Enrollments.Stats(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, st)
}
