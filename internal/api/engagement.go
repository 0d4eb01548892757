package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/investor-outreach/internal/pkg/httputil"
)

type bounceRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type engagementResponse struct {
	TrackingID string `json:"tracking_id"`
	Updated    bool   `json:"updated"`
}

// handleReply is called by the reply ingester when an investor answers.
//
//	POST /api/outreach/{trackingID}/reply
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	tid := chi.URLParam(r, "trackingID")
	updated, err := s.deps.Tracker.RecordReply(r.Context(), tid)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, engagementResponse{TrackingID: tid, Updated: updated})
}

//	POST /api/outreach/{trackingID}/bounce
func (s *Server) handleBounce(w http.ResponseWriter, r *http.Request) {
	var req bounceRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
		return
	}
	tid := chi.URLParam(r, "trackingID")
	updated, err := s.deps.Tracker.RecordBounce(r.Context(), tid, req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, engagementResponse{TrackingID: tid, Updated: updated})
}
