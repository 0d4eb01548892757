package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/pkg/httputil"
	"github.com/ignite/investor-outreach/internal/service/enrollment"
)

type enrollRequest struct {
	InvestorIDs []string `json:"investor_ids" validate:"required,min=1,max=1000,dive,required"`
	CampaignID  *string  `json:"campaign_id" validate:"omitempty,min=1,max=100"`
}

type unenrollRequest struct {
	InvestorIDs []string `json:"investor_ids" validate:"required,min=1,max=1000,dive,required"`
}

type bulkStatusRequest struct {
	EnrollmentIDs []string                `json:"enrollment_ids" validate:"required,min=1,max=1000,dive,required"`
	Status        domain.EnrollmentStatus `json:"status" validate:"required,oneof=active paused completed cancelled"`
}

//	POST /api/sequences/{sequenceID}/enrollments
func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	res, err := s.deps.Enrollments.Enroll(r.Context(), enrollment.EnrollInput{
		SequenceID:  chi.URLParam(r, "sequenceID"),
		InvestorIDs: req.InvestorIDs,
		CampaignID:  req.CampaignID,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, res)
}

//	DELETE /api/sequences/{sequenceID}/enrollments
func (s *Server) handleUnenroll(w http.ResponseWriter, r *http.Request) {
	var req unenrollRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	n, err := s.deps.Enrollments.Unenroll(r.Context(), chi.URLParam(r, "sequenceID"), req.InvestorIDs)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"removed": n})
}

//	GET /api/sequences/{sequenceID}/enrollments?status=&page=&limit=
func (s *Server) handleListEnrollments(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r, enrollment.DefaultPageSize, enrollment.MaxPageSize)
	list, total, err := s.deps.Enrollments.List(r.Context(), chi.URLParam(r, "sequenceID"), enrollment.ListFilter{
		Status: domain.EnrollmentStatus(r.URL.Query().Get("status")),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, NewPaginatedResponse(list, p, total))
}

//	PATCH /api/enrollments/status
func (s *Server) handleBulkStatus(w http.ResponseWriter, r *http.Request) {
	var req bulkStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	n, err := s.deps.Enrollments.BulkSetStatus(r.Context(), req.EnrollmentIDs, req.Status)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"updated": n})
}
