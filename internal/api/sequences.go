package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/pkg/httputil"
	"github.com/ignite/investor-outreach/internal/service/sequence"
)

type createSequenceRequest struct {
	OrganizationID string  `json:"organization_id" validate:"required,max=100"`
	CampaignID     *string `json:"campaign_id" validate:"omitempty,min=1,max=100"`
	Name           string  `json:"name" validate:"required,max=200"`
}

type addStepRequest struct {
	Type       domain.StepType `json:"type" validate:"required,oneof=email linkedin task wait"`
	DelayDays  int             `json:"delay_days" validate:"min=0,max=3650"`
	TemplateID *string         `json:"template_id" validate:"omitempty,min=1"`
	Subject    *string         `json:"subject" validate:"omitempty,max=998"`
	Content    *string         `json:"content"`
}

type sequenceResponse struct {
	*domain.Sequence
	Steps []domain.Step `json:"steps"`
}

//	POST /api/sequences
func (s *Server) handleCreateSequence(w http.ResponseWriter, r *http.Request) {
	var req createSequenceRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	seq, err := s.deps.Sequences.Create(r.Context(), sequence.CreateInput{
		OrganizationID: req.OrganizationID,
		CampaignID:     req.CampaignID,
		Name:           req.Name,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, sequenceResponse{Sequence: seq, Steps: []domain.Step{}})
}

//	GET /api/sequences/{sequenceID}
func (s *Server) handleGetSequence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sequenceID")
	seq, err := s.deps.Sequences.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	steps, err := s.deps.Sequences.Steps(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, sequenceResponse{Sequence: seq, Steps: steps})
}

//	POST /api/sequences/{sequenceID}/activate
func (s *Server) handleActivateSequence(w http.ResponseWriter, r *http.Request) {
	s.changeSequenceStatus(w, r, s.deps.Sequences.Activate)
}

//	POST /api/sequences/{sequenceID}/pause
func (s *Server) handlePauseSequence(w http.ResponseWriter, r *http.Request) {
	s.changeSequenceStatus(w, r, s.deps.Sequences.Pause)
}

func (s *Server) changeSequenceStatus(w http.ResponseWriter, r *http.Request, apply func(context.Context, string) error) {
	id := chi.URLParam(r, "sequenceID")
	if err := apply(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	seq, err := s.deps.Sequences.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, seq)
}

//	POST /api/sequences/{sequenceID}/steps
func (s *Server) handleAddStep(w http.ResponseWriter, r *http.Request) {
	var req addStepRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	step, err := s.deps.Sequences.AddStep(r.Context(), chi.URLParam(r, "sequenceID"), sequence.AddStepInput{
		Type:       req.Type,
		DelayDays:  req.DelayDays,
		TemplateID: req.TemplateID,
		Subject:    req.Subject,
		Content:    req.Content,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, step)
}

//	DELETE /api/sequences/{sequenceID}/steps/{stepID}
func (s *Server) handleDeleteStep(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sequences.DeleteStep(r.Context(), chi.URLParam(r, "sequenceID"), chi.URLParam(r, "stepID")); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}
