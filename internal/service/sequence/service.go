package sequence

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/pkg/logger"
)

// Service implements sequence business logic on top of a Repository.
type Service struct {
	repo  Repository
	clock clockwork.Clock
}

// NewService creates a sequence service backed by the given repository.
func NewService(repo Repository, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{repo: repo, clock: clock}
}

// CreateInput holds the fields accepted when creating a sequence.
type CreateInput struct {
	OrganizationID string
	CampaignID     *string
	Name           string
}

// AddStepInput holds the fields accepted when appending a step.
type AddStepInput struct {
	Type       domain.StepType
	DelayDays  int
	TemplateID *string
	Subject    *string
	Content    *string
}

// Create persists a new sequence in draft status.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Sequence, error) {
	var errs domain.ValidationErrors
	if strings.TrimSpace(in.Name) == "" {
		errs.Add("name", "is required")
	}
	if in.OrganizationID == "" {
		errs.Add("organization_id", "is required")
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	seq := &domain.Sequence{
		ID:             uuid.NewString(),
		OrganizationID: in.OrganizationID,
		CampaignID:     in.CampaignID,
		Name:           strings.TrimSpace(in.Name),
		Status:         domain.SequenceDraft,
		CreatedAt:      s.clock.Now().UTC(),
	}
	if err := s.repo.Create(ctx, seq); err != nil {
		return nil, err
	}
	return seq, nil
}

// Get returns a sequence.
func (s *Service) Get(ctx context.Context, id string) (*domain.Sequence, error) {
	return s.repo.Get(ctx, id)
}

// Steps returns the ordered steps of an existing sequence.
func (s *Service) Steps(ctx context.Context, sequenceID string) ([]domain.Step, error) {
	if _, err := s.repo.Get(ctx, sequenceID); err != nil {
		return nil, err
	}
	return s.repo.Steps(ctx, sequenceID)
}

// AddStep validates and appends a step to the end of the sequence.
func (s *Service) AddStep(ctx context.Context, sequenceID string, in AddStepInput) (*domain.Step, error) {
	step, err := domain.NewStep(uuid.NewString(), sequenceID, in.Type, in.DelayDays, in.TemplateID, in.Subject, in.Content)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.Get(ctx, sequenceID); err != nil {
		return nil, err
	}
	return s.repo.AddStep(ctx, step)
}

// DeleteStep removes a step and closes the gap in step order.
func (s *Service) DeleteStep(ctx context.Context, sequenceID, stepID string) error {
	return s.repo.DeleteStep(ctx, sequenceID, stepID)
}

// Activate makes the sequence's enrollments eligible for processing.
func (s *Service) Activate(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, domain.SequenceActive)
}

// Pause stops processing for every enrollment of the sequence without
// touching the enrollments themselves.
func (s *Service) Pause(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, domain.SequencePaused)
}

func (s *Service) setStatus(ctx context.Context, id string, status domain.SequenceStatus) error {
	seq, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if seq.Status == status {
		return nil
	}
	if status == domain.SequenceDraft {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, seq.Status, status)
	}
	if err := s.repo.SetStatus(ctx, id, status, s.clock.Now()); err != nil {
		return fmt.Errorf("set sequence status: %w", err)
	}
	logger.Info("sequence status changed", "sequence_id", id, "from", string(seq.Status), "to", string(status))
	return nil
}
