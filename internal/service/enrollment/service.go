package enrollment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/pkg/logger"
	"github.com/ignite/investor-outreach/internal/service/sequence"
)

// Limits on request shapes.
const (
	MaxInvestorsPerRequest = 1000
	DefaultPageSize        = 50
	MaxPageSize            = 200
)

// DefaultOverdueAfter is how long an enrollment may stay due before it
// counts as overdue.
const DefaultOverdueAfter = time.Hour

// Service implements enrollment business logic.
type Service struct {
	repo         Repository
	sequences    sequence.Repository
	clock        clockwork.Clock
	overdueAfter time.Duration
}

// NewService creates an enrollment service.
func NewService(repo Repository, sequences sequence.Repository, clock clockwork.Clock, overdueAfter time.Duration) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if overdueAfter <= 0 {
		overdueAfter = DefaultOverdueAfter
	}
	return &Service{repo: repo, sequences: sequences, clock: clock, overdueAfter: overdueAfter}
}

// EnrollInput is the request to enroll investors into a sequence.
type EnrollInput struct {
	SequenceID  string
	InvestorIDs []string
	CampaignID  *string
}

// EnrollResult reports how many investors were newly enrolled and how many
// were skipped because they were already enrolled or listed twice.
type EnrollResult struct {
	Enrolled int `json:"enrolled"`
	Skipped  int `json:"skipped"`
}

// Enroll enrolls investors into a sequence. Enrolling an investor who is
// already enrolled is a no-op counted as skipped.
func (s *Service) Enroll(ctx context.Context, in EnrollInput) (*EnrollResult, error) {
	ids, err := validateInvestorIDs(in.SequenceID, in.InvestorIDs)
	if err != nil {
		return nil, err
	}

	seq, err := s.sequences.Get(ctx, in.SequenceID)
	if err != nil {
		return nil, err
	}
	first, err := s.sequences.StepAt(ctx, seq.ID, 1)
	if err != nil && !errors.Is(err, sequence.ErrStepNotFound) {
		return nil, fmt.Errorf("load first step: %w", err)
	}

	now := s.clock.Now()
	unique := dedupe(ids)
	batch := make([]*domain.Enrollment, 0, len(unique))
	for _, investorID := range unique {
		e, err := domain.NewEnrollment(uuid.NewString(), seq, investorID, in.CampaignID, first, now)
		if err != nil {
			return nil, err
		}
		batch = append(batch, e)
	}

	n, err := s.repo.Enroll(ctx, batch)
	if err != nil {
		return nil, err
	}
	res := &EnrollResult{Enrolled: n, Skipped: len(ids) - n}
	logger.Info("investors enrolled", "sequence_id", seq.ID, "enrolled", res.Enrolled, "skipped", res.Skipped)
	return res, nil
}

// Unenroll removes investors from a sequence.
func (s *Service) Unenroll(ctx context.Context, sequenceID string, investorIDs []string) (int, error) {
	ids, err := validateInvestorIDs(sequenceID, investorIDs)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.Unenroll(ctx, sequenceID, dedupe(ids))
	if err != nil {
		return 0, err
	}
	logger.Info("investors unenrolled", "sequence_id", sequenceID, "removed", n)
	return n, nil
}

// List returns a page of a sequence's enrollments and the total count.
func (s *Service) List(ctx context.Context, sequenceID string, f ListFilter) ([]domain.Enrollment, int, error) {
	var errs domain.ValidationErrors
	if sequenceID == "" {
		errs.Add("sequence_id", "is required")
	}
	if f.Status != "" && !f.Status.Valid() {
		errs.Add("status", "unknown status %q", f.Status)
	}
	if f.Offset < 0 {
		errs.Add("offset", "must not be negative")
	}
	if err := errs.Err(); err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if _, err := s.sequences.Get(ctx, sequenceID); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, sequenceID, f)
}

// BulkSetStatus changes the status of many enrollments. Completed and
// cancelled enrollments are left unchanged and not counted.
func (s *Service) BulkSetStatus(ctx context.Context, ids []string, status domain.EnrollmentStatus) (int, error) {
	var errs domain.ValidationErrors
	if len(ids) == 0 {
		errs.Add("enrollment_ids", "must not be empty")
	}
	if len(ids) > MaxInvestorsPerRequest {
		errs.Add("enrollment_ids", "at most %d ids per request", MaxInvestorsPerRequest)
	}
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			errs.Add("enrollment_ids", "must not contain empty ids")
			break
		}
	}
	if !status.Valid() {
		errs.Add("status", "unknown status %q", status)
	}
	if err := errs.Err(); err != nil {
		return 0, err
	}

	n, err := s.repo.BulkSetStatus(ctx, dedupe(ids), status, s.clock.Now())
	if err != nil {
		return 0, err
	}
	logger.Info("enrollment status updated", "status", string(status), "requested", len(ids), "updated", n)
	return n, nil
}

// Stats returns scheduler health counts at the current time.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	now := s.clock.Now().UTC()
	st, err := s.repo.Stats(ctx, now, now.Add(-s.overdueAfter))
	if err != nil {
		return nil, fmt.Errorf("enrollment stats: %w", err)
	}
	st.GeneratedAt = now
	return st, nil
}

func validateInvestorIDs(sequenceID string, investorIDs []string) ([]string, error) {
	var errs domain.ValidationErrors
	if strings.TrimSpace(sequenceID) == "" {
		errs.Add("sequence_id", "is required")
	}
	if len(investorIDs) == 0 {
		errs.Add("investor_ids", "must not be empty")
	}
	if len(investorIDs) > MaxInvestorsPerRequest {
		errs.Add("investor_ids", "at most %d ids per request", MaxInvestorsPerRequest)
	}
	ids := make([]string, 0, len(investorIDs))
	for _, id := range investorIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			errs.Add("investor_ids", "must not contain empty ids")
			break
		}
		ids = append(ids, id)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
