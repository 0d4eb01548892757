package sequence

import (
	"context"
	"time"

	"github.com/ignite/investor-outreach/internal/domain"
)

// Repository defines the data access contract for sequences and steps.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a new sequence.
	Create(ctx context.Context, s *domain.Sequence) error

	// Get returns a sequence. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Sequence, error)

	// Steps returns the steps of a sequence ordered by step order.
	Steps(ctx context.Context, sequenceID string) ([]domain.Step, error)

	// StepAt returns the step with the given order. Returns ErrStepNotFound
	// when the sequence has no such step.
	StepAt(ctx context.Context, sequenceID string, order int) (*domain.Step, error)

	// AddStep appends step with order max(order)+1 and returns it with the
	// order set.
	AddStep(ctx context.Context, step *domain.Step) (*domain.Step, error)

	// DeleteStep removes a step and decrements the order of every later step
	// in one atomic operation. Returns ErrStepNotFound if the step is not in
	// the sequence.
	DeleteStep(ctx context.Context, sequenceID, stepID string) error

	// SetStatus changes the sequence status. Moving to active also stamps
	// started_at on the sequence's enrollments that have not started yet.
	SetStatus(ctx context.Context, id string, status domain.SequenceStatus, now time.Time) error
}
