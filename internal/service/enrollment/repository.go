package enrollment

import (
	"context"
	"time"

	"github.com/ignite/investor-outreach/internal/domain"
)

// Repository defines the data access contract for enrollments.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Enroll inserts enrollments that all belong to the same sequence and
	// share every field except id and investor id. Rows whose
	// (sequence_id, investor_id) already exists are skipped. Returns the
	// number inserted. Returns ErrInvestorNotFound, inserting nothing, if
	// any investor does not exist.
	Enroll(ctx context.Context, enrollments []*domain.Enrollment) (int, error)

	// Unenroll hard-deletes the enrollments of the given investors in a
	// sequence and returns the number removed.
	Unenroll(ctx context.Context, sequenceID string, investorIDs []string) (int, error)

	// List returns a page of a sequence's enrollments ordered by enrolled_at
	// then id, with the investor summary attached, plus the total count.
	List(ctx context.Context, sequenceID string, f ListFilter) ([]domain.Enrollment, int, error)

	// BulkSetStatus applies a user-requested status change to every listed
	// enrollment that allows it (see domain.Enrollment.ApplyStatus) and
	// returns the number changed.
	BulkSetStatus(ctx context.Context, ids []string, status domain.EnrollmentStatus, now time.Time) (int, error)

	// ClaimDue atomically leases up to limit enrollments that are active, in
	// an active sequence, due at now and not under a live claim. Each
	// returned enrollment carries its new ClaimToken. Results are ordered by
	// next_send_at then id.
	ClaimDue(ctx context.Context, now time.Time, limit int, ttl time.Duration) ([]domain.Enrollment, error)

	// Advance moves the step pointer of a claimed enrollment and clears the
	// claim (see domain.Enrollment.ApplyAdvance). Returns ErrClaimLost if
	// the claim token no longer matches.
	Advance(ctx context.Context, in AdvanceInput) error

	// Release clears a claim without touching the step pointer or
	// next_send_at. Returns ErrClaimLost if the token no longer matches.
	Release(ctx context.Context, id, claimToken string) error

	// ReleaseExpired clears every claim whose expiry is at or before now
	// and returns the number cleared.
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)

	// Stats counts enrollments by scheduling state at now. Enrollments due
	// since before overdueBefore count as overdue.
	Stats(ctx context.Context, now, overdueBefore time.Time) (*Stats, error)
}

// ListFilter controls pagination and filtering for enrollment lists.
type ListFilter struct {
	Status domain.EnrollmentStatus
	Limit  int
	Offset int
}

// AdvanceInput describes a pointer move made by the claim holder.
type AdvanceInput struct {
	EnrollmentID string
	ClaimToken   string
	StepOrder    int
	NextSendAt   *time.Time
	Status       domain.EnrollmentStatus
	Now          time.Time
}

// Stats are the scheduler health counts.
type Stats struct {
	Due         int       `json:"due"`
	Overdue     int       `json:"overdue"`
	Active      int       `json:"active"`
	Paused      int       `json:"paused"`
	Completed   int       `json:"completed"`
	Cancelled   int       `json:"cancelled"`
	Claimed     int       `json:"claimed"`
	GeneratedAt time.Time `json:"generated_at"`
}
