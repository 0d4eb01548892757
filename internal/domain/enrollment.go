package domain

import (
	"time"
)

// EnrollmentStatus enumerates the lifecycle states of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
)

// Valid reports whether s is a known enrollment status.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentActive, EnrollmentPaused, EnrollmentCompleted, EnrollmentCancelled:
		return true
	}
	return false
}

// IsTerminal returns true once the enrollment can no longer change status.
func (s EnrollmentStatus) IsTerminal() bool {
	return s == EnrollmentCompleted || s == EnrollmentCancelled
}

// CanTransitionTo reports whether a user-requested status change from s to
// target is allowed. Terminal enrollments never change.
func (s EnrollmentStatus) CanTransitionTo(target EnrollmentStatus) bool {
	return target.Valid() && !s.IsTerminal()
}

// Enrollment binds one investor to one sequence. CurrentStepOrder is the
// order of the last step that fired (0 before step 1).
type Enrollment struct {
	ID               string           `json:"id" db:"id"`
	SequenceID       string           `json:"sequence_id" db:"sequence_id"`
	InvestorID       string           `json:"investor_id" db:"investor_id"`
	CampaignID       *string          `json:"campaign_id" db:"campaign_id"`
	OrganizationID   string           `json:"organization_id" db:"organization_id"`
	Status           EnrollmentStatus `json:"status" db:"status"`
	CurrentStepOrder int              `json:"current_step_order" db:"current_step_order"`
	NextSendAt       *time.Time       `json:"next_send_at" db:"next_send_at"`
	EnrolledAt       time.Time        `json:"enrolled_at" db:"enrolled_at"`
	StartedAt        *time.Time       `json:"started_at" db:"started_at"`
	CompletedAt      *time.Time       `json:"completed_at" db:"completed_at"`

	// Lease held by a processor run. Empty when unclaimed.
	ClaimToken     string     `json:"-" db:"claim_token"`
	ClaimExpiresAt *time.Time `json:"-" db:"claim_expires_at"`

	// Populated by list queries only.
	Investor *InvestorSummary `json:"investor,omitempty" db:"-"`
}

// NewEnrollment builds the initial state of an enrollment. firstStep may be
// nil for a sequence without steps, in which case the enrollment is due now.
func NewEnrollment(id string, seq *Sequence, investorID string, campaignID *string, firstStep *Step, now time.Time) (*Enrollment, error) {
	var errs ValidationErrors
	if seq == nil || seq.ID == "" {
		errs.Add("sequence_id", "is required")
	}
	if investorID == "" {
		errs.Add("investor_ids", "must not contain empty ids")
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	now = now.UTC()
	delay := 0
	if firstStep != nil {
		delay = firstStep.DelayDays
	}
	next := AddDays(now, delay)

	e := &Enrollment{
		ID:             id,
		SequenceID:     seq.ID,
		InvestorID:     investorID,
		CampaignID:     campaignID,
		OrganizationID: seq.OrganizationID,
		Status:         EnrollmentActive,
		NextSendAt:     &next,
		EnrolledAt:     now,
	}
	if e.CampaignID == nil {
		e.CampaignID = seq.CampaignID
	}
	if seq.Status == SequenceActive {
		started := now
		e.StartedAt = &started
	}
	return e, nil
}

// IsDue reports whether the enrollment should fire at now.
func (e *Enrollment) IsDue(now time.Time) bool {
	return e.Status == EnrollmentActive && e.NextSendAt != nil && !e.NextSendAt.After(now)
}

// IsClaimed reports whether a live lease is held on the enrollment.
func (e *Enrollment) IsClaimed(now time.Time) bool {
	return e.ClaimToken != "" && e.ClaimExpiresAt != nil && e.ClaimExpiresAt.After(now)
}

// ApplyStatus performs a user-requested status change. It returns false and
// leaves e untouched when the transition is not allowed.
func (e *Enrollment) ApplyStatus(target EnrollmentStatus, now time.Time) bool {
	if !e.Status.CanTransitionTo(target) {
		return false
	}
	now = now.UTC()
	switch target {
	case EnrollmentActive:
		if e.NextSendAt == nil || e.NextSendAt.Before(now) {
			resumed := now
			e.NextSendAt = &resumed
		}
	case EnrollmentCompleted:
		e.NextSendAt = nil
		e.CompletedAt = &now
	case EnrollmentCancelled:
		e.NextSendAt = nil
	}
	e.Status = target
	return true
}

// ApplyAdvance moves the step pointer after a step fired. Completion takes
// precedence over active and paused; any other status set by a user while
// the step was in flight is preserved.
func (e *Enrollment) ApplyAdvance(stepOrder int, next *time.Time, status EnrollmentStatus, now time.Time) {
	e.CurrentStepOrder = stepOrder
	if status == EnrollmentCompleted && (e.Status == EnrollmentActive || e.Status == EnrollmentPaused) {
		e.Status = EnrollmentCompleted
	}
	if e.Status == EnrollmentCompleted {
		e.NextSendAt = nil
		if e.CompletedAt == nil {
			done := now.UTC()
			e.CompletedAt = &done
		}
	} else if e.Status != EnrollmentCancelled && next != nil {
		n := next.UTC()
		e.NextSendAt = &n
	}
	e.ClaimToken = ""
	e.ClaimExpiresAt = nil
}

// AddDays adds whole calendar days to t in UTC.
func AddDays(t time.Time, days int) time.Time {
	return t.UTC().AddDate(0, 0, days)
}
