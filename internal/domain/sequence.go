package domain

import (
	"time"
)

// SequenceStatus enumerates the lifecycle states of a sequence.
type SequenceStatus string

const (
	SequenceDraft  SequenceStatus = "draft"
	SequenceActive SequenceStatus = "active"
	SequencePaused SequenceStatus = "paused"
)

// Valid reports whether s is a known sequence status.
func (s SequenceStatus) Valid() bool {
	switch s {
	case SequenceDraft, SequenceActive, SequencePaused:
		return true
	}
	return false
}

// Sequence is an ordered outreach plan owned by a campaign.
type Sequence struct {
	ID             string         `json:"id" db:"id"`
	OrganizationID string         `json:"organization_id" db:"organization_id"`
	CampaignID     *string        `json:"campaign_id" db:"campaign_id"`
	Name           string         `json:"name" db:"name"`
	Status         SequenceStatus `json:"status" db:"status"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// StepType identifies what a step does when it fires.
type StepType string

const (
	StepEmail    StepType = "email"
	StepLinkedIn StepType = "linkedin"
	StepTask     StepType = "task"
	StepWait     StepType = "wait"
)

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	switch t {
	case StepEmail, StepLinkedIn, StepTask, StepWait:
		return true
	}
	return false
}

// Sendable reports whether firing a step of this type produces a delivery.
// Wait steps only let time elapse.
func (t StepType) Sendable() bool {
	return t.Valid() && t != StepWait
}

// Step is one unit of work in a sequence. Order is 1-based and contiguous
// within its sequence; DelayDays is measured from the previous step firing.
type Step struct {
	ID         string   `json:"id" db:"id"`
	SequenceID string   `json:"sequence_id" db:"sequence_id"`
	Order      int      `json:"order" db:"step_order"`
	Type       StepType `json:"type" db:"type"`
	DelayDays  int      `json:"delay_days" db:"delay_days"`
	TemplateID *string  `json:"template_id,omitempty" db:"template_id"`
	Subject    *string  `json:"subject,omitempty" db:"subject"`
	Content    *string  `json:"content,omitempty" db:"content"`
}

// NewStep builds a validated step. The order is assigned by the repository
// when the step is appended, so it is not validated here.
func NewStep(id, sequenceID string, typ StepType, delayDays int, templateID, subject, content *string) (*Step, error) {
	var errs ValidationErrors
	if sequenceID == "" {
		errs.Add("sequence_id", "is required")
	}
	if !typ.Valid() {
		errs.Add("type", "unknown step type %q", typ)
	}
	if delayDays < 0 {
		errs.Add("delay_days", "must be a non-negative integer")
	}
	if typ.Sendable() && templateID == nil && content == nil {
		errs.Add("content", "a %s step needs content or a template", typ)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return &Step{
		ID:         id,
		SequenceID: sequenceID,
		Type:       typ,
		DelayDays:  delayDays,
		TemplateID: templateID,
		Subject:    subject,
		Content:    content,
	}, nil
}

// Template is authored step content looked up by id.
type Template struct {
	ID      string `json:"id" db:"id"`
	Name    string `json:"name" db:"name"`
	Subject string `json:"subject" db:"subject"`
	Content string `json:"content" db:"content"`
}

// Campaign is the slice of a campaign the sequencer needs for personalization.
type Campaign struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	Name           string `json:"name" db:"name"`
	SenderName     string `json:"sender_name" db:"sender_name"`
	SenderEmail    string `json:"sender_email" db:"sender_email"`
}
