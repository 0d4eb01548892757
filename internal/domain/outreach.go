package domain

import "time"

// OutreachStatus enumerates the states of one communication attempt.
type OutreachStatus string

const (
	OutreachScheduled OutreachStatus = "scheduled"
	OutreachSent      OutreachStatus = "sent"
	OutreachOpened    OutreachStatus = "opened"
	OutreachClicked   OutreachStatus = "clicked"
	OutreachReplied   OutreachStatus = "replied"
	OutreachBounced   OutreachStatus = "bounced"
)

// IsTerminal returns true for statuses that are never downgraded or upgraded.
func (s OutreachStatus) IsTerminal() bool {
	return s == OutreachReplied || s == OutreachBounced
}

// upgradeSources lists, for each engagement status, the statuses it may be
// reached from. Anything else is a no-op.
var upgradeSources = map[OutreachStatus][]OutreachStatus{
	OutreachSent:    {OutreachScheduled},
	OutreachOpened:  {OutreachSent},
	OutreachClicked: {OutreachSent, OutreachOpened},
	OutreachReplied: {OutreachSent, OutreachOpened, OutreachClicked},
	OutreachBounced: {OutreachScheduled, OutreachSent},
}

// CanUpgradeTo reports whether moving from s to target is a forward move.
func (s OutreachStatus) CanUpgradeTo(target OutreachStatus) bool {
	for _, from := range upgradeSources[target] {
		if from == s {
			return true
		}
	}
	return false
}

// UpgradeSources returns the statuses target may be reached from.
func UpgradeSources(target OutreachStatus) []OutreachStatus {
	return append([]OutreachStatus(nil), upgradeSources[target]...)
}

// Outreach records one step execution and its engagement.
type Outreach struct {
	ID                string         `json:"id" db:"id"`
	OrganizationID    string         `json:"organization_id" db:"organization_id"`
	CampaignID        *string        `json:"campaign_id" db:"campaign_id"`
	InvestorID        string         `json:"investor_id" db:"investor_id"`
	SequenceID        string         `json:"sequence_id" db:"sequence_id"`
	StepID            string         `json:"step_id" db:"step_id"`
	EnrollmentID      string         `json:"enrollment_id" db:"enrollment_id"`
	Type              StepType       `json:"type" db:"type"`
	Status            OutreachStatus `json:"status" db:"status"`
	TrackingID        string         `json:"tracking_id" db:"tracking_id"`
	ProviderMessageID string         `json:"provider_message_id,omitempty" db:"provider_message_id"`
	Subject           string         `json:"subject" db:"subject"`
	Content           string         `json:"content" db:"content"`
	ScheduledAt       *time.Time     `json:"scheduled_at" db:"scheduled_at"`
	SentAt            *time.Time     `json:"sent_at" db:"sent_at"`
	OpenedAt          *time.Time     `json:"opened_at" db:"opened_at"`
	ClickedAt         *time.Time     `json:"clicked_at" db:"clicked_at"`
	RepliedAt         *time.Time     `json:"replied_at" db:"replied_at"`
	BouncedAt         *time.Time     `json:"bounced_at" db:"bounced_at"`
}

// Upgrade applies an engagement signal. It returns false, leaving o
// untouched, when the signal would not move the status forward.
func (o *Outreach) Upgrade(target OutreachStatus, at time.Time) bool {
	if !o.Status.CanUpgradeTo(target) {
		return false
	}
	at = at.UTC()
	switch target {
	case OutreachSent:
		o.SentAt = &at
	case OutreachOpened:
		o.OpenedAt = &at
	case OutreachClicked:
		o.ClickedAt = &at
	case OutreachReplied:
		o.RepliedAt = &at
	case OutreachBounced:
		o.BouncedAt = &at
	}
	o.Status = target
	return true
}

// Message is a fully rendered communication ready for a delivery channel.
// Tracking injection is already applied to HTML.
type Message struct {
	ID           string            `json:"id"`
	Channel      StepType          `json:"channel"`
	TrackingID   string            `json:"tracking_id"`
	EnrollmentID string            `json:"enrollment_id"`
	InvestorID   string            `json:"investor_id"`
	To           string            `json:"to"`
	ToName       string            `json:"to_name"`
	ProfileURL   string            `json:"profile_url,omitempty"`
	FromName     string            `json:"from_name"`
	FromEmail    string            `json:"from_email"`
	ReplyTo      string            `json:"reply_to,omitempty"`
	Subject      string            `json:"subject"`
	HTML         string            `json:"html"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// SendResult is returned by a delivery channel on success.
type SendResult struct {
	ProviderMessageID string    `json:"provider_message_id"`
	Channel           string    `json:"channel"`
	SentAt            time.Time `json:"sent_at"`
}
