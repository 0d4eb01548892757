// Package activity publishes outreach activity events for downstream
// consumers such as the CRM activity log. Publishing is best-effort: a
// failed publish is logged and never fails the operation that produced it.
package activity

import (
	"context"
	"time"

	"github.com/ignite/investor-outreach/internal/pkg/logger"
)

// Event types.
const (
	OutreachSent        = "outreach.sent"
	OutreachOpened      = "outreach.opened"
	OutreachClicked     = "outreach.clicked"
	OutreachReplied     = "outreach.replied"
	OutreachBounced     = "outreach.bounced"
	EnrollmentCompleted = "enrollment.completed"
)

// Event is one activity log entry.
type Event struct {
	Type           string            `json:"type"`
	OrganizationID string            `json:"organization_id,omitempty"`
	SequenceID     string            `json:"sequence_id,omitempty"`
	EnrollmentID   string            `json:"enrollment_id,omitempty"`
	InvestorID     string            `json:"investor_id,omitempty"`
	OutreachID     string            `json:"outreach_id,omitempty"`
	TrackingID     string            `json:"tracking_id,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
	Data           map[string]string `json:"data,omitempty"`
}

// Publisher delivers activity events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Emit publishes ev and logs, rather than returns, any failure.
func Emit(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		logger.Warn("activity publish failed", "type", ev.Type, "enrollment_id", ev.EnrollmentID, "error", err.Error())
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// LogPublisher writes events to the structured log.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, ev Event) error {
	logger.Info("activity", "type", ev.Type, "enrollment_id", ev.EnrollmentID,
		"investor_id", ev.InvestorID, "tracking_id", ev.TrackingID)
	return nil
}
