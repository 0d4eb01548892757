package outreach

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/ignite/investor-outreach/internal/activity"
	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/pkg/logger"
)

var eventTypes = map[domain.OutreachStatus]string{
	domain.OutreachOpened:  activity.OutreachOpened,
	domain.OutreachClicked: activity.OutreachClicked,
	domain.OutreachReplied: activity.OutreachReplied,
	domain.OutreachBounced: activity.OutreachBounced,
}

// Tracker applies engagement signals. Every Record method is idempotent and
// upgrade-only: duplicates and out-of-order signals are no-ops.
type Tracker struct {
	repo      Repository
	publisher activity.Publisher
	clock     clockwork.Clock
}

// NewTracker creates a tracker. publisher may be nil.
func NewTracker(repo Repository, publisher activity.Publisher, clock clockwork.Clock) *Tracker {
	if publisher == nil {
		publisher = activity.Nop{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{repo: repo, publisher: publisher, clock: clock}
}

// RecordOpen moves sent to opened.
func (t *Tracker) RecordOpen(ctx context.Context, trackingID string) (bool, error) {
	return t.record(ctx, trackingID, domain.OutreachOpened, nil)
}

// RecordClick moves sent or opened to clicked. The destination is attached
// to the published event only.
func (t *Tracker) RecordClick(ctx context.Context, trackingID, targetURL string) (bool, error) {
	return t.record(ctx, trackingID, domain.OutreachClicked, map[string]string{"url": targetURL})
}

// RecordReply moves sent, opened or clicked to replied.
func (t *Tracker) RecordReply(ctx context.Context, trackingID string) (bool, error) {
	return t.record(ctx, trackingID, domain.OutreachReplied, nil)
}

// RecordBounce moves scheduled or sent to bounced.
func (t *Tracker) RecordBounce(ctx context.Context, trackingID, reason string) (bool, error) {
	var data map[string]string
	if reason != "" {
		data = map[string]string{"reason": reason}
	}
	return t.record(ctx, trackingID, domain.OutreachBounced, data)
}

func (t *Tracker) record(ctx context.Context, trackingID string, target domain.OutreachStatus, data map[string]string) (bool, error) {
	if trackingID == "" {
		return false, nil
	}
	now := t.clock.Now().UTC()
	changed, err := t.repo.Upgrade(ctx, trackingID, target, now)
	if err != nil {
		return false, fmt.Errorf("record %s: %w", target, err)
	}
	if !changed {
		return false, nil
	}

	ev := activity.Event{Type: eventTypes[target], TrackingID: trackingID, OccurredAt: now, Data: data}
	o, err := t.repo.GetByTrackingID(ctx, trackingID)
	switch {
	case err == nil:
		ev.OrganizationID = o.OrganizationID
		ev.SequenceID = o.SequenceID
		ev.EnrollmentID = o.EnrollmentID
		ev.InvestorID = o.InvestorID
		ev.OutreachID = o.ID
	case !errors.Is(err, ErrNotFound):
		logger.Warn("load outreach for activity failed", "tracking_id", trackingID, "error", err.Error())
	}
	activity.Emit(ctx, t.publisher, ev)
	return true, nil
}
