package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/service/outreach"
)

// OutreachRepo implements outreach.Repository against PostgreSQL.
type OutreachRepo struct{ db *sql.DB }

// NewOutreachRepo creates a Postgres-backed outreach repository.
func NewOutreachRepo(db *sql.DB) *OutreachRepo { return &OutreachRepo{db: db} }

func (r *OutreachRepo) Create(ctx context.Context, o *domain.Outreach) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outreach
			(id, organization_id, campaign_id, investor_id, sequence_id, step_id, enrollment_id,
			 type, status, tracking_id, provider_message_id, subject, content, scheduled_at, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, o.ID, o.OrganizationID, o.CampaignID, o.InvestorID, o.SequenceID, o.StepID, o.EnrollmentID,
		o.Type, o.Status, o.TrackingID, nullString(o.ProviderMessageID), o.Subject, o.Content,
		o.ScheduledAt, o.SentAt)
	if isPQCode(err, codeUniqueViolation) {
		return fmt.Errorf("create outreach: duplicate tracking id %s: %w", o.TrackingID, err)
	}
	if err != nil {
		return fmt.Errorf("create outreach: %w", err)
	}
	return nil
}

func (r *OutreachRepo) GetByTrackingID(ctx context.Context, trackingID string) (*domain.Outreach, error) {
	o := &domain.Outreach{}
	var campaignID, providerID sql.NullString
	var scheduledAt, sentAt, openedAt, clickedAt, repliedAt, bouncedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, campaign_id, investor_id, sequence_id, step_id, enrollment_id,
		       type, status, tracking_id, provider_message_id, subject, content,
		       scheduled_at, sent_at, opened_at, clicked_at, replied_at, bounced_at
		FROM outreach
		WHERE tracking_id = $1
	`, trackingID).Scan(
		&o.ID, &o.OrganizationID, &campaignID, &o.InvestorID, &o.SequenceID, &o.StepID, &o.EnrollmentID,
		&o.Type, &o.Status, &o.TrackingID, &providerID, &o.Subject, &o.Content,
		&scheduledAt, &sentAt, &openedAt, &clickedAt, &repliedAt, &bouncedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, outreach.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get outreach: %w", err)
	}
	o.CampaignID = strPtr(campaignID)
	o.ProviderMessageID = providerID.String
	o.ScheduledAt = timePtr(scheduledAt)
	o.SentAt = timePtr(sentAt)
	o.OpenedAt = timePtr(openedAt)
	o.ClickedAt = timePtr(clickedAt)
	o.RepliedAt = timePtr(repliedAt)
	o.BouncedAt = timePtr(bouncedAt)
	return o, nil
}

// upgradeColumn maps an engagement status to the timestamp it stamps.
var upgradeColumn = map[domain.OutreachStatus]string{
	domain.OutreachSent:    "sent_at",
	domain.OutreachOpened:  "opened_at",
	domain.OutreachClicked: "clicked_at",
	domain.OutreachReplied: "replied_at",
	domain.OutreachBounced: "bounced_at",
}

// Upgrade is a single conditional UPDATE so concurrent signals for the same
// tracking id cannot move the status backwards.
func (r *OutreachRepo) Upgrade(ctx context.Context, trackingID string, target domain.OutreachStatus, at time.Time) (bool, error) {
	col, ok := upgradeColumn[target]
	if !ok {
		return false, fmt.Errorf("upgrade outreach: unsupported status %q", target)
	}
	sources := domain.UpgradeSources(target)
	from := make([]string, len(sources))
	for i, s := range sources {
		from[i] = string(s)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE outreach SET status = $1, `+col+` = $2
		WHERE tracking_id = $3 AND status = ANY($4)
	`, target, at.UTC(), trackingID, pq.Array(from))
	if err != nil {
		return false, fmt.Errorf("upgrade outreach: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upgrade outreach rows affected: %w", err)
	}
	return n > 0, nil
}

var _ outreach.Repository = (*OutreachRepo)(nil)
