package outreach

import (
	"context"
	"time"

	"github.com/ignite/investor-outreach/internal/domain"
)

// Repository defines the data access contract for outreach records.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create appends an outreach record.
	Create(ctx context.Context, o *domain.Outreach) error

	// GetByTrackingID returns the outreach for a tracking id. Returns
	// ErrNotFound if there is none.
	GetByTrackingID(ctx context.Context, trackingID string) (*domain.Outreach, error)

	// Upgrade moves the outreach to target and stamps the matching
	// timestamp only if its current status is one of
	// domain.UpgradeSources(target). The check and the write are one atomic
	// update. Reports whether a row changed; an unknown tracking id is not
	// an error.
	Upgrade(ctx context.Context, trackingID string, target domain.OutreachStatus, at time.Time) (bool, error)
}
