package delivery

import (
	"context"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/pkg/logger"
)

// LogChannel accepts every message and only logs it. Used in dev mode and
// for step types without a real integration.
type LogChannel struct {
	name  string
	clock clockwork.Clock
}

// NewLogChannel creates a channel reporting itself as name.
func NewLogChannel(name string, clock clockwork.Clock) *LogChannel {
	return &LogChannel{name: name, clock: clock}
}

func (c *LogChannel) Send(ctx context.Context, msg *domain.Message) (*domain.SendResult, error) {
	logger.Info("delivery: logged message",
		"channel", string(msg.Channel),
		"enrollment_id", msg.EnrollmentID,
		"tracking_id", msg.TrackingID,
		"email", msg.To,
		"subject", msg.Subject)
	return &domain.SendResult{
		ProviderMessageID: "log-" + uuid.NewString(),
		Channel:           c.name,
		SentAt:            c.clock.Now().UTC(),
	}, nil
}

var _ Gateway = (*LogChannel)(nil)
