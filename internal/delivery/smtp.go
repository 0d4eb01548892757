package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gopkg.in/gomail.v2"

	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/pkg/logger"
)

// SMTPDialer is satisfied by *gomail.Dialer.
type SMTPDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPConfig configures the SMTP email channel.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPChannel sends email through an SMTP relay.
type SMTPChannel struct {
	dialer SMTPDialer
	domain string
	clock  clockwork.Clock
}

// NewSMTPChannel dials cfg.Host for every message.
func NewSMTPChannel(cfg SMTPConfig) *SMTPChannel {
	return NewSMTPChannelWithDialer(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg.Host, clockwork.NewRealClock())
}

// NewSMTPChannelWithDialer wraps an existing dialer. messageDomain is used
// on the right-hand side of generated Message-IDs.
func NewSMTPChannelWithDialer(d SMTPDialer, messageDomain string, clock clockwork.Clock) *SMTPChannel {
	if messageDomain == "" {
		messageDomain = "localhost"
	}
	return &SMTPChannel{dialer: d, domain: messageDomain, clock: clock}
}

// Send delivers msg. SMTP offers no provider id, so the generated
// Message-ID is reported instead.
func (s *SMTPChannel) Send(ctx context.Context, msg *domain.Message) (*domain.SendResult, error) {
	if msg.To == "" {
		return nil, fmt.Errorf("%w: investor %s has no email address", ErrInvalidMessage, msg.InvestorID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.domain)

	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(msg.FromEmail, msg.FromName))
	m.SetHeader("To", m.FormatAddress(msg.To, msg.ToName))
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)
	m.SetHeader("X-Tracking-ID", msg.TrackingID)
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}
	m.SetBody("text/html", msg.HTML)

	if err := s.dialer.DialAndSend(m); err != nil {
		return nil, fmt.Errorf("smtp send: %w", err)
	}

	logger.Debug("smtp: sent", "email", msg.To, "message_id", messageID)
	return &domain.SendResult{
		ProviderMessageID: strings.Trim(messageID, "<>"),
		Channel:           "smtp",
		SentAt:            s.clock.Now().UTC(),
	}, nil
}

var _ Gateway = (*SMTPChannel)(nil)
