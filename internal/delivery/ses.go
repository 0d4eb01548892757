package delivery

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/jonboulle/clockwork"

	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/pkg/logger"
)

// SESAPI is the subset of the SES v2 client used by SESChannel.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig configures the SES email channel.
type SESConfig struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	ConfigurationSet string
}

// SESChannel sends email through AWS SES v2.
type SESChannel struct {
	client    SESAPI
	configSet string
	clock     clockwork.Clock
}

// NewSESChannel builds an SES client. Static credentials are used when
// given, otherwise the default AWS credential chain.
func NewSESChannel(ctx context.Context, cfg SESConfig) (*SESChannel, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSESChannelWithClient(sesv2.NewFromConfig(awsCfg), cfg.ConfigurationSet, clockwork.NewRealClock()), nil
}

// NewSESChannelWithClient wraps an existing client.
func NewSESChannelWithClient(client SESAPI, configSet string, clock clockwork.Clock) *SESChannel {
	return &SESChannel{client: client, configSet: configSet, clock: clock}
}

// Send delivers msg as a simple HTML email.
func (s *SESChannel) Send(ctx context.Context, msg *domain.Message) (*domain.SendResult, error) {
	if msg.To == "" {
		return nil, fmt.Errorf("%w: investor %s has no email address", ErrInvalidMessage, msg.InvestorID)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatAddress(msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{formatAddress(msg.ToName, msg.To)}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("enrollment_id"), Value: aws.String(msg.EnrollmentID)},
			{Name: aws.String("tracking_id"), Value: aws.String(msg.TrackingID)},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if s.configSet != "" {
		input.ConfigurationSetName = aws.String(s.configSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send: %w", err)
	}

	messageID := aws.ToString(out.MessageId)
	logger.Debug("ses: sent", "email", msg.To, "message_id", messageID)

	return &domain.SendResult{
		ProviderMessageID: messageID,
		Channel:           "ses",
		SentAt:            s.clock.Now().UTC(),
	}, nil
}

func formatAddress(name, email string) string {
	if name == "" {
		return email
	}
	return (&mail.Address{Name: name, Address: email}).String()
}

var _ Gateway = (*SESChannel)(nil)
