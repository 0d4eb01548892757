package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jonboulle/clockwork"

	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/pkg/httpretry"
)

// WebhookChannel hands linkedin and task steps to an external automation
// endpoint as JSON. Any 2xx response counts as accepted.
type WebhookChannel struct {
	name   string
	url    string
	token  string
	client httpretry.HTTPDoer
	clock  clockwork.Clock
}

// webhookPayload is the body POSTed to the endpoint.
type webhookPayload struct {
	Channel      domain.StepType `json:"channel"`
	TrackingID   string          `json:"tracking_id"`
	EnrollmentID string          `json:"enrollment_id"`
	InvestorID   string          `json:"investor_id"`
	To           string          `json:"to,omitempty"`
	ToName       string          `json:"to_name,omitempty"`
	ProfileURL   string          `json:"profile_url,omitempty"`
	Subject      string          `json:"subject,omitempty"`
	Content      string          `json:"content"`
}

type webhookResponse struct {
	ID string `json:"id"`
}

// NewWebhookChannel posts to url. A non-empty token is sent as a bearer
// credential.
func NewWebhookChannel(name, url, token string, client httpretry.HTTPDoer, clock clockwork.Clock) *WebhookChannel {
	if client == nil {
		client = httpretry.NewRetryClient(nil, 3)
	}
	return &WebhookChannel{name: name, url: url, token: token, client: client, clock: clock}
}

// Send posts msg and reads an optional {"id": "..."} acknowledgement.
func (c *WebhookChannel) Send(ctx context.Context, msg *domain.Message) (*domain.SendResult, error) {
	body, err := json.Marshal(webhookPayload{
		Channel:      msg.Channel,
		TrackingID:   msg.TrackingID,
		EnrollmentID: msg.EnrollmentID,
		InvestorID:   msg.InvestorID,
		To:           msg.To,
		ToName:       msg.ToName,
		ProfileURL:   msg.ProfileURL,
		Subject:      msg.Subject,
		Content:      msg.HTML,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.TrackingID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s webhook: %w", c.name, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s webhook: status %d: %s", c.name, resp.StatusCode, bytes.TrimSpace(data))
	}

	var ack webhookResponse
	_ = json.Unmarshal(data, &ack)
	if ack.ID == "" {
		ack.ID = msg.TrackingID
	}
	return &domain.SendResult{
		ProviderMessageID: ack.ID,
		Channel:           c.name,
		SentAt:            c.clock.Now().UTC(),
	}, nil
}

var _ Gateway = (*WebhookChannel)(nil)
