package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oru-io/conduct/pkg/models"
)

// WebhookSender posts messages to incoming-webhook style endpoints. Slack
// and Discord only differ in the payload field name.
type WebhookSender struct {
	channel models.NotifyChannel
	field   string
	client  *http.Client
}

func NewSlackSender() *WebhookSender {
	return &WebhookSender{
		channel: models.ChannelSlack,
		field:   "text",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func NewDiscordSender() *WebhookSender {
	return &WebhookSender{
		channel: models.ChannelDiscord,
		field:   "content",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSender) Channel() models.NotifyChannel {
	return s.channel
}

// Send posts the message body to the webhook URL carried in Recipient.
func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("%s message has no webhook url", s.channel)
	}

	payload, err := json.Marshal(map[string]string{s.field: msg.Body})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.Recipient, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s delivery failed: %w", s.channel, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s delivery failed: http status %d", s.channel, resp.StatusCode)
	}

	return nil
}
