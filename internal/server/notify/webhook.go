package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dzintars-a/coldkeeper/internal/common"
)

// WebhookSender posts cards as JSON to the chat channel's incoming
// webhook. One POST is one delivery attempt; retry cadence is owned by
// the calling activity's retry policy, deliberately without jitter to
// match the upstream channel integration (a thundering-herd risk under
// bulk failures, accepted for now).
type WebhookSender struct {
	url    string
	client *http.Client
}

func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	Recipient Recipient `json:"recipient"`
	Card      Card      `json:"card"`
}

func (s *WebhookSender) SendCard(ctx context.Context, recipient Recipient, card Card) error {
	if err := recipient.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(webhookPayload{Recipient: recipient, Card: card})
	if err != nil {
		return common.NonRetryable(fmt.Errorf("marshal card: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return common.NonRetryable(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send card: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return common.NonRetryable(fmt.Errorf("card rejected: %s", resp.Status))
	default:
		return fmt.Errorf("card delivery failed: %s", resp.Status)
	}
}
