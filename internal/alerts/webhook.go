package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Sender delivers a notification envelope somewhere a human will see it.
type Sender interface {
	Send(ctx context.Context, env Envelope) error
}

// WebhookSender posts envelopes as JSON to an operator webhook (Slack style
// incoming hooks accept the "text" field).
type WebhookSender struct {
	URL  string
	http *http.Client
}

func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{URL: url, http: &http.Client{Timeout: 10 * time.Second}}
}

func (s *WebhookSender) Send(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if len(body) > 0 {
			return fmt.Errorf("webhook send failed: status=%d body=%s", resp.StatusCode, body)
		}
		return fmt.Errorf("webhook send failed: status=%d", resp.StatusCode)
	}
	return nil
}

// LogSender writes envelopes to the log. Used when no webhook is configured.
type LogSender struct {
	Log *zap.Logger
}

func (s LogSender) Send(_ context.Context, env Envelope) error {
	s.Log.Info("[notify] "+env.Event,
		zap.String("severity", env.Severity),
		zap.String("phone", env.Phone),
		zap.String("reference", env.Reference),
		zap.String("text", env.Text))
	return nil
}
