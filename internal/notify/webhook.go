package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
)

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// WebhookChannel posts rendered notification text to a webhook
// endpoint. It implements Sink.
type WebhookChannel struct {
	url      string
	client   *http.Client
	template *Template
	logger   *log.Logger
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithWebhookLogger assigns a delivery failure logger.
func WithWebhookLogger(logger *log.Logger) WebhookOption {
	return func(ch *WebhookChannel) {
		ch.logger = logger
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, tpl *Template, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		template: tpl,
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Deliver implements Sink. Delivery failures are logged, never
// propagated.
func (w *WebhookChannel) Deliver(ctx context.Context, msg Message) {
	if w == nil {
		return
	}
	content, err := w.template.Render(msg)
	if err != nil {
		if w.logger != nil {
			w.logger.Printf("webhook: render failed: %v", err)
		}
		return
	}
	if err := w.send(ctx, content); err != nil {
		if w.logger != nil {
			w.logger.Printf("webhook: delivery failed: %v", err)
		}
	}
}

func (w *WebhookChannel) send(ctx context.Context, content string) error {
	payload := webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: content},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
