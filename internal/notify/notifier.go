// Package notify delivers alert and recovery messages to external
// notification channels. Delivery is best-effort; callers decide whether
// a failure matters.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/watchpost/watchpost/internal/config"
	"github.com/watchpost/watchpost/internal/logging"
)

// Priority indicates how urgent a notification is.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notifier is the delivery contract the alert gate depends on.
type Notifier interface {
	SendAlert(message string, priority Priority) error
}

// NoopNotifier discards every message. Used when no channel is configured.
type NoopNotifier struct{}

// SendAlert implements Notifier.
func (NoopNotifier) SendAlert(string, Priority) error { return nil }

// TelegramNotifier delivers messages through the Telegram bot API.
type TelegramNotifier struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegramNotifier creates a Telegram channel.
func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		baseURL: "https://api.telegram.org",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// SendAlert implements Notifier.
func (n *TelegramNotifier) SendAlert(message string, priority Priority) error {
	emoji := "🔔"
	if priority == PriorityHigh {
		emoji = "🚨"
	}

	payload := map[string]interface{}{
		"chat_id": n.chatID,
		"text":    emoji + " " + message,
	}
	return postJSON(n.client, fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.token), payload)
}

// SlackNotifier delivers messages through a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier creates a Slack channel.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// SendAlert implements Notifier.
func (n *SlackNotifier) SendAlert(message string, priority Priority) error {
	color := "#2196f3"
	if priority == PriorityHigh {
		color = "#f44336"
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":  color,
				"text":   message,
				"footer": fmt.Sprintf("Priority: %s", priority),
			},
		},
	}
	return postJSON(n.client, n.webhookURL, payload)
}

// WebhookNotifier posts the raw message and priority as JSON to an
// arbitrary endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a generic webhook channel.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// SendAlert implements Notifier.
func (n *WebhookNotifier) SendAlert(message string, priority Priority) error {
	payload := map[string]interface{}{
		"message":   message,
		"priority":  string(priority),
		"timestamp": time.Now().Format(time.RFC3339),
	}
	return postJSON(n.client, n.url, payload)
}

// MultiNotifier fans a message out to every configured channel. It
// returns the first delivery error but still attempts all channels.
type MultiNotifier struct {
	channels []Notifier
	logger   *logging.Logger
}

// NewMultiNotifier creates a fan-out notifier.
func NewMultiNotifier(logger *logging.Logger, channels ...Notifier) *MultiNotifier {
	return &MultiNotifier{channels: channels, logger: logger}
}

// SendAlert implements Notifier.
func (n *MultiNotifier) SendAlert(message string, priority Priority) error {
	var firstErr error
	for _, ch := range n.channels {
		if err := ch.SendAlert(message, priority); err != nil {
			if n.logger != nil {
				n.logger.WithComponent(logging.ComponentNotify).
					WithError(err).
					Warn("Notification channel delivery failed")
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// FromConfig builds a notifier from the configured channels. With no
// enabled channel it returns a NoopNotifier.
func FromConfig(cfgs []config.NotificationConfig, logger *logging.Logger) Notifier {
	var channels []Notifier
	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}
		switch c.Type {
		case "telegram":
			channels = append(channels, NewTelegramNotifier(c.Token, c.ChatID))
		case "slack":
			channels = append(channels, NewSlackNotifier(c.WebhookURL))
		case "webhook":
			channels = append(channels, NewWebhookNotifier(c.WebhookURL))
		}
	}

	if len(channels) == 0 {
		return NoopNotifier{}
	}
	if len(channels) == 1 {
		return channels[0]
	}
	return NewMultiNotifier(logger, channels...)
}

func postJSON(client *http.Client, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
