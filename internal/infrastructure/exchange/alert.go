package exchange

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookAlert posts kill-switch notifications to a webhook URL. Delivery
// is fire-and-forget: failures are logged and dropped, never surfaced to
// the caller, so a dead alert channel cannot block a kill-switch
// activation.
type WebhookAlert struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

func NewWebhookAlert(url string, logger *zap.Logger) *WebhookAlert {
	return &WebhookAlert{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

func (a *WebhookAlert) Send(message string) {
	if a.url == "" {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("alert sender panicked", zap.Any("panic", r))
			}
		}()

		payload, _ := json.Marshal(map[string]string{"text": message})
		resp, err := a.client.Post(a.url, "application/json", bytes.NewReader(payload))
		if err != nil {
			a.logger.Warn("alert delivery failed", zap.Error(err))
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			a.logger.Warn("alert endpoint rejected notification", zap.Int("status", resp.StatusCode))
		}
	}()
}
