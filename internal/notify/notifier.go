package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spendsight/spendsight/internal/config"
)

// Client delivers templated notifications to the external notification
// service. Deliveries are buffered and sent from a background loop; a full
// buffer or a failed POST drops the notification with a log line, never an
// error back to the caller.
type Client struct {
	serviceURL string
	secret     string
	httpClient *http.Client
	deliveries chan delivery
}

type delivery struct {
	Template  string         `json:"template"`
	Recipient string         `json:"recipient"`
	Params    map[string]any `json:"params"`
}

func NewClient(cfg config.NotifyConfig) *Client {
	c := &Client{
		serviceURL: cfg.ServiceURL,
		secret:     cfg.Secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		deliveries: make(chan delivery, 1000),
	}
	go c.processLoop()
	return c
}

func (c *Client) Send(template, recipient string, params map[string]any) {
	if c.serviceURL == "" {
		slog.Debug("notification service not configured, dropping", "template", template)
		return
	}
	select {
	case c.deliveries <- delivery{Template: template, Recipient: recipient, Params: params}:
	default:
		slog.Warn("notification buffer full, dropping", "template", template, "recipient", recipient)
	}
}

func (c *Client) processLoop() {
	for d := range c.deliveries {
		c.deliver(d)
	}
}

func (c *Client) deliver(d delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	payload, err := json.Marshal(d)
	if err != nil {
		slog.Error("notification payload encoding failed", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.serviceURL, bytes.NewReader(payload))
	if err != nil {
		slog.Error("notification request creation failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notify-Signature", sign(payload, c.secret))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("notification delivery failed", "template", d.Template, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		slog.Warn("notification service returned non-success", "status", resp.StatusCode, "template", d.Template)
	}
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}
