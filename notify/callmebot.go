// Package notify sends best-effort run summaries over WhatsApp.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultCallMeBotURL = "https://api.callmebot.com/whatsapp.php"

// CallMeBotConfig configures the CallMeBot WhatsApp gateway.
type CallMeBotConfig struct {
	Phone   string
	APIKey  string
	BaseURL string
	Client  *http.Client
}

type CallMeBot struct {
	phone   string
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewCallMeBot(cfg CallMeBotConfig) (*CallMeBot, error) {
	if strings.TrimSpace(cfg.Phone) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("notify: phone and api key are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCallMeBotURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CallMeBot{
		phone:   strings.TrimSpace(cfg.Phone),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: cfg.BaseURL,
		client:  cfg.Client,
	}, nil
}

// Notify sends message. Delivery is not confirmed beyond the HTTP status.
func (c *CallMeBot) Notify(ctx context.Context, message string) error {
	q := url.Values{}
	q.Set("phone", c.phone)
	q.Set("text", message)
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: callmebot returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
