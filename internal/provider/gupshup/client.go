// Package gupshup is a thin client for the Gupshup WhatsApp messaging API.
package gupshup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Config holds provider credentials and endpoint settings.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// ProviderError is a rejection reported by the provider (or a non-2xx HTTP
// response). Code ends up on the outbox row as error_code.
type ProviderError struct {
	Code string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("gupshup: %s", e.Code)
}

// Client calls the Gupshup /msg endpoint.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// New creates a Gupshup client.
func New(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("apikey", cfg.APIKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded")

	return &Client{
		http:   httpClient,
		logger: logger,
	}
}

type templateMessage struct {
	Type     string       `json:"type"`
	Template templateBody `json:"template"`
}

type templateBody struct {
	ID     string   `json:"id"`
	Params []string `json:"params"`
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	Message   string `json:"message"`
}

// SendTemplate places one template send and returns the provider message id.
func (c *Client) SendTemplate(ctx context.Context, to, source, templateID string, params []string) (string, error) {
	if params == nil {
		params = []string{}
	}
	message, err := json.Marshal(templateMessage{
		Type:     "template",
		Template: templateBody{ID: templateID, Params: params},
	})
	if err != nil {
		return "", fmt.Errorf("marshal template message: %w", err)
	}

	return c.send(ctx, to, source, string(message))
}

// SendText places one free-form text send. Only usable inside the provider's
// customer-care session window; kept for opt-in confirmations.
func (c *Client) SendText(ctx context.Context, to, source, text string) (string, error) {
	message, err := json.Marshal(textMessage{Type: "text", Text: text})
	if err != nil {
		return "", fmt.Errorf("marshal text message: %w", err)
	}

	return c.send(ctx, to, source, string(message))
}

func (c *Client) send(ctx context.Context, to, source, message string) (string, error) {
	var body sendResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"channel":     "whatsapp",
			"source":      source,
			"destination": to,
			"message":     message,
		}).
		SetResult(&body).
		SetError(&body).
		Post("/msg")

	if err != nil {
		return "", fmt.Errorf("gupshup request: %w", err)
	}

	if resp.IsError() {
		code := body.Message
		if code == "" {
			code = fmt.Sprintf("HTTP %d", resp.StatusCode())
		}
		c.logger.Warn("gupshup send rejected",
			zap.Int("status", resp.StatusCode()),
			zap.String("error", code),
		)
		return "", &ProviderError{Code: code}
	}

	c.logger.Debug("gupshup send accepted",
		zap.String("provider_message_id", body.MessageID),
	)

	return body.MessageID, nil
}
