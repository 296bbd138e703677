// Package whatsapp sends messages through a GOWA (go-whatsapp-web-multidevice)
// gateway, optionally pacing bot replies like a human typist.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/config"
	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/phone"

	"golang.org/x/time/rate"
)

type Client struct {
	baseURL  string
	apiKey   string
	deviceID string
	http     *http.Client
	log      *logger.Logger
	pacer    *Pacer
	limiter  *rate.Limiter
}

var _ ports.Gateway = (*Client)(nil)

type gowaRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type presenceRequest struct {
	Phone  string `json:"phone"`
	Action string `json:"action"`
}

type gowaResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Results struct {
		MessageID string `json:"message_id"`
		Status    string `json:"status"`
	} `json:"results"`
}

// NewClient returns nil when no gateway is configured.
func NewClient(cfg config.WhatsAppConfig, log *logger.Logger) *Client {
	if cfg.GetWhatsAppURL() == "" {
		return nil
	}

	c := &Client{
		baseURL:  strings.TrimRight(cfg.GetWhatsAppURL(), "/"),
		apiKey:   cfg.GetWhatsAppKey(),
		deviceID: cfg.GetWhatsAppDeviceID(),
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log,
		// One message per second across the device keeps the account under
		// the gateway's spam heuristics.
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}
	if cfg.GetWhatsAppPacingEnabled() {
		c.pacer = NewPacer(cfg.GetWhatsAppPacingCap())
	}
	return c
}

// SendText sends a bot reply, simulating typing first when pacing is enabled.
// It returns the gateway's message id.
func (c *Client) SendText(ctx context.Context, chatID, text string) (string, error) {
	if c == nil {
		return "", apperr.Unavailable("whatsapp gateway not configured", nil)
	}
	if c.pacer != nil {
		c.pace(ctx, chatID, text)
	}
	return c.send(ctx, chatID, text)
}

// SendTextImmediate sends without pacing. Used for operator notifications.
func (c *Client) SendTextImmediate(ctx context.Context, chatID, text string) (string, error) {
	if c == nil {
		return "", apperr.Unavailable("whatsapp gateway not configured", nil)
	}
	return c.send(ctx, chatID, text)
}

func (c *Client) pace(ctx context.Context, chatID, text string) {
	delay := c.pacer.Delay(ctx, text)
	if delay <= 0 {
		return
	}
	if err := c.presence(ctx, chatID, "start"); err != nil {
		c.log.Debug("typing indicator failed", "chatId", chatID, "error", err)
	}

	timer := time.NewTimer(delay)
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	timer.Stop()

	if err := c.presence(ctx, chatID, "stop"); err != nil {
		c.log.Debug("typing indicator failed", "chatId", chatID, "error", err)
	}
}

func (c *Client) send(ctx context.Context, chatID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", apperr.Validation("message text is empty")
	}
	recipient := recipientFor(chatID)
	if recipient == "" {
		return "", apperr.Validation("recipient is empty")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", apperr.Timeout("whatsapp send rate limit wait", err)
	}

	var out gowaResponse
	if err := c.post(ctx, "/send/message", gowaRequest{Phone: recipient, Message: text}, &out); err != nil {
		return "", err
	}

	c.log.Info("whatsapp sent via gowa", "chatId", chatID, "messageId", out.Results.MessageID)
	return out.Results.MessageID, nil
}

func (c *Client) presence(ctx context.Context, chatID, action string) error {
	return c.post(ctx, "/send/chat-presence", presenceRequest{Phone: recipientFor(chatID), Action: action}, nil)
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", formatAuthHeader(c.apiKey))
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperr.Timeout("whatsapp request timed out", err)
		}
		return apperr.Unavailable("whatsapp request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperr.FromHTTPStatus(resp.StatusCode,
			fmt.Sprintf("whatsapp service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Unavailable("decode whatsapp response", err)
	}
	return nil
}

// recipientFor accepts a chat id or a phone number. Group and user JIDs pass
// through; bare numbers are normalised.
func recipientFor(chatID string) string {
	trimmed := strings.TrimSpace(chatID)
	if strings.Contains(trimmed, "@") {
		return trimmed
	}
	return strings.TrimPrefix(phone.NormalizeE164(trimmed), "+")
}

func formatAuthHeader(apiKey string) string {
	if strings.HasPrefix(strings.ToLower(apiKey), "basic ") {
		return apiKey
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(apiKey))
	return "Basic " + encoded
}
