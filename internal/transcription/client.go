// Package transcription turns inbound voice notes and videos into text.
package transcription

import (
	"bytes"
	"context"
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
)

const defaultTimeout = 45 * time.Second

// Client calls a speech-to-text HTTP service.
type Client struct {
	url    string
	apiKey string
	http   *http.Client
}

var _ ports.Transcriber = (*Client)(nil)

type transcribeRequest struct {
	AudioURL string `json:"audio_url"`
	Language string `json:"language,omitempty"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// NewClient returns nil when no transcription URL is configured.
func NewClient(cfg config.TranscriptionConfig) *Client {
	if cfg.GetTranscriptionURL() == "" {
		return nil
	}
	return &Client{
		url:    strings.TrimRight(cfg.GetTranscriptionURL(), "/"),
		apiKey: cfg.GetTranscriptionAPIKey(),
		http:   &http.Client{Timeout: defaultTimeout},
	}
}

// Transcribe returns the recognised text. An empty string means the audio held no speech.
func (c *Client) Transcribe(ctx context.Context, mediaURL, language string) (string, error) {
	if strings.TrimSpace(mediaURL) == "" {
		return "", apperr.Validation("media url is required")
	}

	body, err := json.Marshal(transcribeRequest{AudioURL: mediaURL, Language: language})
	if err != nil {
		return "", fmt.Errorf("marshal transcription request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apperr.Timeout("transcription timed out", err)
		}
		return "", apperr.Unavailable("transcription request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", apperr.FromHTTPStatus(resp.StatusCode,
			fmt.Sprintf("transcription returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.Unavailable("decode transcription response", err)
	}
	return strings.TrimSpace(out.Text), nil
}
