//go:build whisper

package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/platform/apperr"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

const (
	whisperSampleRate = 16000
	maxWhisperInput   = 25 << 20
)

// Local transcribes with an in-process whisper.cpp model. Audio must be
// 16 kHz 16-bit PCM WAV; the media archive converts voice notes upstream.
type Local struct {
	model whisper.Model
	http  *http.Client

	// whisper contexts are not safe for concurrent use.
	mu sync.Mutex
}

var _ ports.Transcriber = (*Local)(nil)

func NewLocal(modelPath string) (*Local, error) {
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	return &Local{model: model, http: &http.Client{Timeout: defaultTimeout}}, nil
}

func (l *Local) Close() error {
	return l.model.Close()
}

func (l *Local) Transcribe(ctx context.Context, mediaURL, language string) (string, error) {
	audio, err := l.fetch(ctx, mediaURL)
	if err != nil {
		return "", err
	}
	samples, rate, err := decodeWAV(audio)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "decode audio", err)
	}
	if rate != whisperSampleRate {
		return "", apperr.Validation(fmt.Sprintf("audio must be %d Hz, got %d", whisperSampleRate, rate))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	wctx, err := l.model.NewContext()
	if err != nil {
		return "", apperr.Unavailable("create whisper context", err)
	}
	if language != "" {
		if err := wctx.SetLanguage(language); err != nil {
			return "", apperr.Wrap(apperr.KindValidation, "set whisper language", err)
		}
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", apperr.Unavailable("whisper processing", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", apperr.Unavailable("read whisper segment", err)
		}
		parts = append(parts, strings.TrimSpace(segment.Text))
	}
	return strings.TrimSpace(strings.Join(parts, " ")), nil
}

func (l *Local) fetch(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid media url", err)
	}
	resp, err := l.http.Do(req)
	if err != nil {
		return nil, apperr.Unavailable("download audio", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, apperr.FromHTTPStatus(resp.StatusCode, fmt.Sprintf("download audio returned %d", resp.StatusCode))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxWhisperInput))
}
