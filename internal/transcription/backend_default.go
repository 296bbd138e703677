//go:build !whisper

package transcription

import "chatflow_backend/internal/conversations/ports"

func newLocalBackend(string) (ports.Transcriber, error) {
	return nil, nil
}
