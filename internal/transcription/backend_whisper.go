//go:build whisper

package transcription

import "chatflow_backend/internal/conversations/ports"

func newLocalBackend(path string) (ports.Transcriber, error) {
	local, err := NewLocal(path)
	if err != nil {
		return nil, err
	}
	return local, nil
}
