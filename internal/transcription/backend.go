package transcription

import (
	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/platform/config"
	"chatflow_backend/platform/logger"
)

// New picks the transcription backend: the local whisper model when the binary
// was built with it and a model path is set, otherwise the HTTP service.
// Returns nil when neither is available.
func New(cfg config.TranscriptionConfig, log *logger.Logger) ports.Transcriber {
	if path := cfg.GetWhisperModelPath(); path != "" {
		if local, err := newLocalBackend(path); err == nil && local != nil {
			log.Info("using local whisper transcription", "model", path)
			return local
		} else if err != nil {
			log.Warn("whisper model unavailable, falling back to http transcription", "error", err)
		}
	}
	if c := NewClient(cfg); c != nil {
		return c
	}
	return nil
}
