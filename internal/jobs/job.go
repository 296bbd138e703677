// Package jobs defines the unit of asynchronous work and the runner that
// executes it with bounded retries, exponential backoff and dead-lettering.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"chatflow_backend/platform/apperr"

	"github.com/google/uuid"
)

// Job types handled by the worker.
const (
	TypeMessageIngestion = "messages.ingest"
	TypeAIProcessing     = "messages.ai_process"
	TypeEscalation       = "conversations.escalate"
	TypeReminder         = "conversations.reminder"
	TypeReengagement     = "conversations.reengage"
	TypeCleanup          = "maintenance.cleanup"
	TypeNotificationDue  = "notification.outbox.due"
)

// Job is one unit of asynchronous work. Payload is immutable once created;
// Attempt and the timestamps are updated by the Runner. MaxRetries overrides
// the runner's retry budget for this job when positive.
type Job struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Payload     json.RawMessage   `json:"payload"`
	Attempt     int               `json:"attempt"`
	MaxRetries  int               `json:"maxRetries,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// New builds a job with a fresh id. The payload must be JSON serializable.
func New(jobType string, payload any, metadata map[string]string) (Job, error) {
	if jobType == "" {
		return Job{}, apperr.Validation("job type is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Job{}, apperr.Wrap(apperr.KindValidation, "job payload is not serializable", err)
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	return Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}, nil
}

// StructValidator validates tagged structs.
type StructValidator interface {
	Struct(s interface{}) error
}

// Decode unmarshals the payload into v and, when val is non-nil, validates it.
// Failures are validation errors: a malformed payload never becomes valid by retrying.
func (j Job) Decode(v any, val StructValidator) error {
	if len(j.Payload) == 0 {
		return apperr.Validation(fmt.Sprintf("job %s has an empty payload", j.ID))
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return apperr.Wrap(apperr.KindValidation, "decode job payload", err)
	}
	if val != nil {
		if err := val.Struct(v); err != nil {
			return apperr.Wrap(apperr.KindValidation, "invalid job payload", err)
		}
	}
	return nil
}

// Meta returns a metadata value or "".
func (j Job) Meta(key string) string {
	if j.Metadata == nil {
		return ""
	}
	return j.Metadata[key]
}

// Marshal encodes the full job envelope for transport.
func (j Job) Marshal() ([]byte, error) {
	return json.Marshal(j)
}

// Unmarshal decodes a job envelope produced by Marshal.
func Unmarshal(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, apperr.Wrap(apperr.KindValidation, "decode job envelope", err)
	}
	if j.ID == "" || j.Type == "" {
		return Job{}, apperr.Validation("job envelope is missing id or type")
	}
	return j, nil
}
