package queue

import (
	"chatflow_backend/internal/jobs"

	"github.com/hibiken/asynq"
)

// Metadata keys written by the queue layer.
const (
	MetaQueue            = "queue"
	MetaOriginQueue      = "originQueue"
	MetaDeadLetterReason = "deadLetterReason"
	MetaDeadLetteredAt   = "deadLetteredAt"
	MetaReplayOf         = "replayOf"
	MetaPeriodic         = "periodic"
)

// NewTask wraps the job envelope in an asynq task named after the job type.
func NewTask(job jobs.Job) (*asynq.Task, error) {
	data, err := job.Marshal()
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(job.Type, data), nil
}

// ParseTask decodes the job envelope carried by task.
func ParseTask(task *asynq.Task) (jobs.Job, error) {
	return jobs.Unmarshal(task.Payload())
}
