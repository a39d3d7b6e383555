package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOutboxDispatch sweeps deliverable integration events.
	TaskOutboxDispatch = "outbox:dispatch"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// OutboxDispatchPayload carries scheduling metadata for a dispatch sweep.
type OutboxDispatchPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewOutboxDispatchTask constructs an Asynq task for one outbox sweep.
func NewOutboxDispatchTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(OutboxDispatchPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutboxDispatch, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload controls how far back the cleanup reaches.
// A zero retention falls back to the handler default.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for key cleanup.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
