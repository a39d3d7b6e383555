package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// DispatchRunner is the slice of the outbox dispatcher the job drives.
type DispatchRunner interface {
	DispatchOnce(ctx context.Context) (int, error)
}

// OutboxDispatchJob drains deliverable integration events on a schedule.
// The post-commit nudge covers the common case; this sweep catches events
// whose nudge was lost and failed events whose backoff expired.
type OutboxDispatchJob struct {
	Dispatcher DispatchRunner
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewOutboxDispatchJob initialises the dispatch handler.
func NewOutboxDispatchJob(dispatcher DispatchRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *OutboxDispatchJob {
	return &OutboxDispatchJob{Dispatcher: dispatcher, Logger: logger, Metrics: metrics}
}

// Handle executes one dispatch sweep.
func (j *OutboxDispatchJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Dispatcher == nil {
		return errors.New("outbox dispatch: handler not configured")
	}
	var payload OutboxDispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskOutboxDispatch)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	sent, err := j.Dispatcher.DispatchOnce(ctx)
	if err != nil {
		resultErr = err
		j.logger().Error("dispatch sweep failed", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddOutboxDelivered(sent)
	if sent > 0 {
		j.logger().Info("dispatch sweep completed",
			slog.Int("delivered", sent),
			slog.Duration("duration", time.Since(start)))
	}
	return nil
}

func (j *OutboxDispatchJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskOutboxDispatch))
	}
	return slog.Default().With(slog.String("job", TaskOutboxDispatch))
}

func (j *OutboxDispatchJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
