package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
)

// Publisher delivers one claimed event and returns the broker-assigned
// message id.
type Publisher interface {
	Publish(ctx context.Context, evt Event) (string, error)
}

// StorePort is the slice of Store the dispatcher drives.
type StorePort interface {
	Claim(ctx context.Context, in ClaimInput) ([]Event, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, cause string, nextAttempt time.Time) error
	MarkDead(ctx context.Context, id int64, cause string) error
}

// DispatcherConfig tunes sweep size and retry pacing.
type DispatcherConfig struct {
	BatchSize      int
	Interval       time.Duration
	LockTTL        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

const dispatcherLockKey = "outbox:dispatch:lock"

// Dispatcher sweeps deliverable events and pushes them through the
// publisher. Delivery is at least once; consumers deduplicate on the event
// correlation id.
type Dispatcher struct {
	store     StorePort
	publisher Publisher
	locker    *redislock.Client
	logger    *slog.Logger
	workerID  string
	cfg       DispatcherConfig
	now       func() time.Time
}

// NewDispatcher constructs Dispatcher. locker may be nil, in which case
// sweeps are not single-flighted across workers; claims stay safe either way
// because of SKIP LOCKED, the mutex only avoids wasted sweeps.
func NewDispatcher(store StorePort, publisher Publisher, locker *redislock.Client, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 5 * time.Second
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		locker:    locker,
		logger:    logger,
		workerID:  "dispatch-" + uuid.NewString(),
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithNow overrides the dispatcher clock for tests.
func (d *Dispatcher) WithNow(now func() time.Time) *Dispatcher {
	if now != nil {
		d.now = now
	}
	return d
}

// Run sweeps on the configured interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := d.DispatchOnce(ctx); err != nil && d.logger != nil {
			d.logger.Error("outbox dispatch sweep", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DispatchOnce claims one batch and publishes it, returning how many events
// were delivered. A sweep that loses the cross-worker mutex returns (0, nil).
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	if d.locker != nil {
		lock, err := d.locker.Obtain(ctx, dispatcherLockKey, d.cfg.LockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("outbox: obtain dispatch lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && d.logger != nil {
				d.logger.Warn("outbox dispatch lock release", slog.Any("error", err))
			}
		}()
	}

	now := d.now().UTC()
	claimed, err := d.store.Claim(ctx, ClaimInput{
		WorkerID:    d.workerID,
		BatchSize:   d.cfg.BatchSize,
		LockTTL:     d.cfg.LockTTL,
		MaxAttempts: d.cfg.MaxAttempts,
		Now:         now,
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, evt := range claimed {
		msgID, pubErr := d.publisher.Publish(ctx, evt)
		if pubErr != nil {
			d.handlePublishFailure(ctx, evt, pubErr)
			continue
		}
		if err := d.store.MarkSent(ctx, evt.ID, d.now().UTC()); err != nil {
			if d.logger != nil {
				d.logger.Error("outbox mark sent", slog.Int64("event_id", evt.ID), slog.Any("error", err))
			}
			continue
		}
		sent++
		if d.logger != nil {
			d.logger.Debug("outbox event delivered",
				slog.Int64("event_id", evt.ID),
				slog.String("topic", evt.Topic),
				slog.String("message_id", msgID))
		}
	}
	return sent, nil
}

func (d *Dispatcher) handlePublishFailure(ctx context.Context, evt Event, cause error) {
	if evt.Attempts >= d.cfg.MaxAttempts {
		if err := d.store.MarkDead(ctx, evt.ID, cause.Error()); err != nil && d.logger != nil {
			d.logger.Error("outbox mark dead", slog.Int64("event_id", evt.ID), slog.Any("error", err))
		}
		if d.logger != nil {
			d.logger.Error("outbox event dead after max attempts",
				slog.Int64("event_id", evt.ID),
				slog.String("topic", evt.Topic),
				slog.Int("attempts", evt.Attempts),
				slog.Any("error", cause))
		}
		return
	}
	next := d.now().UTC().Add(backoff(d.cfg.InitialBackoff, evt.Attempts))
	if err := d.store.MarkFailed(ctx, evt.ID, cause.Error(), next); err != nil && d.logger != nil {
		d.logger.Error("outbox mark failed", slog.Int64("event_id", evt.ID), slog.Any("error", err))
	}
	if d.logger != nil {
		d.logger.Warn("outbox publish failed",
			slog.Int64("event_id", evt.ID),
			slog.String("topic", evt.Topic),
			slog.Int("attempt", evt.Attempts),
			slog.Time("next_attempt_at", next),
			slog.Any("error", cause))
	}
}

const maxBackoff = 10 * time.Minute

// backoff doubles per attempt from initial, capped at maxBackoff.
func backoff(initial time.Duration, attempt int) time.Duration {
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
