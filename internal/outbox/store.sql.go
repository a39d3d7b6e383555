package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// InsertTx appends a PENDING event inside the caller's transaction, keeping
// the outbox write atomic with the ledger mutation it describes.
func InsertTx(ctx context.Context, tx pgx.Tx, evt Event) (Event, error) {
	if evt.Topic == "" {
		return Event{}, errors.New("outbox: topic required")
	}
	if evt.CorrelationID == uuid.Nil {
		evt.CorrelationID = uuid.New()
	}
	evt.Status = StatusPending
	err := tx.QueryRow(ctx, `INSERT INTO outbox_events (company_id, topic, payload, status, attempts, correlation_id)
VALUES ($1,$2,$3,$4,0,$5) RETURNING id, created_at`,
		evt.CompanyID, evt.Topic, evt.Payload, evt.Status, evt.CorrelationID).
		Scan(&evt.ID, &evt.CreatedAt)
	if err != nil {
		return Event{}, fmt.Errorf("outbox: insert event: %w", err)
	}
	return evt, nil
}

// Store reads and transitions outbox rows outside the producing transaction.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ClaimInput bounds one dispatcher sweep.
type ClaimInput struct {
	WorkerID    string
	BatchSize   int
	LockTTL     time.Duration
	MaxAttempts int
	Now         time.Time
}

// Claim locks up to BatchSize deliverable events for the worker: PENDING or
// FAILED rows whose backoff has elapsed, plus rows whose previous claim went
// stale. Rows that already burned MaxAttempts are flipped to DEAD instead of
// being returned. FOR UPDATE SKIP LOCKED keeps concurrent sweeps from
// contending on the same rows.
func (s *Store) Claim(ctx context.Context, in ClaimInput) ([]Event, error) {
	if in.BatchSize <= 0 {
		in.BatchSize = 50
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	staleBefore := now.Add(-in.LockTTL)

	var claimed []Event
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		claimed = claimed[:0]
		rows, err := tx.Query(ctx, `SELECT id, company_id, topic, payload, status, attempts, next_attempt_at,
       locked_at, locked_by, last_error, correlation_id, created_at, published_at
FROM outbox_events
WHERE status IN ('PENDING','FAILED')
  AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
  AND (locked_at IS NULL OR locked_at <= $2)
ORDER BY id ASC
LIMIT $3
FOR UPDATE SKIP LOCKED`, now, staleBefore, in.BatchSize)
		if err != nil {
			return err
		}
		events, err := scanEvents(rows)
		if err != nil {
			return err
		}
		for _, evt := range events {
			if in.MaxAttempts > 0 && evt.Attempts >= in.MaxAttempts {
				cause := fmt.Sprintf("max delivery attempts exceeded (%d)", in.MaxAttempts)
				if _, err := tx.Exec(ctx, `UPDATE outbox_events
SET status='DEAD', last_error=$2, next_attempt_at=NULL, locked_at=NULL, locked_by=NULL
WHERE id=$1`, evt.ID, cause); err != nil {
					return err
				}
				continue
			}
			if _, err := tx.Exec(ctx, `UPDATE outbox_events
SET attempts=attempts+1, locked_at=$2, locked_by=$3, last_error=NULL, next_attempt_at=NULL
WHERE id=$1`, evt.ID, now, in.WorkerID); err != nil {
				return err
			}
			evt.Attempts++
			evt.LockedAt = &now
			worker := in.WorkerID
			evt.LockedBy = &worker
			claimed = append(claimed, evt)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	return claimed, nil
}

// MarkSent finalises a delivered event and releases its claim.
func (s *Store) MarkSent(ctx context.Context, id int64, at time.Time) error {
	cmd, err := s.pool.Exec(ctx, `UPDATE outbox_events
SET status='SENT', published_at=$2, locked_at=NULL, locked_by=NULL, next_attempt_at=NULL
WHERE id=$1`, id, at)
	if err != nil {
		return fmt.Errorf("outbox: mark sent: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// MarkFailed records a delivery failure and schedules the retry.
func (s *Store) MarkFailed(ctx context.Context, id int64, cause string, nextAttempt time.Time) error {
	cmd, err := s.pool.Exec(ctx, `UPDATE outbox_events
SET status='FAILED', last_error=$2, next_attempt_at=$3, locked_at=NULL, locked_by=NULL
WHERE id=$1`, id, cause, nextAttempt)
	if err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// MarkDead parks a poison event terminally; only an operator requeue revives
// it.
func (s *Store) MarkDead(ctx context.Context, id int64, cause string) error {
	cmd, err := s.pool.Exec(ctx, `UPDATE outbox_events
SET status='DEAD', last_error=$2, next_attempt_at=NULL, locked_at=NULL, locked_by=NULL
WHERE id=$1`, id, cause)
	if err != nil {
		return fmt.Errorf("outbox: mark dead: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// Requeue resets FAILED (and optionally DEAD) events of a company back to
// PENDING for immediate redelivery. Company zero means all companies.
func (s *Store) Requeue(ctx context.Context, companyID int64, includeDead bool) (int64, error) {
	statuses := []string{string(StatusFailed)}
	if includeDead {
		statuses = append(statuses, string(StatusDead))
	}
	cmd, err := s.pool.Exec(ctx, `UPDATE outbox_events
SET status='PENDING', attempts=0, next_attempt_at=NULL, last_error=NULL, locked_at=NULL, locked_by=NULL
WHERE status = ANY($1) AND ($2 = 0 OR company_id = $2)`, statuses, companyID)
	if err != nil {
		return 0, fmt.Errorf("outbox: requeue: %w", err)
	}
	return cmd.RowsAffected(), nil
}

// Stats summarises the queue by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM outbox_events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("outbox: stats: %w", err)
	}
	defer rows.Close()

	stats := map[Status]int64{}
	for rows.Next() {
		var (
			status Status
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func scanEvents(rows pgx.Rows) ([]Event, error) {
	defer rows.Close()
	events := []Event{}
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.CompanyID, &evt.Topic, &evt.Payload, &evt.Status, &evt.Attempts,
			&evt.NextAttemptAt, &evt.LockedAt, &evt.LockedBy, &evt.LastError, &evt.CorrelationID,
			&evt.CreatedAt, &evt.PublishedAt); err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}
