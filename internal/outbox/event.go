package outbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status tracks delivery of one integration event.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
	StatusDead    Status = "DEAD"
)

// Event is one outbox row. It is written inside the same transaction as the
// ledger mutation it announces and delivered after commit by the dispatcher,
// at least once.
type Event struct {
	ID            int64
	CompanyID     int64
	Topic         string
	Payload       []byte
	Status        Status
	Attempts      int
	NextAttemptAt *time.Time
	LockedAt      *time.Time
	LockedBy      *string
	LastError     *string
	CorrelationID uuid.UUID
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// ErrEventNotFound indicates a missing outbox row.
var ErrEventNotFound = errors.New("outbox: event not found")

// Topics emitted by the posting engine.
const (
	TopicVoucherPosted   = "ledger.voucher.posted"
	TopicVoucherReversed = "ledger.voucher.reversed"
)
