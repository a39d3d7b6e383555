package periods

import (
	"errors"
	"strings"
	"time"
)

// Status tracks the fiscal period lifecycle. The posting engine reads the
// same column and only accepts vouchers while it says OPEN.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Period is one contiguous posting window of a company.
type Period struct {
	ID        int64
	CompanyID int64
	Code      string
	StartDate time.Time
	EndDate   time.Time
	Status    Status
	ClosedBy  *int64
	ClosedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateInput captures validation rules for new periods.
type CreateInput struct {
	CompanyID int64
	Code      string
	StartDate time.Time
	EndDate   time.Time
	ActorID   int64
}

// Validate ensures the create input is coherent.
func (in CreateInput) Validate() error {
	if in.CompanyID == 0 {
		return errors.New("periods: company id required")
	}
	if strings.TrimSpace(in.Code) == "" {
		return errors.New("periods: code required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return errors.New("periods: start and end date required")
	}
	if in.StartDate.After(in.EndDate) {
		return errors.New("periods: start date cannot be after end date")
	}
	return nil
}

// ErrNotFound indicates no period row for the id within the company.
var ErrNotFound = errors.New("periods: period not found")

// ErrOverlap indicates the requested range conflicts with an existing period.
var ErrOverlap = errors.New("periods: period overlaps existing range")

// ErrAlreadyClosed is returned when closing a period twice.
var ErrAlreadyClosed = errors.New("periods: period already closed")

// ErrAlreadyOpen is returned when reopening a period that never closed.
var ErrAlreadyOpen = errors.New("periods: period already open")
