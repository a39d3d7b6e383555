package sequence

import (
	"errors"
	"fmt"
	"time"
)

// Sequence holds numbering state for one (company, doctype, period) key.
// last_value is advanced under a row lock inside the posting transaction,
// so a rolled-back posting also rolls the increment back.
type Sequence struct {
	CompanyID int64
	DocTypeID int64
	PeriodID  int64
	Prefix    string
	Pad       int
	LastValue int64
	UpdatedAt time.Time
}

// ErrNotConfigured indicates no sequence row exists for the requested key.
// Posting treats it as fatal; document numbers are never invented.
var ErrNotConfigured = errors.New("sequence: not configured")

// ErrRewind indicates an attempt to move a sequence below numbers already
// issued.
var ErrRewind = errors.New("sequence: cannot rewind below issued numbers")

const defaultPad = 6

// Format renders a document number from prefix and zero-padded value,
// e.g. Format("JV-2025-", 6, 42) == "JV-2025-000042".
func Format(prefix string, pad int, value int64) string {
	if pad <= 0 {
		pad = defaultPad
	}
	return fmt.Sprintf("%s%0*d", prefix, pad, value)
}

// Number renders the document number the sequence would produce at value.
func (s Sequence) Number(value int64) string {
	return Format(s.Prefix, s.Pad, value)
}
