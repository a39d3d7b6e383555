package posting

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
)

// VoucherStatus enumerates the voucher lifecycle.
type VoucherStatus string

const (
	VoucherStatusDraft    VoucherStatus = "DRAFT"
	VoucherStatusPosted   VoucherStatus = "POSTED"
	VoucherStatusReversed VoucherStatus = "REVERSED"
)

// Side marks a voucher line as debit or credit.
type Side string

const (
	SideDebit  Side = "DEBIT"
	SideCredit Side = "CREDIT"
)

// PeriodStatus enumerates fiscal period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
)

// AccountType enumerates chart-of-accounts categories. Posting itself never
// branches on it; reporting upstream does.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Company is the tenant boundary every engine call is scoped to.
type Company struct {
	ID               int64
	Name             string
	AccountingLocked bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FiscalPeriod is a company-scoped date range that can be open or closed to
// new postings.
type FiscalPeriod struct {
	ID        int64
	CompanyID int64
	Code      string
	StartDate time.Time
	EndDate   time.Time
	Status    PeriodStatus
	ClosedBy  *int64
	ClosedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentType classifies vouchers and selects their numbering sequence.
type DocumentType struct {
	ID        int64
	CompanyID int64
	Code      string
	Name      string
	Active    bool
}

// Account is a chart-of-accounts node.
type Account struct {
	ID        int64
	CompanyID int64
	Code      string
	Name      string
	Type      AccountType
	Active    bool
}

// Voucher is a double-entry document. It is caller-owned while DRAFT and
// immutable after posting except for the reversal linkage fields.
type Voucher struct {
	ID             int64
	CompanyID      int64
	DocTypeID      int64
	PeriodID       int64
	Number         string
	Date           time.Time
	Status         VoucherStatus
	Narration      string
	PostedBy       *int64
	PostedAt       *time.Time
	ReversalOf     *int64
	ReversedBy     *int64
	ReversalReason string
	ReversalActor  *int64
	ReversedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Lines        []VoucherLine
	StockEntries []StockEntry
}

// VoucherLine carries one debit or credit amount against an account.
type VoucherLine struct {
	ID        int64
	VoucherID int64
	LineNo    int
	AccountID int64
	Side      Side
	Amount    decimal.Decimal
}

// StockEntry is the inventory intent pre-attached to a DRAFT voucher. A set
// source warehouse means goods leave it, a set destination means goods enter
// it, both set means a transfer. BatchID zero lets posting pick batches FIFO;
// non-zero pins one batch.
type StockEntry struct {
	ID             int64
	VoucherID      int64
	ItemID         int64
	BatchID        int64
	SrcWarehouseID int64
	DstWarehouseID int64
	Qty            decimal.Decimal
}

// Outward reports whether the entry consumes stock at a source warehouse.
func (e StockEntry) Outward() bool { return e.SrcWarehouseID != 0 }

// Inward reports whether the entry lands stock at a destination warehouse.
func (e StockEntry) Inward() bool { return e.DstWarehouseID != 0 }

// LedgerBalance accumulates posted debit and credit totals for one account
// within one fiscal period. Rows are created lazily on first touch and only
// ever mutated under a row lock inside the posting transaction.
type LedgerBalance struct {
	CompanyID   int64
	AccountID   int64
	PeriodID    int64
	DebitTotal  decimal.Decimal
	CreditTotal decimal.Decimal
	UpdatedAt   time.Time
}

var (
	// ErrUnbalancedVoucher indicates debit and credit totals differ.
	ErrUnbalancedVoucher = errors.New("posting: voucher lines must balance")
	// ErrInvalidVoucherState indicates the voucher status does not permit the
	// requested operation, including a voucher that is already posted.
	ErrInvalidVoucherState = errors.New("posting: invalid voucher state")
	// ErrInvalidDocumentType indicates an inactive or foreign document type.
	ErrInvalidDocumentType = errors.New("posting: document type inactive")
	// ErrPeriodClosed indicates the fiscal period no longer accepts postings.
	ErrPeriodClosed = errors.New("posting: fiscal period closed")
	// ErrCompanyLocked indicates the company carries an accounting freeze.
	ErrCompanyLocked = errors.New("posting: company accounting locked")
	// ErrAlreadyReversed indicates the voucher already has a reversal.
	ErrAlreadyReversed = errors.New("posting: voucher already reversed")
	// ErrValidation indicates malformed input, e.g. a blank reversal reason.
	ErrValidation = errors.New("posting: validation failed")
	// ErrVoucherNotFound indicates a missing or foreign-company voucher.
	ErrVoucherNotFound = errors.New("posting: voucher not found")
	// ErrPeriodNotFound indicates a missing fiscal period row.
	ErrPeriodNotFound = errors.New("posting: fiscal period not found")
	// ErrCompanyNotFound indicates a missing company row.
	ErrCompanyNotFound = errors.New("posting: company not found")
	// ErrIdempotencyConflict indicates the idempotency key is already bound.
	ErrIdempotencyConflict = errors.New("posting: idempotency key already bound")
)

// PostInput identifies the draft voucher to post. IdempotencyKey is optional;
// when present a retried call returns the originally produced voucher.
type PostInput struct {
	CompanyID      int64
	VoucherID      int64
	ActorID        int64
	IdempotencyKey string
}

// Validate checks identifying fields before any storage access.
func (in PostInput) Validate() error {
	if in.CompanyID == 0 {
		return fmt.Errorf("%w: company required", ErrValidation)
	}
	if in.VoucherID == 0 {
		return fmt.Errorf("%w: voucher required", ErrValidation)
	}
	if in.ActorID == 0 {
		return fmt.Errorf("%w: actor required", ErrValidation)
	}
	return nil
}

// ReverseInput identifies the posted voucher to reverse. Reason is mandatory
// and kept on the original voucher for audit.
type ReverseInput struct {
	CompanyID int64
	VoucherID int64
	ActorID   int64
	Reason    string
}

// Validate checks identifying fields and the reversal reason.
func (in ReverseInput) Validate() error {
	if in.CompanyID == 0 {
		return fmt.Errorf("%w: company required", ErrValidation)
	}
	if in.VoucherID == 0 {
		return fmt.Errorf("%w: voucher required", ErrValidation)
	}
	if in.ActorID == 0 {
		return fmt.Errorf("%w: actor required", ErrValidation)
	}
	if strings.TrimSpace(in.Reason) == "" {
		return fmt.Errorf("%w: reversal reason required", ErrValidation)
	}
	return nil
}

// SumLines returns total debits and credits across lines.
func SumLines(lines []VoucherLine) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, line := range lines {
		switch line.Side {
		case SideDebit:
			debit = debit.Add(line.Amount)
		case SideCredit:
			credit = credit.Add(line.Amount)
		}
	}
	return debit, credit
}

// ValidateLines enforces the double-entry invariant: every amount strictly
// positive, every side known, and debits equal to credits exactly.
func ValidateLines(lines []VoucherLine) error {
	for _, line := range lines {
		if line.Side != SideDebit && line.Side != SideCredit {
			return fmt.Errorf("%w: line %d has unknown side %q", ErrValidation, line.LineNo, line.Side)
		}
		if line.AccountID == 0 {
			return fmt.Errorf("%w: line %d missing account", ErrValidation, line.LineNo)
		}
		if line.Amount.Sign() <= 0 {
			return fmt.Errorf("%w: line %d amount must be positive", ErrValidation, line.LineNo)
		}
	}
	debit, credit := SumLines(lines)
	if !debit.Equal(credit) {
		return ErrUnbalancedVoucher
	}
	return nil
}

// ValidateStockEntries rejects entries without an item, without a warehouse
// on either end, or with a non-positive quantity.
func ValidateStockEntries(entries []StockEntry) error {
	for _, e := range entries {
		if e.ItemID == 0 {
			return fmt.Errorf("%w: stock entry %d missing item", ErrValidation, e.ID)
		}
		if !e.Outward() && !e.Inward() {
			return fmt.Errorf("%w: stock entry %d needs a source or destination warehouse", ErrValidation, e.ID)
		}
		if e.Qty.Sign() <= 0 {
			return fmt.Errorf("%w: stock entry %d quantity must be positive", ErrValidation, e.ID)
		}
	}
	return nil
}

// ErrorCode maps engine errors onto stable machine-readable codes used in
// logs, metrics and client payloads. Unknown errors collapse to "internal".
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnbalancedVoucher):
		return "unbalanced_voucher"
	case errors.Is(err, ErrInvalidVoucherState):
		return "invalid_voucher_state"
	case errors.Is(err, ErrInvalidDocumentType):
		return "invalid_document_type"
	case errors.Is(err, ErrPeriodClosed):
		return "period_closed"
	case errors.Is(err, ErrCompanyLocked):
		return "company_locked"
	case errors.Is(err, ErrAlreadyReversed):
		return "already_reversed"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrVoucherNotFound):
		return "voucher_not_found"
	case errors.Is(err, ErrPeriodNotFound):
		return "period_not_found"
	case errors.Is(err, ErrCompanyNotFound):
		return "company_not_found"
	case errors.Is(err, ErrIdempotencyConflict):
		return "idempotency_conflict"
	case errors.Is(err, inventory.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, sequence.ErrNotConfigured):
		return "sequence_not_configured"
	}
	return "internal"
}
