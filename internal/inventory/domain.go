package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Item is a stock-tracked product.
type Item struct {
	ID        int64
	CompanyID int64
	SKU       string
	Name      string
	Active    bool
}

// Batch identifies one manufactured lot of an item.
type Batch struct {
	ID              int64
	ItemID          int64
	BatchNo         string
	ManufactureDate time.Time
	ExpiryDate      time.Time // zero when the batch never expires
	Active          bool
}

// Expired reports whether the batch is past expiry at the given time.
func (b Batch) Expired(at time.Time) bool {
	return !b.ExpiryDate.IsZero() && !b.ExpiryDate.After(at)
}

// Balance is the stock accumulator per (company, item, warehouse, batch).
// BatchID zero means the row tracks an unbatched item.
type Balance struct {
	CompanyID   int64
	ItemID      int64
	WarehouseID int64
	BatchID     int64
	OnHand      decimal.Decimal
	Reserved    decimal.Decimal
	Allocated   decimal.Decimal
	UpdatedAt   time.Time
}

// Available returns on-hand quantity minus reservations and allocations.
func (b Balance) Available() decimal.Decimal {
	return b.OnHand.Sub(b.Reserved).Sub(b.Allocated)
}

// BatchStock couples a balance row with its batch metadata for planning.
type BatchStock struct {
	Batch   Batch
	Balance Balance
}

// Allocation is one planned consumption from a batch.
type Allocation struct {
	BatchID int64
	BatchNo string
	Qty     decimal.Decimal
}

// Movement is an immutable stock ledger row. A zero src or dst warehouse
// means the goods enter from or leave to outside the system.
type Movement struct {
	ID             int64
	CompanyID      int64
	VoucherID      int64
	ItemID         int64
	BatchID        int64
	SrcWarehouseID int64
	DstWarehouseID int64
	Qty            decimal.Decimal
	CreatedAt      time.Time
}

// Mirror returns the movement cancelling m under the given voucher: source
// and destination swapped, same item, batch and quantity.
func (m Movement) Mirror(voucherID int64) Movement {
	return Movement{
		CompanyID:      m.CompanyID,
		VoucherID:      voucherID,
		ItemID:         m.ItemID,
		BatchID:        m.BatchID,
		SrcWarehouseID: m.DstWarehouseID,
		DstWarehouseID: m.SrcWarehouseID,
		Qty:            m.Qty,
	}
}

// ErrInsufficientStock indicates eligible availability cannot cover the
// requested quantity.
var ErrInsufficientStock = errors.New("inventory: insufficient eligible stock")

// ErrInvalidQuantity indicates a non-positive quantity.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// ErrItemNotFound indicates a missing or foreign-company item.
var ErrItemNotFound = errors.New("inventory: item not found")
