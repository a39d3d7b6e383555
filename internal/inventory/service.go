package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	GetItem(ctx context.Context, companyID, itemID int64) (Item, error)
	ListBatchStock(ctx context.Context, companyID, itemID, warehouseID int64) ([]BatchStock, error)
	ListMovementsByVoucher(ctx context.Context, companyID, voucherID int64) ([]Movement, error)
}

// Service answers read-only stock questions: FIFO previews, availability
// and movement trails. Stock mutation happens only inside the posting
// transaction.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the service clock, primarily for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// AllocateFIFO plans which batches would satisfy qty at the warehouse. The
// plan reflects the moment it was computed and mutates nothing; posting
// recomputes its own plan under row locks.
func (s *Service) AllocateFIFO(ctx context.Context, companyID, itemID, warehouseID int64, qty decimal.Decimal) ([]Allocation, error) {
	if companyID == 0 || itemID == 0 || warehouseID == 0 {
		return nil, errors.New("inventory: company, item and warehouse required")
	}
	if _, err := s.repo.GetItem(ctx, companyID, itemID); err != nil {
		return nil, err
	}
	stocks, err := s.repo.ListBatchStock(ctx, companyID, itemID, warehouseID)
	if err != nil {
		return nil, err
	}
	return PlanAllocations(stocks, qty, s.now().UTC())
}

// Availability sums eligible availability for (item, warehouse).
func (s *Service) Availability(ctx context.Context, companyID, itemID, warehouseID int64) (decimal.Decimal, error) {
	if companyID == 0 || itemID == 0 || warehouseID == 0 {
		return decimal.Zero, errors.New("inventory: company, item and warehouse required")
	}
	stocks, err := s.repo.ListBatchStock(ctx, companyID, itemID, warehouseID)
	if err != nil {
		return decimal.Zero, err
	}
	asOf := s.now().UTC()
	total := decimal.Zero
	for _, st := range stocks {
		if !st.Batch.Active || st.Batch.Expired(asOf) {
			continue
		}
		if avail := st.Balance.Available(); avail.Sign() > 0 {
			total = total.Add(avail)
		}
	}
	return total, nil
}

// Movements lists the immutable movement trail of a voucher.
func (s *Service) Movements(ctx context.Context, companyID, voucherID int64) ([]Movement, error) {
	if companyID == 0 || voucherID == 0 {
		return nil, errors.New("inventory: company and voucher required")
	}
	return s.repo.ListMovementsByVoucher(ctx, companyID, voucherID)
}
