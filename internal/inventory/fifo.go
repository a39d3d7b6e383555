package inventory

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PlanAllocations consumes availability oldest manufacture date first, batch
// id breaking ties. Inactive batches, batches expired at asOf and rows with
// nothing available are skipped. The plan either covers qty exactly or the
// call fails with ErrInsufficientStock; nothing is mutated either way.
func PlanAllocations(stocks []BatchStock, qty decimal.Decimal, asOf time.Time) ([]Allocation, error) {
	if qty.Sign() <= 0 {
		return nil, ErrInvalidQuantity
	}

	eligible := make([]BatchStock, 0, len(stocks))
	for _, s := range stocks {
		if !s.Batch.Active || s.Batch.Expired(asOf) {
			continue
		}
		if s.Balance.Available().Sign() <= 0 {
			continue
		}
		eligible = append(eligible, s)
	}
	sort.Slice(eligible, func(i, j int) bool {
		mi, mj := eligible[i].Batch.ManufactureDate, eligible[j].Batch.ManufactureDate
		if !mi.Equal(mj) {
			return mi.Before(mj)
		}
		return eligible[i].Batch.ID < eligible[j].Batch.ID
	})

	remaining := qty
	plan := make([]Allocation, 0, len(eligible))
	for _, s := range eligible {
		if remaining.Sign() <= 0 {
			break
		}
		take := decimal.Min(s.Balance.Available(), remaining)
		plan = append(plan, Allocation{BatchID: s.Batch.ID, BatchNo: s.Batch.BatchNo, Qty: take})
		remaining = remaining.Sub(take)
	}
	if remaining.Sign() > 0 {
		return nil, ErrInsufficientStock
	}
	return plan, nil
}

// PlanPinnedAllocation consumes qty from one named batch, bypassing FIFO
// order but not eligibility: the pinned batch must still be active, unexpired
// at asOf and hold enough availability, otherwise ErrInsufficientStock.
func PlanPinnedAllocation(stocks []BatchStock, batchID int64, qty decimal.Decimal, asOf time.Time) ([]Allocation, error) {
	if qty.Sign() <= 0 {
		return nil, ErrInvalidQuantity
	}
	for _, s := range stocks {
		if s.Batch.ID != batchID {
			continue
		}
		if !s.Batch.Active || s.Batch.Expired(asOf) {
			break
		}
		if s.Balance.Available().LessThan(qty) {
			break
		}
		return []Allocation{{BatchID: s.Batch.ID, BatchNo: s.Batch.BatchNo, Qty: qty}}, nil
	}
	return nil, ErrInsufficientStock
}
