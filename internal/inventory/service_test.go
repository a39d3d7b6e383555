package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryStockRepo struct {
	items  map[int64]Item
	stocks []BatchStock
	moves  []Movement
}

func newMemoryStockRepo() *memoryStockRepo {
	return &memoryStockRepo{items: make(map[int64]Item)}
}

func (r *memoryStockRepo) GetItem(_ context.Context, companyID, itemID int64) (Item, error) {
	item, ok := r.items[itemID]
	if !ok || item.CompanyID != companyID {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (r *memoryStockRepo) ListBatchStock(_ context.Context, companyID, itemID, warehouseID int64) ([]BatchStock, error) {
	out := []BatchStock{}
	for _, s := range r.stocks {
		if s.Balance.CompanyID == companyID && s.Balance.ItemID == itemID && s.Balance.WarehouseID == warehouseID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memoryStockRepo) ListMovementsByVoucher(_ context.Context, companyID, voucherID int64) ([]Movement, error) {
	out := []Movement{}
	for _, m := range r.moves {
		if m.CompanyID == companyID && m.VoucherID == voucherID {
			out = append(out, m)
		}
	}
	return out, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAllocateFIFOPreview(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.items[7] = Item{ID: 7, CompanyID: 1, SKU: "WIDGET", Active: true}
	repo.stocks = []BatchStock{
		batchStock(1, "B1", day(2025, time.January, 10), "10"),
		batchStock(2, "B2", day(2025, time.February, 5), "20"),
	}
	svc := NewService(repo).WithNow(fixedClock(day(2025, time.June, 1)))

	plan, err := svc.AllocateFIFO(context.Background(), 1, 7, 3, dec("25"))
	require.NoError(t, err)
	require.Len(t, plan, 2)
	require.Equal(t, int64(1), plan[0].BatchID)
	require.True(t, plan[1].Qty.Equal(dec("15")))

	// Preview must not change anything the next caller sees.
	again, err := svc.AllocateFIFO(context.Background(), 1, 7, 3, dec("25"))
	require.NoError(t, err)
	require.Equal(t, plan, again)
}

func TestAllocateFIFOUnknownItem(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.items[7] = Item{ID: 7, CompanyID: 2, SKU: "WIDGET", Active: true}
	svc := NewService(repo)

	_, err := svc.AllocateFIFO(context.Background(), 1, 7, 3, dec("5"))
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestAllocateFIFORequiresScope(t *testing.T) {
	svc := NewService(newMemoryStockRepo())

	_, err := svc.AllocateFIFO(context.Background(), 0, 7, 3, dec("5"))
	require.Error(t, err)
	_, err = svc.AllocateFIFO(context.Background(), 1, 0, 3, dec("5"))
	require.Error(t, err)
	_, err = svc.AllocateFIFO(context.Background(), 1, 7, 0, dec("5"))
	require.Error(t, err)
}

func TestAvailabilityExcludesExpiredBatches(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.items[7] = Item{ID: 7, CompanyID: 1, SKU: "WIDGET", Active: true}
	expired := batchStock(1, "OLD", day(2025, time.January, 1), "40")
	expired.Batch.ExpiryDate = day(2025, time.March, 1)
	repo.stocks = []BatchStock{
		expired,
		batchStock(2, "B2", day(2025, time.February, 5), "20"),
	}
	svc := NewService(repo).WithNow(fixedClock(day(2025, time.June, 1)))

	total, err := svc.Availability(context.Background(), 1, 7, 3)
	require.NoError(t, err)
	require.True(t, total.Equal(dec("20")))
}

func TestMovementsScopedToCompany(t *testing.T) {
	repo := newMemoryStockRepo()
	repo.moves = []Movement{
		{ID: 1, CompanyID: 1, VoucherID: 11, ItemID: 7, Qty: dec("5")},
		{ID: 2, CompanyID: 2, VoucherID: 11, ItemID: 7, Qty: dec("9")},
	}
	svc := NewService(repo)

	moves, err := svc.Movements(context.Background(), 1, 11)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	require.Equal(t, int64(1), moves[0].ID)
}
