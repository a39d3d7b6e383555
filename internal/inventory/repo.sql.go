package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads stock data from PostgreSQL. All stock mutations happen
// inside the posting transaction and are not exposed here.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetItem loads one item scoped to the company.
func (r *Repository) GetItem(ctx context.Context, companyID, itemID int64) (Item, error) {
	var item Item
	err := r.pool.QueryRow(ctx, `SELECT id, company_id, sku, name, active
FROM stock_items WHERE id=$1 AND company_id=$2`, itemID, companyID).
		Scan(&item.ID, &item.CompanyID, &item.SKU, &item.Name, &item.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

// ListBatchStock returns batch-level balances for (item, warehouse) joined
// with batch metadata, oldest manufacture date first. No locks are taken;
// this feeds previews, not postings.
func (r *Repository) ListBatchStock(ctx context.Context, companyID, itemID, warehouseID int64) ([]BatchStock, error) {
	rows, err := r.pool.Query(ctx, `SELECT b.id, b.item_id, b.batch_no, b.manufacture_date, b.expiry_date, b.active,
       s.company_id, s.item_id, s.warehouse_id, s.batch_id, s.on_hand, s.reserved, s.allocated, s.updated_at
FROM stock_balances s
JOIN stock_batches b ON b.id = s.batch_id
WHERE s.company_id=$1 AND s.item_id=$2 AND s.warehouse_id=$3
ORDER BY b.manufacture_date ASC, b.id ASC`, companyID, itemID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stocks := []BatchStock{}
	for rows.Next() {
		var (
			bs     BatchStock
			expiry *time.Time
		)
		if err := rows.Scan(
			&bs.Batch.ID, &bs.Batch.ItemID, &bs.Batch.BatchNo, &bs.Batch.ManufactureDate, &expiry, &bs.Batch.Active,
			&bs.Balance.CompanyID, &bs.Balance.ItemID, &bs.Balance.WarehouseID, &bs.Balance.BatchID,
			&bs.Balance.OnHand, &bs.Balance.Reserved, &bs.Balance.Allocated, &bs.Balance.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if expiry != nil {
			bs.Batch.ExpiryDate = *expiry
		}
		stocks = append(stocks, bs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stocks, nil
}

// ListMovementsByVoucher returns the immutable movement trail of a voucher
// in insertion order.
func (r *Repository) ListMovementsByVoucher(ctx context.Context, companyID, voucherID int64) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, voucher_id, item_id, COALESCE(batch_id, 0),
       COALESCE(src_warehouse_id, 0), COALESCE(dst_warehouse_id, 0), qty, created_at
FROM stock_movements
WHERE company_id=$1 AND voucher_id=$2
ORDER BY id ASC`, companyID, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	moves := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.VoucherID, &m.ItemID, &m.BatchID,
			&m.SrcWarehouseID, &m.DstWarehouseID, &m.Qty, &m.CreatedAt); err != nil {
			return nil, err
		}
		moves = append(moves, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return moves, nil
}
