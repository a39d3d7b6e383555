package posting

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/outbox"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists posting entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations available inside one posting or
// reversal transaction. Every row lock the engine relies on is taken through
// these methods; callers never see partially applied state because the whole
// interface lives inside WithTx.
type TxRepository interface {
	GetVoucherForUpdate(ctx context.Context, companyID, voucherID int64) (Voucher, error)
	ListVoucherLines(ctx context.Context, voucherID int64) ([]VoucherLine, error)
	ListStockEntries(ctx context.Context, voucherID int64) ([]StockEntry, error)
	GetPeriodForUpdate(ctx context.Context, companyID, periodID int64) (FiscalPeriod, error)
	GetCompany(ctx context.Context, companyID int64) (Company, error)
	GetDocumentType(ctx context.Context, companyID, docTypeID int64) (DocumentType, error)
	NextDocumentNumber(ctx context.Context, companyID, docTypeID, periodID int64) (string, error)
	LockLedgerBalance(ctx context.Context, companyID, accountID, periodID int64) (LedgerBalance, error)
	ApplyLedgerDelta(ctx context.Context, companyID, accountID, periodID int64, debitDelta, creditDelta decimal.Decimal) error
	ListBatchStockForUpdate(ctx context.Context, companyID, itemID, warehouseID int64) ([]inventory.BatchStock, error)
	ApplyStockDelta(ctx context.Context, companyID, itemID, warehouseID, batchID int64, delta decimal.Decimal) error
	InsertStockMovement(ctx context.Context, m inventory.Movement) (int64, error)
	ListStockMovements(ctx context.Context, companyID, voucherID int64) ([]inventory.Movement, error)
	InsertVoucher(ctx context.Context, v Voucher) (Voucher, error)
	InsertVoucherLines(ctx context.Context, voucherID int64, lines []VoucherLine) error
	MarkVoucherPosted(ctx context.Context, companyID, voucherID int64, number string, actorID int64, at time.Time) error
	MarkVoucherReversed(ctx context.Context, companyID, voucherID, reversalID int64, reason string, actorID int64, at time.Time) error
	BindIdempotencyKey(ctx context.Context, companyID int64, key string, voucherID int64) error
	AppendAudit(ctx context.Context, log shared.AuditLog) error
	AppendEvent(ctx context.Context, evt outbox.Event) (outbox.Event, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("posting repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const voucherColumns = `id, company_id, doc_type_id, period_id, COALESCE(number, ''), date, status,
       COALESCE(narration, ''), posted_by, posted_at, reversal_of_id, reversed_by_id,
       COALESCE(reversal_reason, ''), reversal_actor_id, reversed_at, created_at, updated_at`

func scanVoucher(row pgx.Row) (Voucher, error) {
	var v Voucher
	err := row.Scan(&v.ID, &v.CompanyID, &v.DocTypeID, &v.PeriodID, &v.Number, &v.Date, &v.Status,
		&v.Narration, &v.PostedBy, &v.PostedAt, &v.ReversalOf, &v.ReversedBy,
		&v.ReversalReason, &v.ReversalActor, &v.ReversedAt, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, ErrVoucherNotFound
		}
		return Voucher{}, err
	}
	return v, nil
}

// GetVoucher loads a voucher with its lines and stock entries without
// locking anything. It feeds the cheap pre-transaction guard pass.
func (r *Repository) GetVoucher(ctx context.Context, companyID, voucherID int64) (Voucher, error) {
	v, err := scanVoucher(r.pool.QueryRow(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE id=$1 AND company_id=$2`, voucherID, companyID))
	if err != nil {
		return Voucher{}, err
	}
	if v.Lines, err = listVoucherLines(ctx, r.pool, voucherID); err != nil {
		return Voucher{}, err
	}
	if v.StockEntries, err = listStockEntries(ctx, r.pool, voucherID); err != nil {
		return Voucher{}, err
	}
	return v, nil
}

// GetDocumentType loads one document type scoped to the company.
func (r *Repository) GetDocumentType(ctx context.Context, companyID, docTypeID int64) (DocumentType, error) {
	return getDocumentType(ctx, r.pool, companyID, docTypeID)
}

// GetPeriod loads one fiscal period scoped to the company.
func (r *Repository) GetPeriod(ctx context.Context, companyID, periodID int64) (FiscalPeriod, error) {
	var p FiscalPeriod
	err := r.pool.QueryRow(ctx, `SELECT id, company_id, code, start_date, end_date, status, closed_by, closed_at, created_at, updated_at
FROM fiscal_periods WHERE id=$1 AND company_id=$2`, periodID, companyID).
		Scan(&p.ID, &p.CompanyID, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedBy, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FiscalPeriod{}, ErrPeriodNotFound
		}
		return FiscalPeriod{}, err
	}
	return p, nil
}

// GetCompany loads one company row.
func (r *Repository) GetCompany(ctx context.Context, companyID int64) (Company, error) {
	return getCompany(ctx, r.pool, companyID)
}

// LookupIdempotency resolves a caller key to the voucher it produced.
func (r *Repository) LookupIdempotency(ctx context.Context, companyID int64, key string) (int64, bool, error) {
	var voucherID int64
	err := r.pool.QueryRow(ctx, `SELECT voucher_id FROM idempotency_keys WHERE company_id=$1 AND key=$2`,
		companyID, key).Scan(&voucherID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return voucherID, true, nil
}

// CleanupIdempotencyKeys removes bindings older than the retention window.
// The vouchers they produced stay; only the retry shortcut expires.
func (r *Repository) CleanupIdempotencyKeys(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	cmd, err := r.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// querier covers pool and tx for the shared read helpers.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func listVoucherLines(ctx context.Context, q querier, voucherID int64) ([]VoucherLine, error) {
	rows, err := q.Query(ctx, `SELECT id, voucher_id, line_no, account_id, side, amount
FROM voucher_lines WHERE voucher_id=$1 ORDER BY line_no ASC`, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := []VoucherLine{}
	for rows.Next() {
		var line VoucherLine
		if err := rows.Scan(&line.ID, &line.VoucherID, &line.LineNo, &line.AccountID, &line.Side, &line.Amount); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func listStockEntries(ctx context.Context, q querier, voucherID int64) ([]StockEntry, error) {
	rows, err := q.Query(ctx, `SELECT id, voucher_id, item_id, COALESCE(batch_id, 0),
       COALESCE(src_warehouse_id, 0), COALESCE(dst_warehouse_id, 0), qty
FROM stock_entries WHERE voucher_id=$1 ORDER BY id ASC`, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []StockEntry{}
	for rows.Next() {
		var e StockEntry
		if err := rows.Scan(&e.ID, &e.VoucherID, &e.ItemID, &e.BatchID, &e.SrcWarehouseID, &e.DstWarehouseID, &e.Qty); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func getDocumentType(ctx context.Context, q querier, companyID, docTypeID int64) (DocumentType, error) {
	var dt DocumentType
	err := q.QueryRow(ctx, `SELECT id, company_id, code, name, active
FROM document_types WHERE id=$1 AND company_id=$2`, docTypeID, companyID).
		Scan(&dt.ID, &dt.CompanyID, &dt.Code, &dt.Name, &dt.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DocumentType{}, ErrInvalidDocumentType
		}
		return DocumentType{}, err
	}
	return dt, nil
}

func getCompany(ctx context.Context, q querier, companyID int64) (Company, error) {
	var c Company
	err := q.QueryRow(ctx, `SELECT id, name, accounting_locked, created_at, updated_at
FROM companies WHERE id=$1`, companyID).
		Scan(&c.ID, &c.Name, &c.AccountingLocked, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Company{}, ErrCompanyNotFound
		}
		return Company{}, err
	}
	return c, nil
}

func (r *txRepository) GetVoucherForUpdate(ctx context.Context, companyID, voucherID int64) (Voucher, error) {
	return scanVoucher(r.tx.QueryRow(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE id=$1 AND company_id=$2 FOR UPDATE`, voucherID, companyID))
}

func (r *txRepository) ListVoucherLines(ctx context.Context, voucherID int64) ([]VoucherLine, error) {
	return listVoucherLines(ctx, r.tx, voucherID)
}

func (r *txRepository) ListStockEntries(ctx context.Context, voucherID int64) ([]StockEntry, error) {
	return listStockEntries(ctx, r.tx, voucherID)
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, companyID, periodID int64) (FiscalPeriod, error) {
	var p FiscalPeriod
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, code, start_date, end_date, status, closed_by, closed_at, created_at, updated_at
FROM fiscal_periods WHERE id=$1 AND company_id=$2 FOR UPDATE`, periodID, companyID).
		Scan(&p.ID, &p.CompanyID, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedBy, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FiscalPeriod{}, ErrPeriodNotFound
		}
		return FiscalPeriod{}, err
	}
	return p, nil
}

func (r *txRepository) GetCompany(ctx context.Context, companyID int64) (Company, error) {
	return getCompany(ctx, r.tx, companyID)
}

func (r *txRepository) GetDocumentType(ctx context.Context, companyID, docTypeID int64) (DocumentType, error) {
	return getDocumentType(ctx, r.tx, companyID, docTypeID)
}

// NextDocumentNumber advances the sequence row under its lock and formats
// the next number. The increment rides the enclosing transaction: a rolled
// back posting rolls the sequence back too, so failed attempts never burn
// numbers.
func (r *txRepository) NextDocumentNumber(ctx context.Context, companyID, docTypeID, periodID int64) (string, error) {
	var (
		prefix string
		pad    int
		last   int64
	)
	err := r.tx.QueryRow(ctx, `SELECT prefix, pad, last_value FROM doc_sequences
WHERE company_id=$1 AND doc_type_id=$2 AND period_id=$3 FOR UPDATE`, companyID, docTypeID, periodID).
		Scan(&prefix, &pad, &last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", sequence.ErrNotConfigured
		}
		return "", err
	}
	next := last + 1
	if _, err := r.tx.Exec(ctx, `UPDATE doc_sequences SET last_value=$4, updated_at=NOW()
WHERE company_id=$1 AND doc_type_id=$2 AND period_id=$3`, companyID, docTypeID, periodID, next); err != nil {
		return "", err
	}
	return sequence.Format(prefix, pad, next), nil
}

// LockLedgerBalance creates the accumulator row on first touch and locks it
// for the rest of the transaction.
func (r *txRepository) LockLedgerBalance(ctx context.Context, companyID, accountID, periodID int64) (LedgerBalance, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO ledger_balances (company_id, account_id, period_id, debit_total, credit_total, updated_at)
VALUES ($1,$2,$3,0,0,NOW())
ON CONFLICT (company_id, account_id, period_id) DO NOTHING`, companyID, accountID, periodID); err != nil {
		return LedgerBalance{}, err
	}
	var b LedgerBalance
	err := r.tx.QueryRow(ctx, `SELECT company_id, account_id, period_id, debit_total, credit_total, updated_at
FROM ledger_balances WHERE company_id=$1 AND account_id=$2 AND period_id=$3 FOR UPDATE`,
		companyID, accountID, periodID).
		Scan(&b.CompanyID, &b.AccountID, &b.PeriodID, &b.DebitTotal, &b.CreditTotal, &b.UpdatedAt)
	if err != nil {
		return LedgerBalance{}, err
	}
	return b, nil
}

func (r *txRepository) ApplyLedgerDelta(ctx context.Context, companyID, accountID, periodID int64, debitDelta, creditDelta decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledger_balances
SET debit_total = debit_total + $4, credit_total = credit_total + $5, updated_at = NOW()
WHERE company_id=$1 AND account_id=$2 AND period_id=$3`,
		companyID, accountID, periodID, debitDelta, creditDelta)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errors.New("posting: ledger balance row missing, lock it first")
	}
	return nil
}

// ListBatchStockForUpdate returns batch-level balances for (item, warehouse)
// ordered for FIFO and locks the balance rows for the transaction.
func (r *txRepository) ListBatchStockForUpdate(ctx context.Context, companyID, itemID, warehouseID int64) ([]inventory.BatchStock, error) {
	rows, err := r.tx.Query(ctx, `SELECT b.id, b.item_id, b.batch_no, b.manufacture_date, b.expiry_date, b.active,
       s.company_id, s.item_id, s.warehouse_id, s.batch_id, s.on_hand, s.reserved, s.allocated, s.updated_at
FROM stock_balances s
JOIN stock_batches b ON b.id = s.batch_id
WHERE s.company_id=$1 AND s.item_id=$2 AND s.warehouse_id=$3
ORDER BY b.manufacture_date ASC, b.id ASC
FOR UPDATE OF s`, companyID, itemID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stocks := []inventory.BatchStock{}
	for rows.Next() {
		var (
			bs     inventory.BatchStock
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
	return stocks, rows.Err()
}

func (r *txRepository) ApplyStockDelta(ctx context.Context, companyID, itemID, warehouseID, batchID int64, delta decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_balances (company_id, item_id, warehouse_id, batch_id, on_hand, reserved, allocated, updated_at)
VALUES ($1,$2,$3,$4,$5,0,0,NOW())
ON CONFLICT (company_id, item_id, warehouse_id, batch_id)
DO UPDATE SET on_hand = stock_balances.on_hand + EXCLUDED.on_hand, updated_at = NOW()`,
		companyID, itemID, warehouseID, batchID, delta)
	return err
}

func (r *txRepository) InsertStockMovement(ctx context.Context, m inventory.Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (company_id, voucher_id, item_id, batch_id, src_warehouse_id, dst_warehouse_id, qty)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		m.CompanyID, m.VoucherID, m.ItemID, nullID(m.BatchID), nullID(m.SrcWarehouseID), nullID(m.DstWarehouseID), m.Qty).
		Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *txRepository) ListStockMovements(ctx context.Context, companyID, voucherID int64) ([]inventory.Movement, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, company_id, voucher_id, item_id, COALESCE(batch_id, 0),
       COALESCE(src_warehouse_id, 0), COALESCE(dst_warehouse_id, 0), qty, created_at
FROM stock_movements WHERE company_id=$1 AND voucher_id=$2 ORDER BY id ASC`, companyID, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	moves := []inventory.Movement{}
	for rows.Next() {
		var m inventory.Movement
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.VoucherID, &m.ItemID, &m.BatchID,
			&m.SrcWarehouseID, &m.DstWarehouseID, &m.Qty, &m.CreatedAt); err != nil {
			return nil, err
		}
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

func (r *txRepository) InsertVoucher(ctx context.Context, v Voucher) (Voucher, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO vouchers (company_id, doc_type_id, period_id, number, date, status, narration, posted_by, posted_at, reversal_of_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at, updated_at`,
		v.CompanyID, v.DocTypeID, v.PeriodID, v.Number, v.Date, v.Status, v.Narration,
		v.PostedBy, v.PostedAt, v.ReversalOf).
		Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return Voucher{}, err
	}
	return v, nil
}

func (r *txRepository) InsertVoucherLines(ctx context.Context, voucherID int64, lines []VoucherLine) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO voucher_lines (voucher_id, line_no, account_id, side, amount)
VALUES ($1,$2,$3,$4,$5)`, voucherID, line.LineNo, line.AccountID, line.Side, line.Amount); err != nil {
			return err
		}
	}
	return nil
}

// MarkVoucherPosted flips DRAFT to POSTED. The status predicate re-verifies
// exactly-once posting under the row lock: a concurrent poster that slipped
// past the plain read matches zero rows here.
func (r *txRepository) MarkVoucherPosted(ctx context.Context, companyID, voucherID int64, number string, actorID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE vouchers
SET status=$3, number=$4, posted_by=$5, posted_at=$6, updated_at=NOW()
WHERE id=$1 AND company_id=$2 AND status=$7`,
		voucherID, companyID, VoucherStatusPosted, number, actorID, at, VoucherStatusDraft)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvalidVoucherState
	}
	return nil
}

// MarkVoucherReversed links the original to its mirror. The predicate keeps
// double reversal out even if two reversers race.
func (r *txRepository) MarkVoucherReversed(ctx context.Context, companyID, voucherID, reversalID int64, reason string, actorID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE vouchers
SET status=$3, reversed_by_id=$4, reversal_reason=$5, reversal_actor_id=$6, reversed_at=$7, updated_at=NOW()
WHERE id=$1 AND company_id=$2 AND status=$8 AND reversed_by_id IS NULL`,
		voucherID, companyID, VoucherStatusReversed, reversalID, reason, actorID, at, VoucherStatusPosted)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyReversed
	}
	return nil
}

func (r *txRepository) BindIdempotencyKey(ctx context.Context, companyID int64, key string, voucherID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO idempotency_keys (company_id, key, voucher_id, created_at)
VALUES ($1,$2,$3,NOW())`, companyID, key, voucherID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

func (r *txRepository) AppendAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.RecordInTx(ctx, r.tx, log)
}

func (r *txRepository) AppendEvent(ctx context.Context, evt outbox.Event) (outbox.Event, error) {
	return outbox.InsertTx(ctx, r.tx, evt)
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
