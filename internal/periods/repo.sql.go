package periods

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

const periodColumns = `id, company_id, code, start_date, end_date, status, closed_by, closed_at, created_at, updated_at`

// Repository persists fiscal periods. The posting engine reads the same
// table through its own repository; this one owns the admin lifecycle.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.CompanyID, &p.Code, &p.StartDate, &p.EndDate, &p.Status,
		&p.ClosedBy, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrNotFound
		}
		return Period{}, err
	}
	return p, nil
}

// Create inserts an OPEN period after verifying the range does not overlap
// an existing one. Check and insert share a transaction.
func (r *Repository) Create(ctx context.Context, in CreateInput) (Period, error) {
	var created Period
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var conflict bool
		err := tx.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM fiscal_periods WHERE company_id=$1 AND start_date <= $3 AND end_date >= $2)`,
			in.CompanyID, in.StartDate, in.EndDate).Scan(&conflict)
		if err != nil {
			return err
		}
		if conflict {
			return ErrOverlap
		}
		created, err = scanPeriod(tx.QueryRow(ctx, `INSERT INTO fiscal_periods (company_id, code, start_date, end_date, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
RETURNING `+periodColumns,
			in.CompanyID, strings.TrimSpace(in.Code), in.StartDate, in.EndDate, StatusOpen))
		return err
	})
	if err != nil {
		return Period{}, err
	}
	return created, nil
}

// Get loads one period scoped to the company.
func (r *Repository) Get(ctx context.Context, companyID, periodID int64) (Period, error) {
	return scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+`
FROM fiscal_periods WHERE id=$1 AND company_id=$2`, periodID, companyID))
}

// FindByDate returns the period whose range contains the date.
func (r *Repository) FindByDate(ctx context.Context, companyID int64, date time.Time) (Period, error) {
	return scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+`
FROM fiscal_periods WHERE company_id=$1 AND start_date <= $2 AND end_date >= $2
ORDER BY start_date ASC LIMIT 1`, companyID, date))
}

// List returns the company's periods ordered by start date.
func (r *Repository) List(ctx context.Context, companyID int64) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+`
FROM fiscal_periods WHERE company_id=$1 ORDER BY start_date ASC, id ASC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	periods := []Period{}
	for rows.Next() {
		var p Period
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.Code, &p.StartDate, &p.EndDate, &p.Status,
			&p.ClosedBy, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return periods, nil
}

// Close marks an OPEN period CLOSED and records who closed it.
func (r *Repository) Close(ctx context.Context, companyID, periodID, actorID int64) (Period, error) {
	return r.transition(ctx, companyID, periodID, func(tx pgx.Tx, p Period) (Period, error) {
		if p.Status == StatusClosed {
			return Period{}, ErrAlreadyClosed
		}
		return scanPeriod(tx.QueryRow(ctx, `UPDATE fiscal_periods
SET status=$3, closed_by=$4, closed_at=NOW(), updated_at=NOW()
WHERE id=$1 AND company_id=$2
RETURNING `+periodColumns, periodID, companyID, StatusClosed, actorID))
	})
}

// Reopen flips a CLOSED period back to OPEN and clears the closure fields.
func (r *Repository) Reopen(ctx context.Context, companyID, periodID int64) (Period, error) {
	return r.transition(ctx, companyID, periodID, func(tx pgx.Tx, p Period) (Period, error) {
		if p.Status == StatusOpen {
			return Period{}, ErrAlreadyOpen
		}
		return scanPeriod(tx.QueryRow(ctx, `UPDATE fiscal_periods
SET status=$3, closed_by=NULL, closed_at=NULL, updated_at=NOW()
WHERE id=$1 AND company_id=$2
RETURNING `+periodColumns, periodID, companyID, StatusOpen))
	})
}

// transition locks the period row and applies fn to it inside one transaction.
func (r *Repository) transition(ctx context.Context, companyID, periodID int64, fn func(pgx.Tx, Period) (Period, error)) (Period, error) {
	var updated Period
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		locked, err := scanPeriod(tx.QueryRow(ctx, `SELECT `+periodColumns+`
FROM fiscal_periods WHERE id=$1 AND company_id=$2 FOR UPDATE`, periodID, companyID))
		if err != nil {
			return err
		}
		updated, err = fn(tx, locked)
		return err
	})
	if err != nil {
		return Period{}, err
	}
	return updated, nil
}
