package sequence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository administers sequence rows. The posting transaction owns the
// increment path; this repository only seeds and inspects.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Configure seeds or updates a sequence row. Lowering last_value below
// numbers already issued fails with ErrRewind.
func (r *Repository) Configure(ctx context.Context, seq Sequence) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var last int64
		err := tx.QueryRow(ctx, `SELECT last_value FROM doc_sequences
WHERE company_id=$1 AND doc_type_id=$2 AND period_id=$3 FOR UPDATE`,
			seq.CompanyID, seq.DocTypeID, seq.PeriodID).Scan(&last)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// first configuration for this key
		case err != nil:
			return err
		case seq.LastValue < last:
			return ErrRewind
		}
		_, err = tx.Exec(ctx, `INSERT INTO doc_sequences (company_id, doc_type_id, period_id, prefix, pad, last_value, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (company_id, doc_type_id, period_id)
DO UPDATE SET prefix=EXCLUDED.prefix, pad=EXCLUDED.pad, last_value=EXCLUDED.last_value, updated_at=NOW()`,
			seq.CompanyID, seq.DocTypeID, seq.PeriodID, seq.Prefix, seq.Pad, seq.LastValue)
		return err
	})
}

// Get loads one sequence row.
func (r *Repository) Get(ctx context.Context, companyID, docTypeID, periodID int64) (Sequence, error) {
	var seq Sequence
	err := r.pool.QueryRow(ctx, `SELECT company_id, doc_type_id, period_id, prefix, pad, last_value, updated_at
FROM doc_sequences WHERE company_id=$1 AND doc_type_id=$2 AND period_id=$3`,
		companyID, docTypeID, periodID).
		Scan(&seq.CompanyID, &seq.DocTypeID, &seq.PeriodID, &seq.Prefix, &seq.Pad, &seq.LastValue, &seq.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sequence{}, ErrNotConfigured
		}
		return Sequence{}, err
	}
	return seq, nil
}

// List returns all sequence rows of a company ordered by doctype and period.
func (r *Repository) List(ctx context.Context, companyID int64) ([]Sequence, error) {
	rows, err := r.pool.Query(ctx, `SELECT company_id, doc_type_id, period_id, prefix, pad, last_value, updated_at
FROM doc_sequences WHERE company_id=$1 ORDER BY doc_type_id ASC, period_id ASC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seqs := []Sequence{}
	for rows.Next() {
		var seq Sequence
		if err := rows.Scan(&seq.CompanyID, &seq.DocTypeID, &seq.PeriodID, &seq.Prefix, &seq.Pad, &seq.LastValue, &seq.UpdatedAt); err != nil {
			return nil, err
		}
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return seqs, nil
}
