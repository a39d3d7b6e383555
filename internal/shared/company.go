package shared

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CompanyLockState mirrors the accounting freeze flag the posting engine
// guards on.
type CompanyLockState struct {
	CompanyID  int64
	Name       string
	Locked     bool
	LockReason string
	LockedBy   *int64
	LockedAt   *time.Time
}

// ErrCompanyMissing indicates no company row for the id.
var ErrCompanyMissing = errors.New("shared: company not found")

// CompanyLockAdmin flips the accounting freeze flag on companies. Posting
// and reversal refuse to run while the flag is set.
type CompanyLockAdmin struct {
	pool  *pgxpool.Pool
	audit *AuditLogger
}

// NewCompanyLockAdmin constructs CompanyLockAdmin.
func NewCompanyLockAdmin(pool *pgxpool.Pool, audit *AuditLogger) *CompanyLockAdmin {
	return &CompanyLockAdmin{pool: pool, audit: audit}
}

// Get reads the current lock state.
func (a *CompanyLockAdmin) Get(ctx context.Context, companyID int64) (CompanyLockState, error) {
	var state CompanyLockState
	err := a.pool.QueryRow(ctx, `SELECT id, name, accounting_locked, COALESCE(lock_reason, ''), locked_by, locked_at
FROM companies WHERE id=$1`, companyID).
		Scan(&state.CompanyID, &state.Name, &state.Locked, &state.LockReason, &state.LockedBy, &state.LockedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CompanyLockState{}, ErrCompanyMissing
		}
		return CompanyLockState{}, err
	}
	return state, nil
}

// Lock freezes accounting for the company. Reason is required so the audit
// trail explains the freeze.
func (a *CompanyLockAdmin) Lock(ctx context.Context, companyID, actorID int64, reason string) (CompanyLockState, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return CompanyLockState{}, errors.New("shared: lock reason required")
	}
	cmd, err := a.pool.Exec(ctx, `UPDATE companies
SET accounting_locked=TRUE, lock_reason=$2, locked_by=$3, locked_at=NOW(), updated_at=NOW()
WHERE id=$1`, companyID, reason, actorID)
	if err != nil {
		return CompanyLockState{}, err
	}
	if cmd.RowsAffected() == 0 {
		return CompanyLockState{}, ErrCompanyMissing
	}
	if a.audit != nil {
		_ = a.audit.Record(ctx, AuditLog{
			ActorID:  actorID,
			Action:   "company.lock",
			Entity:   "company",
			EntityID: strconv.FormatInt(companyID, 10),
			Meta:     map[string]any{"reason": reason},
		})
	}
	return a.Get(ctx, companyID)
}

// Unlock lifts the accounting freeze.
func (a *CompanyLockAdmin) Unlock(ctx context.Context, companyID, actorID int64) (CompanyLockState, error) {
	cmd, err := a.pool.Exec(ctx, `UPDATE companies
SET accounting_locked=FALSE, lock_reason=NULL, locked_by=NULL, locked_at=NULL, updated_at=NOW()
WHERE id=$1`, companyID)
	if err != nil {
		return CompanyLockState{}, err
	}
	if cmd.RowsAffected() == 0 {
		return CompanyLockState{}, ErrCompanyMissing
	}
	if a.audit != nil {
		_ = a.audit.Record(ctx, AuditLog{
			ActorID:  actorID,
			Action:   "company.unlock",
			Entity:   "company",
			EntityID: strconv.FormatInt(companyID, 10),
		})
	}
	return a.Get(ctx, companyID)
}
