package posting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/outbox"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts posting storage: plain reads for the cheap guard
// pass plus the transactional surface everything else runs on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetVoucher(ctx context.Context, companyID, voucherID int64) (Voucher, error)
	GetDocumentType(ctx context.Context, companyID, docTypeID int64) (DocumentType, error)
	GetPeriod(ctx context.Context, companyID, periodID int64) (FiscalPeriod, error)
	GetCompany(ctx context.Context, companyID int64) (Company, error)
	LookupIdempotency(ctx context.Context, companyID int64, key string) (int64, bool, error)
}

// MetricsPort records posting and reversal outcomes.
type MetricsPort interface {
	ObservePost(outcome string, elapsed time.Duration)
	ObserveReverse(outcome string, elapsed time.Duration)
}

// DispatchNotifier nudges outbox delivery after a commit so integration
// events leave ahead of the periodic sweep. Implementations must not block.
type DispatchNotifier interface {
	NotifyOutbox(ctx context.Context)
}

// Service turns draft vouchers into ledger events and builds their
// compensating reversals.
type Service struct {
	repo    RepositoryPort
	logger  *slog.Logger
	metrics MetricsPort
	notify  DispatchNotifier
	now     func() time.Time
}

// NewService constructs the posting service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// WithMetrics attaches outcome metrics.
func (s *Service) WithMetrics(m MetricsPort) *Service {
	s.metrics = m
	return s
}

// WithNotifier attaches the post-commit outbox nudge.
func (s *Service) WithNotifier(n DispatchNotifier) *Service {
	s.notify = n
	return s
}

// WithNow overrides the service clock, primarily for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Post applies a draft voucher to the ledger exactly once. A repeated call
// with the same idempotency key returns the voucher produced the first time
// and touches nothing.
func (s *Service) Post(ctx context.Context, input PostInput) (Voucher, error) {
	started := time.Now()
	v, err := s.post(ctx, input)
	if s.metrics != nil {
		s.metrics.ObservePost(ErrorCode(err), time.Since(started))
	}
	if err != nil {
		// Domain rejections are the caller's problem; only non-domain
		// failures are log-worthy.
		if ErrorCode(err) == "internal" {
			s.logger.Error("voucher post failed",
				slog.Int64("company_id", input.CompanyID),
				slog.Int64("voucher_id", input.VoucherID),
				slog.Any("error", err))
		}
		return Voucher{}, err
	}
	return v, nil
}

func (s *Service) post(ctx context.Context, input PostInput) (Voucher, error) {
	if err := input.Validate(); err != nil {
		return Voucher{}, err
	}

	// Replay short-circuits before any lock is taken.
	if input.IdempotencyKey != "" {
		if v, found, err := s.replay(ctx, input.CompanyID, input.IdempotencyKey); err != nil {
			return Voucher{}, err
		} else if found {
			s.logger.Info("voucher post replayed",
				slog.Int64("company_id", input.CompanyID),
				slog.Int64("voucher_id", v.ID),
				slog.String("number", v.Number))
			return v, nil
		}
	}

	// Cheap guard pass on plain reads; everything here is re-verified under
	// lock inside the transaction.
	draft, err := s.repo.GetVoucher(ctx, input.CompanyID, input.VoucherID)
	if err != nil {
		return Voucher{}, err
	}
	if !NotAlreadyPosted(draft) {
		return Voucher{}, ErrInvalidVoucherState
	}
	if err := s.checkDocumentType(ctx, draft.CompanyID, draft.DocTypeID); err != nil {
		return Voucher{}, err
	}
	if err := s.checkDraft(draft); err != nil {
		return Voucher{}, err
	}
	if err := s.checkPeriodCompany(ctx, draft.CompanyID, draft.PeriodID, draft.Date); err != nil {
		return Voucher{}, err
	}

	var posted Voucher
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := s.postInTx(ctx, tx, input)
		if err != nil {
			return err
		}
		posted = v
		return nil
	})
	if err != nil {
		// Two callers raced the same key past the replay check; the loser's
		// transaction rolled back, so hand back the winner's voucher.
		if errors.Is(err, ErrIdempotencyConflict) && input.IdempotencyKey != "" {
			if v, found, rerr := s.replay(ctx, input.CompanyID, input.IdempotencyKey); rerr == nil && found {
				return v, nil
			}
		}
		return Voucher{}, err
	}

	s.logger.Info("voucher posted",
		slog.Int64("company_id", posted.CompanyID),
		slog.Int64("voucher_id", posted.ID),
		slog.String("number", posted.Number),
		slog.Int("lines", len(posted.Lines)),
		slog.Int("stock_entries", len(posted.StockEntries)))
	if s.notify != nil {
		s.notify.NotifyOutbox(ctx)
	}
	return posted, nil
}

func (s *Service) postInTx(ctx context.Context, tx TxRepository, input PostInput) (Voucher, error) {
	v, err := tx.GetVoucherForUpdate(ctx, input.CompanyID, input.VoucherID)
	if err != nil {
		return Voucher{}, err
	}
	// Status re-verified under the row lock; a concurrent poster that won
	// the race flipped it already.
	if !NotAlreadyPosted(v) {
		return Voucher{}, ErrInvalidVoucherState
	}
	dt, err := tx.GetDocumentType(ctx, v.CompanyID, v.DocTypeID)
	if err != nil {
		return Voucher{}, err
	}
	if !dt.Active {
		return Voucher{}, ErrInvalidDocumentType
	}
	if v.Lines, err = tx.ListVoucherLines(ctx, v.ID); err != nil {
		return Voucher{}, err
	}
	if v.StockEntries, err = tx.ListStockEntries(ctx, v.ID); err != nil {
		return Voucher{}, err
	}
	if err := s.checkDraft(v); err != nil {
		return Voucher{}, err
	}
	period, err := tx.GetPeriodForUpdate(ctx, v.CompanyID, v.PeriodID)
	if err != nil {
		return Voucher{}, err
	}
	if !PeriodOpen(period, v.Date) {
		return Voucher{}, ErrPeriodClosed
	}
	company, err := tx.GetCompany(ctx, v.CompanyID)
	if err != nil {
		return Voucher{}, err
	}
	if !CompanyUnlocked(company) {
		return Voucher{}, ErrCompanyLocked
	}

	number := v.Number
	if number == "" {
		if number, err = tx.NextDocumentNumber(ctx, v.CompanyID, v.DocTypeID, v.PeriodID); err != nil {
			return Voucher{}, err
		}
	}

	if err := s.applyLedger(ctx, tx, v.CompanyID, v.PeriodID, aggregateLines(v.Lines)); err != nil {
		return Voucher{}, err
	}
	postedAt := s.now().UTC()
	if err := s.applyStockEntries(ctx, tx, v, postedAt); err != nil {
		return Voucher{}, err
	}
	if err := tx.MarkVoucherPosted(ctx, v.CompanyID, v.ID, number, input.ActorID, postedAt); err != nil {
		return Voucher{}, err
	}
	if input.IdempotencyKey != "" {
		if err := tx.BindIdempotencyKey(ctx, v.CompanyID, input.IdempotencyKey, v.ID); err != nil {
			return Voucher{}, err
		}
	}

	v.Number = number
	v.Status = VoucherStatusPosted
	v.PostedBy = &input.ActorID
	v.PostedAt = &postedAt

	if err := tx.AppendAudit(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "voucher.post",
		Entity:   "voucher",
		EntityID: fmt.Sprintf("%d", v.ID),
		Meta: map[string]any{
			"number":      number,
			"doc_type_id": v.DocTypeID,
			"period_id":   v.PeriodID,
		},
		At: postedAt,
	}); err != nil {
		return Voucher{}, err
	}
	payload, err := json.Marshal(voucherPostedEvent{
		VoucherID: v.ID,
		CompanyID: v.CompanyID,
		DocTypeID: v.DocTypeID,
		PeriodID:  v.PeriodID,
		Number:    number,
		PostedBy:  input.ActorID,
		PostedAt:  postedAt,
	})
	if err != nil {
		return Voucher{}, err
	}
	if _, err := tx.AppendEvent(ctx, outbox.Event{
		CompanyID: v.CompanyID,
		Topic:     outbox.TopicVoucherPosted,
		Payload:   payload,
	}); err != nil {
		return Voucher{}, err
	}
	return v, nil
}

// replay resolves an idempotency key to the voucher it already produced.
func (s *Service) replay(ctx context.Context, companyID int64, key string) (Voucher, bool, error) {
	voucherID, found, err := s.repo.LookupIdempotency(ctx, companyID, key)
	if err != nil || !found {
		return Voucher{}, false, err
	}
	v, err := s.repo.GetVoucher(ctx, companyID, voucherID)
	if err != nil {
		return Voucher{}, false, err
	}
	return v, true, nil
}

// checkDraft validates the voucher body: something to post, balanced lines,
// well-formed stock entries.
func (s *Service) checkDraft(v Voucher) error {
	if len(v.Lines) == 0 && len(v.StockEntries) == 0 {
		return fmt.Errorf("%w: voucher %d has no lines or stock entries", ErrValidation, v.ID)
	}
	if err := ValidateLines(v.Lines); err != nil {
		return err
	}
	return ValidateStockEntries(v.StockEntries)
}

func (s *Service) checkDocumentType(ctx context.Context, companyID, docTypeID int64) error {
	dt, err := s.repo.GetDocumentType(ctx, companyID, docTypeID)
	if err != nil {
		return err
	}
	if !dt.Active {
		return ErrInvalidDocumentType
	}
	return nil
}

func (s *Service) checkPeriodCompany(ctx context.Context, companyID, periodID int64, onDate time.Time) error {
	period, err := s.repo.GetPeriod(ctx, companyID, periodID)
	if err != nil {
		return err
	}
	if !PeriodOpen(period, onDate) {
		return ErrPeriodClosed
	}
	company, err := s.repo.GetCompany(ctx, companyID)
	if err != nil {
		return err
	}
	if !CompanyUnlocked(company) {
		return ErrCompanyLocked
	}
	return nil
}

// accountDelta is the folded ledger effect of one voucher on one account.
type accountDelta struct {
	accountID int64
	debit     decimal.Decimal
	credit    decimal.Decimal
}

// aggregateLines folds voucher lines into one delta per account, ordered by
// account id so concurrent postings touching the same accounts always lock
// balance rows in the same order.
func aggregateLines(lines []VoucherLine) []accountDelta {
	index := map[int64]int{}
	deltas := []accountDelta{}
	for _, line := range lines {
		i, ok := index[line.AccountID]
		if !ok {
			i = len(deltas)
			index[line.AccountID] = i
			deltas = append(deltas, accountDelta{accountID: line.AccountID, debit: decimal.Zero, credit: decimal.Zero})
		}
		switch line.Side {
		case SideDebit:
			deltas[i].debit = deltas[i].debit.Add(line.Amount)
		case SideCredit:
			deltas[i].credit = deltas[i].credit.Add(line.Amount)
		}
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].accountID < deltas[j].accountID })
	return deltas
}

func (s *Service) applyLedger(ctx context.Context, tx TxRepository, companyID, periodID int64, deltas []accountDelta) error {
	for _, d := range deltas {
		if _, err := tx.LockLedgerBalance(ctx, companyID, d.accountID, periodID); err != nil {
			return err
		}
		if err := tx.ApplyLedgerDelta(ctx, companyID, d.accountID, periodID, d.debit, d.credit); err != nil {
			return err
		}
	}
	return nil
}

// outwardGroup collects the entries draining one (item, source warehouse)
// scope so they share a single locked read of its batch stock.
type outwardGroup struct {
	itemID      int64
	warehouseID int64
	entries     []StockEntry
}

func groupOutward(entries []StockEntry) []outwardGroup {
	index := map[[2]int64]int{}
	groups := []outwardGroup{}
	for _, e := range entries {
		if !e.Outward() {
			continue
		}
		key := [2]int64{e.ItemID, e.SrcWarehouseID}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, outwardGroup{itemID: e.ItemID, warehouseID: e.SrcWarehouseID})
		}
		groups[i].entries = append(groups[i].entries, e)
	}
	// Deterministic scope order keeps concurrent postings from deadlocking
	// on each other's stock rows.
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].itemID != groups[j].itemID {
			return groups[i].itemID < groups[j].itemID
		}
		return groups[i].warehouseID < groups[j].warehouseID
	})
	return groups
}

// applyStockEntries turns the voucher's stock intents into balance deltas
// and movement rows. Outward quantities are planned against batch stock
// locked per (item, source) group; within a group later entries see the
// availability already consumed by earlier ones. Transfers land the same
// batches at the destination. Inward-only entries are applied last.
func (s *Service) applyStockEntries(ctx context.Context, tx TxRepository, v Voucher, asOf time.Time) error {
	for _, g := range groupOutward(v.StockEntries) {
		stocks, err := tx.ListBatchStockForUpdate(ctx, v.CompanyID, g.itemID, g.warehouseID)
		if err != nil {
			return err
		}
		for _, e := range g.entries {
			var plan []inventory.Allocation
			if e.BatchID != 0 {
				plan, err = inventory.PlanPinnedAllocation(stocks, e.BatchID, e.Qty, asOf)
			} else {
				plan, err = inventory.PlanAllocations(stocks, e.Qty, asOf)
			}
			if err != nil {
				return err
			}
			for _, a := range plan {
				consumeLocal(stocks, a.BatchID, a.Qty)
				if err := tx.ApplyStockDelta(ctx, v.CompanyID, e.ItemID, e.SrcWarehouseID, a.BatchID, a.Qty.Neg()); err != nil {
					return err
				}
				if e.Inward() {
					if err := tx.ApplyStockDelta(ctx, v.CompanyID, e.ItemID, e.DstWarehouseID, a.BatchID, a.Qty); err != nil {
						return err
					}
				}
				if _, err := tx.InsertStockMovement(ctx, inventory.Movement{
					CompanyID:      v.CompanyID,
					VoucherID:      v.ID,
					ItemID:         e.ItemID,
					BatchID:        a.BatchID,
					SrcWarehouseID: e.SrcWarehouseID,
					DstWarehouseID: e.DstWarehouseID,
					Qty:            a.Qty,
				}); err != nil {
					return err
				}
			}
		}
	}
	for _, e := range v.StockEntries {
		if e.Outward() || !e.Inward() {
			continue
		}
		if err := tx.ApplyStockDelta(ctx, v.CompanyID, e.ItemID, e.DstWarehouseID, e.BatchID, e.Qty); err != nil {
			return err
		}
		if _, err := tx.InsertStockMovement(ctx, inventory.Movement{
			CompanyID:      v.CompanyID,
			VoucherID:      v.ID,
			ItemID:         e.ItemID,
			BatchID:        e.BatchID,
			DstWarehouseID: e.DstWarehouseID,
			Qty:            e.Qty,
		}); err != nil {
			return err
		}
	}
	return nil
}

// consumeLocal mirrors an applied allocation onto the in-memory stock slice
// so the next entry in the same group plans against reduced availability.
func consumeLocal(stocks []inventory.BatchStock, batchID int64, qty decimal.Decimal) {
	for i := range stocks {
		if stocks[i].Balance.BatchID == batchID {
			stocks[i].Balance.OnHand = stocks[i].Balance.OnHand.Sub(qty)
			return
		}
	}
}

type voucherPostedEvent struct {
	VoucherID int64     `json:"voucher_id"`
	CompanyID int64     `json:"company_id"`
	DocTypeID int64     `json:"doc_type_id"`
	PeriodID  int64     `json:"period_id"`
	Number    string    `json:"number"`
	PostedBy  int64     `json:"posted_by"`
	PostedAt  time.Time `json:"posted_at"`
}
