package posting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/outbox"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Reverse builds and posts the mirror voucher that nets out a previously
// posted voucher, marks the original REVERSED and links the two. The mirror
// is posted immediately; reversal vouchers are never drafted. The returned
// voucher is the new reversal voucher.
func (s *Service) Reverse(ctx context.Context, input ReverseInput) (Voucher, error) {
	started := time.Now()
	v, err := s.reverse(ctx, input)
	if s.metrics != nil {
		s.metrics.ObserveReverse(ErrorCode(err), time.Since(started))
	}
	if err != nil {
		if ErrorCode(err) == "internal" {
			s.logger.Error("voucher reverse failed",
				slog.Int64("company_id", input.CompanyID),
				slog.Int64("voucher_id", input.VoucherID),
				slog.Any("error", err))
		}
		return Voucher{}, err
	}
	return v, nil
}

func (s *Service) reverse(ctx context.Context, input ReverseInput) (Voucher, error) {
	if err := input.Validate(); err != nil {
		return Voucher{}, err
	}
	reason := strings.TrimSpace(input.Reason)

	original, err := s.repo.GetVoucher(ctx, input.CompanyID, input.VoucherID)
	if err != nil {
		return Voucher{}, err
	}
	// Linkage first: a REVERSED voucher fails as already reversed, not as a
	// state problem. Drafts then fall out on status.
	if !NotAlreadyReversed(original) {
		return Voucher{}, ErrAlreadyReversed
	}
	if original.Status != VoucherStatusPosted {
		return Voucher{}, ErrInvalidVoucherState
	}
	// The reversal lands in the original's period on the original's date, so
	// the period must still be open and the company unfrozen now.
	if err := s.checkPeriodCompany(ctx, original.CompanyID, original.PeriodID, original.Date); err != nil {
		return Voucher{}, err
	}

	var reversal Voucher
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := s.reverseInTx(ctx, tx, input, reason)
		if err != nil {
			return err
		}
		reversal = v
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}

	s.logger.Info("voucher reversed",
		slog.Int64("company_id", reversal.CompanyID),
		slog.Int64("voucher_id", input.VoucherID),
		slog.Int64("reversal_id", reversal.ID),
		slog.String("number", reversal.Number))
	if s.notify != nil {
		s.notify.NotifyOutbox(ctx)
	}
	return reversal, nil
}

func (s *Service) reverseInTx(ctx context.Context, tx TxRepository, input ReverseInput, reason string) (Voucher, error) {
	original, err := tx.GetVoucherForUpdate(ctx, input.CompanyID, input.VoucherID)
	if err != nil {
		return Voucher{}, err
	}
	if !NotAlreadyReversed(original) {
		return Voucher{}, ErrAlreadyReversed
	}
	if original.Status != VoucherStatusPosted {
		return Voucher{}, ErrInvalidVoucherState
	}
	if original.Lines, err = tx.ListVoucherLines(ctx, original.ID); err != nil {
		return Voucher{}, err
	}
	period, err := tx.GetPeriodForUpdate(ctx, original.CompanyID, original.PeriodID)
	if err != nil {
		return Voucher{}, err
	}
	if !PeriodOpen(period, original.Date) {
		return Voucher{}, ErrPeriodClosed
	}
	company, err := tx.GetCompany(ctx, original.CompanyID)
	if err != nil {
		return Voucher{}, err
	}
	if !CompanyUnlocked(company) {
		return Voucher{}, ErrCompanyLocked
	}

	number, err := tx.NextDocumentNumber(ctx, original.CompanyID, original.DocTypeID, original.PeriodID)
	if err != nil {
		return Voucher{}, err
	}
	reversedAt := s.now().UTC()

	reversal := Voucher{
		CompanyID:  original.CompanyID,
		DocTypeID:  original.DocTypeID,
		PeriodID:   original.PeriodID,
		Number:     number,
		Date:       original.Date,
		Status:     VoucherStatusPosted,
		Narration:  fmt.Sprintf("Reversal of %s: %s", original.Number, reason),
		PostedBy:   &input.ActorID,
		PostedAt:   &reversedAt,
		ReversalOf: &original.ID,
	}
	if reversal, err = tx.InsertVoucher(ctx, reversal); err != nil {
		return Voucher{}, err
	}
	reversal.Lines = reverseLines(original.Lines)
	if err := tx.InsertVoucherLines(ctx, reversal.ID, reversal.Lines); err != nil {
		return Voucher{}, err
	}

	// Ledger effect is the original contribution subtracted from the side it
	// was added on, so across original plus reversal every accumulator nets
	// to exactly zero.
	deltas := aggregateLines(original.Lines)
	for i := range deltas {
		deltas[i].debit = deltas[i].debit.Neg()
		deltas[i].credit = deltas[i].credit.Neg()
	}
	if err := s.applyLedger(ctx, tx, original.CompanyID, original.PeriodID, deltas); err != nil {
		return Voucher{}, err
	}

	// Stock comes back exactly the way it left: every original movement is
	// mirrored with source and destination swapped and its deltas inverted.
	// No availability check here; undoing a consumption must always succeed.
	moves, err := tx.ListStockMovements(ctx, original.CompanyID, original.ID)
	if err != nil {
		return Voucher{}, err
	}
	for _, m := range moves {
		mirrored := m.Mirror(reversal.ID)
		if mirrored.SrcWarehouseID != 0 {
			if err := tx.ApplyStockDelta(ctx, mirrored.CompanyID, mirrored.ItemID, mirrored.SrcWarehouseID, mirrored.BatchID, mirrored.Qty.Neg()); err != nil {
				return Voucher{}, err
			}
		}
		if mirrored.DstWarehouseID != 0 {
			if err := tx.ApplyStockDelta(ctx, mirrored.CompanyID, mirrored.ItemID, mirrored.DstWarehouseID, mirrored.BatchID, mirrored.Qty); err != nil {
				return Voucher{}, err
			}
		}
		if _, err := tx.InsertStockMovement(ctx, mirrored); err != nil {
			return Voucher{}, err
		}
	}

	if err := tx.MarkVoucherReversed(ctx, original.CompanyID, original.ID, reversal.ID, reason, input.ActorID, reversedAt); err != nil {
		return Voucher{}, err
	}

	if err := tx.AppendAudit(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "voucher.reverse",
		Entity:   "voucher",
		EntityID: fmt.Sprintf("%d", original.ID),
		Meta: map[string]any{
			"reversal_voucher_id": reversal.ID,
			"reversal_number":     number,
			"reason":              reason,
		},
		At: reversedAt,
	}); err != nil {
		return Voucher{}, err
	}
	if err := tx.AppendAudit(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "voucher.post",
		Entity:   "voucher",
		EntityID: fmt.Sprintf("%d", reversal.ID),
		Meta: map[string]any{
			"number":      number,
			"reversal_of": original.ID,
		},
		At: reversedAt,
	}); err != nil {
		return Voucher{}, err
	}

	payload, err := json.Marshal(voucherReversedEvent{
		OriginalVoucherID: original.ID,
		ReversalVoucherID: reversal.ID,
		CompanyID:         original.CompanyID,
		OriginalNumber:    original.Number,
		ReversalNumber:    number,
		Reason:            reason,
		ReversedBy:        input.ActorID,
		ReversedAt:        reversedAt,
	})
	if err != nil {
		return Voucher{}, err
	}
	if _, err := tx.AppendEvent(ctx, outbox.Event{
		CompanyID: original.CompanyID,
		Topic:     outbox.TopicVoucherReversed,
		Payload:   payload,
	}); err != nil {
		return Voucher{}, err
	}
	return reversal, nil
}

// reverseLines mirrors lines with debit and credit swapped, amounts and line
// numbers kept.
func reverseLines(lines []VoucherLine) []VoucherLine {
	out := make([]VoucherLine, 0, len(lines))
	for _, line := range lines {
		side := SideCredit
		if line.Side == SideCredit {
			side = SideDebit
		}
		out = append(out, VoucherLine{
			LineNo:    line.LineNo,
			AccountID: line.AccountID,
			Side:      side,
			Amount:    line.Amount,
		})
	}
	return out
}

type voucherReversedEvent struct {
	OriginalVoucherID int64     `json:"original_voucher_id"`
	ReversalVoucherID int64     `json:"reversal_voucher_id"`
	CompanyID         int64     `json:"company_id"`
	OriginalNumber    string    `json:"original_number"`
	ReversalNumber    string    `json:"reversal_number"`
	Reason            string    `json:"reason"`
	ReversedBy        int64     `json:"reversed_by"`
	ReversedAt        time.Time `json:"reversed_at"`
}
