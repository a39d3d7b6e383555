package posting

import "time"

// Guard predicates are pure and run before any lock is taken. The posting
// transaction re-evaluates the same predicates against rows re-read under
// lock, so an administrative close racing a posting still loses.

// PeriodOpen reports whether the period accepts postings dated onDate. The
// range check is inclusive on both ends.
func PeriodOpen(p FiscalPeriod, onDate time.Time) bool {
	if p.Status != PeriodStatusOpen {
		return false
	}
	if onDate.Before(p.StartDate) || onDate.After(p.EndDate) {
		return false
	}
	return true
}

// CompanyUnlocked reports whether the company accepts ledger mutations.
func CompanyUnlocked(c Company) bool {
	return !c.AccountingLocked
}

// NotAlreadyPosted reports whether the voucher is still a draft.
func NotAlreadyPosted(v Voucher) bool {
	return v.Status == VoucherStatusDraft
}

// NotAlreadyReversed reports whether the voucher has no reversal linked yet.
func NotAlreadyReversed(v Voucher) bool {
	return v.ReversedBy == nil
}
