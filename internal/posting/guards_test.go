package posting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPeriodOpen(t *testing.T) {
	period := FiscalPeriod{
		Status:    PeriodStatusOpen,
		StartDate: day(2025, time.June, 1),
		EndDate:   day(2025, time.June, 30),
	}

	require.True(t, PeriodOpen(period, day(2025, time.June, 15)))
	// Both boundary dates are inside the period.
	require.True(t, PeriodOpen(period, day(2025, time.June, 1)))
	require.True(t, PeriodOpen(period, day(2025, time.June, 30)))

	require.False(t, PeriodOpen(period, day(2025, time.May, 31)))
	require.False(t, PeriodOpen(period, day(2025, time.July, 1)))

	closed := period
	closed.Status = PeriodStatusClosed
	require.False(t, PeriodOpen(closed, day(2025, time.June, 15)))
}

func TestCompanyUnlocked(t *testing.T) {
	require.True(t, CompanyUnlocked(Company{ID: 1}))
	require.False(t, CompanyUnlocked(Company{ID: 1, AccountingLocked: true}))
}

func TestNotAlreadyPosted(t *testing.T) {
	require.True(t, NotAlreadyPosted(Voucher{Status: VoucherStatusDraft}))
	require.False(t, NotAlreadyPosted(Voucher{Status: VoucherStatusPosted}))
	require.False(t, NotAlreadyPosted(Voucher{Status: VoucherStatusReversed}))
}

func TestNotAlreadyReversed(t *testing.T) {
	require.True(t, NotAlreadyReversed(Voucher{Status: VoucherStatusPosted}))
	reversalID := int64(42)
	require.False(t, NotAlreadyReversed(Voucher{Status: VoucherStatusReversed, ReversedBy: &reversalID}))
}
