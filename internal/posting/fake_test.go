package posting

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/outbox"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type seqKey struct{ companyID, docTypeID, periodID int64 }

type fakeSeq struct {
	prefix string
	pad    int
	last   int64
}

type balanceKey struct{ companyID, accountID, periodID int64 }

type stockKey struct{ companyID, itemID, warehouseID, batchID int64 }

type idemKey struct {
	companyID int64
	key       string
}

// fakeState is one committed snapshot of the engine's storage.
type fakeState struct {
	companies map[int64]Company
	periods   map[int64]FiscalPeriod
	docTypes  map[int64]DocumentType
	vouchers  map[int64]Voucher
	lines     map[int64][]VoucherLine
	entries   map[int64][]StockEntry
	balances  map[balanceKey]LedgerBalance
	sequences map[seqKey]fakeSeq
	batches   map[int64]inventory.Batch
	stocks    map[stockKey]inventory.Balance
	moves     []inventory.Movement
	idem      map[idemKey]int64
	audits    []shared.AuditLog
	events    []outbox.Event
	lastID    int64
}

func newFakeState() *fakeState {
	return &fakeState{
		companies: map[int64]Company{},
		periods:   map[int64]FiscalPeriod{},
		docTypes:  map[int64]DocumentType{},
		vouchers:  map[int64]Voucher{},
		lines:     map[int64][]VoucherLine{},
		entries:   map[int64][]StockEntry{},
		balances:  map[balanceKey]LedgerBalance{},
		sequences: map[seqKey]fakeSeq{},
		batches:   map[int64]inventory.Batch{},
		stocks:    map[stockKey]inventory.Balance{},
		idem:      map[idemKey]int64{},
		lastID:    1000,
	}
}

func (st *fakeState) clone() *fakeState {
	out := newFakeState()
	out.lastID = st.lastID
	for k, v := range st.companies {
		out.companies[k] = v
	}
	for k, v := range st.periods {
		out.periods[k] = v
	}
	for k, v := range st.docTypes {
		out.docTypes[k] = v
	}
	for k, v := range st.vouchers {
		out.vouchers[k] = v
	}
	for k, v := range st.lines {
		out.lines[k] = append([]VoucherLine(nil), v...)
	}
	for k, v := range st.entries {
		out.entries[k] = append([]StockEntry(nil), v...)
	}
	for k, v := range st.balances {
		out.balances[k] = v
	}
	for k, v := range st.sequences {
		out.sequences[k] = v
	}
	for k, v := range st.batches {
		out.batches[k] = v
	}
	for k, v := range st.stocks {
		out.stocks[k] = v
	}
	out.moves = append([]inventory.Movement(nil), st.moves...)
	out.idem = make(map[idemKey]int64, len(st.idem))
	for k, v := range st.idem {
		out.idem[k] = v
	}
	out.audits = append([]shared.AuditLog(nil), st.audits...)
	out.events = append([]outbox.Event(nil), st.events...)
	return out
}

func (st *fakeState) nextID() int64 {
	st.lastID++
	return st.lastID
}

// fakeRepo implements RepositoryPort over fakeState with copy-on-write
// transactions: fn runs against a clone that replaces the committed state
// only when fn succeeds, so failed postings observably touch nothing. The
// mutex stands in for row-lock serialization, which keeps the concurrency
// tests honest: the loser of a race re-reads state the winner committed.
type fakeRepo struct {
	mu    sync.Mutex
	state *fakeState
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{state: newFakeState()}
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	work := r.state.clone()
	if err := fn(ctx, &fakeTx{st: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *fakeRepo) GetVoucher(_ context.Context, companyID, voucherID int64) (Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.state.vouchers[voucherID]
	if !ok || v.CompanyID != companyID {
		return Voucher{}, ErrVoucherNotFound
	}
	v.Lines = append([]VoucherLine(nil), r.state.lines[voucherID]...)
	v.StockEntries = append([]StockEntry(nil), r.state.entries[voucherID]...)
	return v, nil
}

func (r *fakeRepo) GetDocumentType(_ context.Context, companyID, docTypeID int64) (DocumentType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dt, ok := r.state.docTypes[docTypeID]
	if !ok || dt.CompanyID != companyID {
		return DocumentType{}, ErrInvalidDocumentType
	}
	return dt, nil
}

func (r *fakeRepo) GetPeriod(_ context.Context, companyID, periodID int64) (FiscalPeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.state.periods[periodID]
	if !ok || p.CompanyID != companyID {
		return FiscalPeriod{}, ErrPeriodNotFound
	}
	return p, nil
}

func (r *fakeRepo) GetCompany(_ context.Context, companyID int64) (Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.state.companies[companyID]
	if !ok {
		return Company{}, ErrCompanyNotFound
	}
	return c, nil
}

func (r *fakeRepo) LookupIdempotency(_ context.Context, companyID int64, key string) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.state.idem[idemKey{companyID: companyID, key: key}]
	return id, ok, nil
}

// fakeTx implements TxRepository against the working clone.
type fakeTx struct {
	st *fakeState
}

func (t *fakeTx) GetVoucherForUpdate(_ context.Context, companyID, voucherID int64) (Voucher, error) {
	v, ok := t.st.vouchers[voucherID]
	if !ok || v.CompanyID != companyID {
		return Voucher{}, ErrVoucherNotFound
	}
	return v, nil
}

func (t *fakeTx) ListVoucherLines(_ context.Context, voucherID int64) ([]VoucherLine, error) {
	return append([]VoucherLine(nil), t.st.lines[voucherID]...), nil
}

func (t *fakeTx) ListStockEntries(_ context.Context, voucherID int64) ([]StockEntry, error) {
	return append([]StockEntry(nil), t.st.entries[voucherID]...), nil
}

func (t *fakeTx) GetPeriodForUpdate(_ context.Context, companyID, periodID int64) (FiscalPeriod, error) {
	p, ok := t.st.periods[periodID]
	if !ok || p.CompanyID != companyID {
		return FiscalPeriod{}, ErrPeriodNotFound
	}
	return p, nil
}

func (t *fakeTx) GetCompany(_ context.Context, companyID int64) (Company, error) {
	c, ok := t.st.companies[companyID]
	if !ok {
		return Company{}, ErrCompanyNotFound
	}
	return c, nil
}

func (t *fakeTx) GetDocumentType(_ context.Context, companyID, docTypeID int64) (DocumentType, error) {
	dt, ok := t.st.docTypes[docTypeID]
	if !ok || dt.CompanyID != companyID {
		return DocumentType{}, ErrInvalidDocumentType
	}
	return dt, nil
}

func (t *fakeTx) NextDocumentNumber(_ context.Context, companyID, docTypeID, periodID int64) (string, error) {
	key := seqKey{companyID: companyID, docTypeID: docTypeID, periodID: periodID}
	seq, ok := t.st.sequences[key]
	if !ok {
		return "", sequence.ErrNotConfigured
	}
	seq.last++
	t.st.sequences[key] = seq
	return sequence.Format(seq.prefix, seq.pad, seq.last), nil
}

func (t *fakeTx) LockLedgerBalance(_ context.Context, companyID, accountID, periodID int64) (LedgerBalance, error) {
	key := balanceKey{companyID: companyID, accountID: accountID, periodID: periodID}
	b, ok := t.st.balances[key]
	if !ok {
		b = LedgerBalance{
			CompanyID:   companyID,
			AccountID:   accountID,
			PeriodID:    periodID,
			DebitTotal:  decimal.Zero,
			CreditTotal: decimal.Zero,
		}
		t.st.balances[key] = b
	}
	return b, nil
}

func (t *fakeTx) ApplyLedgerDelta(_ context.Context, companyID, accountID, periodID int64, debitDelta, creditDelta decimal.Decimal) error {
	key := balanceKey{companyID: companyID, accountID: accountID, periodID: periodID}
	b, ok := t.st.balances[key]
	if !ok {
		return errors.New("ledger balance not locked before apply")
	}
	b.DebitTotal = b.DebitTotal.Add(debitDelta)
	b.CreditTotal = b.CreditTotal.Add(creditDelta)
	t.st.balances[key] = b
	return nil
}

func (t *fakeTx) ListBatchStockForUpdate(_ context.Context, companyID, itemID, warehouseID int64) ([]inventory.BatchStock, error) {
	out := []inventory.BatchStock{}
	for key, bal := range t.st.stocks {
		if key.companyID != companyID || key.itemID != itemID || key.warehouseID != warehouseID || key.batchID == 0 {
			continue
		}
		batch, ok := t.st.batches[key.batchID]
		if !ok {
			continue
		}
		out = append(out, inventory.BatchStock{Batch: batch, Balance: bal})
	}
	sort.Slice(out, func(i, j int) bool {
		mi, mj := out[i].Batch.ManufactureDate, out[j].Batch.ManufactureDate
		if !mi.Equal(mj) {
			return mi.Before(mj)
		}
		return out[i].Batch.ID < out[j].Batch.ID
	})
	return out, nil
}

func (t *fakeTx) ApplyStockDelta(_ context.Context, companyID, itemID, warehouseID, batchID int64, delta decimal.Decimal) error {
	key := stockKey{companyID: companyID, itemID: itemID, warehouseID: warehouseID, batchID: batchID}
	bal, ok := t.st.stocks[key]
	if !ok {
		bal = inventory.Balance{
			CompanyID:   companyID,
			ItemID:      itemID,
			WarehouseID: warehouseID,
			BatchID:     batchID,
			OnHand:      decimal.Zero,
			Reserved:    decimal.Zero,
			Allocated:   decimal.Zero,
		}
	}
	bal.OnHand = bal.OnHand.Add(delta)
	t.st.stocks[key] = bal
	return nil
}

func (t *fakeTx) InsertStockMovement(_ context.Context, m inventory.Movement) (int64, error) {
	m.ID = t.st.nextID()
	t.st.moves = append(t.st.moves, m)
	return m.ID, nil
}

func (t *fakeTx) ListStockMovements(_ context.Context, companyID, voucherID int64) ([]inventory.Movement, error) {
	out := []inventory.Movement{}
	for _, m := range t.st.moves {
		if m.CompanyID == companyID && m.VoucherID == voucherID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *fakeTx) InsertVoucher(_ context.Context, v Voucher) (Voucher, error) {
	v.ID = t.st.nextID()
	v.Lines = nil
	v.StockEntries = nil
	t.st.vouchers[v.ID] = v
	return v, nil
}

func (t *fakeTx) InsertVoucherLines(_ context.Context, voucherID int64, lines []VoucherLine) error {
	for _, line := range lines {
		line.ID = t.st.nextID()
		line.VoucherID = voucherID
		t.st.lines[voucherID] = append(t.st.lines[voucherID], line)
	}
	return nil
}

func (t *fakeTx) MarkVoucherPosted(_ context.Context, companyID, voucherID int64, number string, actorID int64, at time.Time) error {
	v, ok := t.st.vouchers[voucherID]
	if !ok || v.CompanyID != companyID || v.Status != VoucherStatusDraft {
		return ErrInvalidVoucherState
	}
	v.Status = VoucherStatusPosted
	v.Number = number
	v.PostedBy = &actorID
	v.PostedAt = &at
	t.st.vouchers[voucherID] = v
	return nil
}

func (t *fakeTx) MarkVoucherReversed(_ context.Context, companyID, voucherID, reversalID int64, reason string, actorID int64, at time.Time) error {
	v, ok := t.st.vouchers[voucherID]
	if !ok || v.CompanyID != companyID || v.Status != VoucherStatusPosted || v.ReversedBy != nil {
		return ErrAlreadyReversed
	}
	v.Status = VoucherStatusReversed
	v.ReversedBy = &reversalID
	v.ReversalReason = reason
	v.ReversalActor = &actorID
	v.ReversedAt = &at
	t.st.vouchers[voucherID] = v
	return nil
}

func (t *fakeTx) BindIdempotencyKey(_ context.Context, companyID int64, key string, voucherID int64) error {
	k := idemKey{companyID: companyID, key: key}
	if _, exists := t.st.idem[k]; exists {
		return ErrIdempotencyConflict
	}
	t.st.idem[k] = voucherID
	return nil
}

func (t *fakeTx) AppendAudit(_ context.Context, log shared.AuditLog) error {
	log.ID = t.st.nextID()
	t.st.audits = append(t.st.audits, log)
	return nil
}

func (t *fakeTx) AppendEvent(_ context.Context, evt outbox.Event) (outbox.Event, error) {
	evt.ID = t.st.nextID()
	evt.Status = outbox.StatusPending
	t.st.events = append(t.st.events, evt)
	return evt, nil
}

// Seed and inspection helpers. Tests arrange state directly and assert on
// committed state, never on transaction internals.

func (r *fakeRepo) seedCompany(id int64, locked bool) {
	r.state.companies[id] = Company{ID: id, Name: "Test Co", AccountingLocked: locked}
}

func (r *fakeRepo) seedPeriod(id, companyID int64, status PeriodStatus, start, end time.Time) {
	r.state.periods[id] = FiscalPeriod{ID: id, CompanyID: companyID, Code: "P", StartDate: start, EndDate: end, Status: status}
}

func (r *fakeRepo) seedDocType(id, companyID int64, active bool) {
	r.state.docTypes[id] = DocumentType{ID: id, CompanyID: companyID, Code: "JV", Name: "Journal", Active: active}
}

func (r *fakeRepo) seedSequence(companyID, docTypeID, periodID int64, prefix string, pad int) {
	r.state.sequences[seqKey{companyID: companyID, docTypeID: docTypeID, periodID: periodID}] = fakeSeq{prefix: prefix, pad: pad}
}

func (r *fakeRepo) seedVoucher(v Voucher) {
	lines := v.Lines
	entries := v.StockEntries
	v.Lines = nil
	v.StockEntries = nil
	r.state.vouchers[v.ID] = v
	for i := range lines {
		lines[i].VoucherID = v.ID
		if lines[i].ID == 0 {
			lines[i].ID = r.state.nextID()
		}
	}
	r.state.lines[v.ID] = lines
	for i := range entries {
		entries[i].VoucherID = v.ID
		if entries[i].ID == 0 {
			entries[i].ID = r.state.nextID()
		}
	}
	r.state.entries[v.ID] = entries
}

func (r *fakeRepo) seedBatchStock(companyID int64, batch inventory.Batch, warehouseID int64, onHand decimal.Decimal) {
	r.state.batches[batch.ID] = batch
	r.state.stocks[stockKey{companyID: companyID, itemID: batch.ItemID, warehouseID: warehouseID, batchID: batch.ID}] = inventory.Balance{
		CompanyID:   companyID,
		ItemID:      batch.ItemID,
		WarehouseID: warehouseID,
		BatchID:     batch.ID,
		OnHand:      onHand,
		Reserved:    decimal.Zero,
		Allocated:   decimal.Zero,
	}
}

func (r *fakeRepo) voucher(id int64) Voucher {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.state.vouchers[id]
	v.Lines = append([]VoucherLine(nil), r.state.lines[id]...)
	return v
}

func (r *fakeRepo) balance(companyID, accountID, periodID int64) LedgerBalance {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.state.balances[balanceKey{companyID: companyID, accountID: accountID, periodID: periodID}]
	if !ok {
		return LedgerBalance{DebitTotal: decimal.Zero, CreditTotal: decimal.Zero}
	}
	return b
}

func (r *fakeRepo) hasBalance(companyID, accountID, periodID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.state.balances[balanceKey{companyID: companyID, accountID: accountID, periodID: periodID}]
	return ok
}

func (r *fakeRepo) onHand(companyID, itemID, warehouseID, batchID int64) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	bal, ok := r.state.stocks[stockKey{companyID: companyID, itemID: itemID, warehouseID: warehouseID, batchID: batchID}]
	if !ok {
		return decimal.Zero
	}
	return bal.OnHand
}

func (r *fakeRepo) movementsFor(voucherID int64) []inventory.Movement {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []inventory.Movement{}
	for _, m := range r.state.moves {
		if m.VoucherID == voucherID {
			out = append(out, m)
		}
	}
	return out
}

func (r *fakeRepo) auditActions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for _, a := range r.state.audits {
		out = append(out, a.Action)
	}
	return out
}

func (r *fakeRepo) eventsByTopic(topic string) []outbox.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []outbox.Event{}
	for _, e := range r.state.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}
