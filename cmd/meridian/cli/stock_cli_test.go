package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

type stubStockRepo struct {
	item   inventory.Item
	stocks []inventory.BatchStock
	moves  []inventory.Movement
}

func (s *stubStockRepo) GetItem(_ context.Context, companyID, itemID int64) (inventory.Item, error) {
	return s.item, nil
}

func (s *stubStockRepo) ListBatchStock(_ context.Context, companyID, itemID, warehouseID int64) ([]inventory.BatchStock, error) {
	return s.stocks, nil
}

func (s *stubStockRepo) ListMovementsByVoucher(_ context.Context, companyID, voucherID int64) ([]inventory.Movement, error) {
	return s.moves, nil
}

func cliBatchStock(id int64, batchNo string, mfg time.Time, onHand int64) inventory.BatchStock {
	return inventory.BatchStock{
		Batch: inventory.Batch{
			ID:              id,
			ItemID:          11,
			BatchNo:         batchNo,
			ManufactureDate: mfg,
			Active:          true,
		},
		Balance: inventory.Balance{
			CompanyID:   1,
			ItemID:      11,
			WarehouseID: 21,
			BatchID:     id,
			OnHand:      decimal.NewFromInt(onHand),
		},
	}
}

func newStockCLIForTest(repo inventory.RepositoryPort) *StockCLI {
	svc := inventory.NewService(repo).WithNow(func() time.Time {
		return time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	})
	return NewStockCLI(svc)
}

func TestStockPlanCommandJSON(t *testing.T) {
	repo := &stubStockRepo{
		item: inventory.Item{ID: 11, CompanyID: 1, SKU: "WIDGET", Active: true},
		stocks: []inventory.BatchStock{
			cliBatchStock(31, "LOT-A", time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), 10),
			cliBatchStock(32, "LOT-B", time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), 20),
		},
	}
	stcli := newStockCLIForTest(repo)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := stcli.PlanCommand(context.Background(), StockPlanOptions{
		CompanyID:   1,
		ItemID:      11,
		WarehouseID: 21,
		Qty:         "25",
		JSONOutput:  true,
		Stdout:      stdout,
		Stderr:      stderr,
	})
	require.Zero(t, exitCode)
	require.Empty(t, stderr.String())

	var payload []allocationPayload
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &payload))
	require.Len(t, payload, 2)
	require.Equal(t, allocationPayload{BatchID: 31, BatchNo: "LOT-A", Qty: "10"}, payload[0])
	require.Equal(t, allocationPayload{BatchID: 32, BatchNo: "LOT-B", Qty: "15"}, payload[1])
}

func TestStockPlanCommandReportsInsufficientStock(t *testing.T) {
	repo := &stubStockRepo{
		item: inventory.Item{ID: 11, CompanyID: 1, SKU: "WIDGET", Active: true},
		stocks: []inventory.BatchStock{
			cliBatchStock(31, "LOT-A", time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), 10),
		},
	}
	stcli := newStockCLIForTest(repo)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := stcli.PlanCommand(context.Background(), StockPlanOptions{
		CompanyID:   1,
		ItemID:      11,
		WarehouseID: 21,
		Qty:         "50",
		Stdout:      stdout,
		Stderr:      stderr,
	})
	require.Equal(t, 1, exitCode)
	require.Empty(t, stdout.String())
	require.Contains(t, stderr.String(), inventory.ErrInsufficientStock.Error())
}

func TestStockPlanCommandRejectsBadQty(t *testing.T) {
	stcli := newStockCLIForTest(&stubStockRepo{})

	stderr := new(bytes.Buffer)
	exitCode := stcli.PlanCommand(context.Background(), StockPlanOptions{
		CompanyID:   1,
		ItemID:      11,
		WarehouseID: 21,
		Qty:         "ten",
		Stdout:      new(bytes.Buffer),
		Stderr:      stderr,
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "invalid --qty")
}

func TestStockAvailabilityCommandSkipsExpired(t *testing.T) {
	expired := cliBatchStock(32, "LOT-OLD", time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), 5)
	expired.Batch.ExpiryDate = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	repo := &stubStockRepo{
		item: inventory.Item{ID: 11, CompanyID: 1, SKU: "WIDGET", Active: true},
		stocks: []inventory.BatchStock{
			cliBatchStock(31, "LOT-A", time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), 10),
			expired,
		},
	}
	stcli := newStockCLIForTest(repo)

	stdout := new(bytes.Buffer)
	exitCode := stcli.AvailabilityCommand(context.Background(), StockAvailabilityOptions{
		CompanyID:   1,
		ItemID:      11,
		WarehouseID: 21,
		Stdout:      stdout,
		Stderr:      new(bytes.Buffer),
	})
	require.Zero(t, exitCode)
	require.Equal(t, "item 11 warehouse 21: available=10\n", stdout.String())
}

func TestStockMovementsCommand(t *testing.T) {
	repo := &stubStockRepo{
		moves: []inventory.Movement{
			{ID: 71, CompanyID: 1, VoucherID: 500, ItemID: 11, BatchID: 31, SrcWarehouseID: 21, Qty: decimal.NewFromInt(10)},
			{ID: 72, CompanyID: 1, VoucherID: 500, ItemID: 11, BatchID: 32, SrcWarehouseID: 21, Qty: decimal.NewFromInt(5)},
		},
	}
	stcli := newStockCLIForTest(repo)

	stdout := new(bytes.Buffer)
	exitCode := stcli.MovementsCommand(context.Background(), StockMovementsOptions{
		CompanyID: 1,
		VoucherID: 500,
		Stdout:    stdout,
		Stderr:    new(bytes.Buffer),
	})
	require.Zero(t, exitCode)
	require.Contains(t, stdout.String(), "item=11 batch=31 src=21 dst=0 qty=10")
	require.Contains(t, stdout.String(), "item=11 batch=32 src=21 dst=0 qty=5")
}

func TestStockMovementsCommandEmpty(t *testing.T) {
	stcli := newStockCLIForTest(&stubStockRepo{})

	stdout := new(bytes.Buffer)
	exitCode := stcli.MovementsCommand(context.Background(), StockMovementsOptions{
		CompanyID: 1,
		VoucherID: 999,
		Stdout:    stdout,
		Stderr:    new(bytes.Buffer),
	})
	require.Zero(t, exitCode)
	require.Equal(t, "no movements for voucher 999\n", stdout.String())
}
