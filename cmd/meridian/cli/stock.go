package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

// StockCLI answers read-only stock questions from the terminal. Mutation
// happens only through voucher posting.
type StockCLI struct {
	svc *inventory.Service
}

// NewStockCLI constructs the helper over the inventory service.
func NewStockCLI(svc *inventory.Service) *StockCLI {
	return &StockCLI{svc: svc}
}

// StockPlanOptions configures the plan command.
type StockPlanOptions struct {
	CompanyID   int64
	ItemID      int64
	WarehouseID int64
	Qty         string
	JSONOutput  bool
	Stdout      io.Writer
	Stderr      io.Writer
}

// PlanCommand previews which batches a posting of qty would consume, oldest
// manufacture date first.
func (c *StockCLI) PlanCommand(ctx context.Context, opts StockPlanOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	qty, err := decimal.NewFromString(strings.TrimSpace(opts.Qty))
	if err != nil {
		fmt.Fprintf(stderr, "stock plan: invalid --qty %q\n", opts.Qty)
		return 1
	}
	plan, err := c.svc.AllocateFIFO(ctx, opts.CompanyID, opts.ItemID, opts.WarehouseID, qty)
	if err != nil {
		fmt.Fprintf(stderr, "stock plan: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		payload := make([]allocationPayload, 0, len(plan))
		for _, a := range plan {
			payload = append(payload, allocationPayload{BatchID: a.BatchID, BatchNo: a.BatchNo, Qty: a.Qty.String()})
		}
		if err := json.NewEncoder(stdout).Encode(payload); err != nil {
			fmt.Fprintf(stderr, "stock plan: %v\n", err)
			return 1
		}
		return 0
	}
	for _, a := range plan {
		fmt.Fprintf(stdout, "%6d  %-16s %s\n", a.BatchID, a.BatchNo, a.Qty)
	}
	return 0
}

// StockAvailabilityOptions configures the availability command.
type StockAvailabilityOptions struct {
	CompanyID   int64
	ItemID      int64
	WarehouseID int64
	JSONOutput  bool
	Stdout      io.Writer
	Stderr      io.Writer
}

// AvailabilityCommand sums what posting could consume right now for the
// (item, warehouse) pair.
func (c *StockCLI) AvailabilityCommand(ctx context.Context, opts StockAvailabilityOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	total, err := c.svc.Availability(ctx, opts.CompanyID, opts.ItemID, opts.WarehouseID)
	if err != nil {
		fmt.Fprintf(stderr, "stock availability: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		payload := availabilityPayload{
			CompanyID:   opts.CompanyID,
			ItemID:      opts.ItemID,
			WarehouseID: opts.WarehouseID,
			Available:   total.String(),
		}
		if err := json.NewEncoder(stdout).Encode(payload); err != nil {
			fmt.Fprintf(stderr, "stock availability: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(stdout, "item %d warehouse %d: available=%s\n", opts.ItemID, opts.WarehouseID, total)
	return 0
}

// StockMovementsOptions configures the movements command.
type StockMovementsOptions struct {
	CompanyID  int64
	VoucherID  int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// MovementsCommand prints the immutable movement trail of a voucher.
func (c *StockCLI) MovementsCommand(ctx context.Context, opts StockMovementsOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	moves, err := c.svc.Movements(ctx, opts.CompanyID, opts.VoucherID)
	if err != nil {
		fmt.Fprintf(stderr, "stock movements: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		payload := make([]movementPayload, 0, len(moves))
		for _, m := range moves {
			payload = append(payload, toMovementPayload(m))
		}
		if err := json.NewEncoder(stdout).Encode(payload); err != nil {
			fmt.Fprintf(stderr, "stock movements: %v\n", err)
			return 1
		}
		return 0
	}
	if len(moves) == 0 {
		fmt.Fprintf(stdout, "no movements for voucher %d\n", opts.VoucherID)
		return 0
	}
	for _, m := range moves {
		fmt.Fprintf(stdout, "%6d  item=%d batch=%d src=%d dst=%d qty=%s\n",
			m.ID, m.ItemID, m.BatchID, m.SrcWarehouseID, m.DstWarehouseID, m.Qty)
	}
	return 0
}

type allocationPayload struct {
	BatchID int64  `json:"batch_id"`
	BatchNo string `json:"batch_no"`
	Qty     string `json:"qty"`
}

type availabilityPayload struct {
	CompanyID   int64  `json:"company_id"`
	ItemID      int64  `json:"item_id"`
	WarehouseID int64  `json:"warehouse_id"`
	Available   string `json:"available"`
}

type movementPayload struct {
	ID             int64  `json:"id"`
	VoucherID      int64  `json:"voucher_id"`
	ItemID         int64  `json:"item_id"`
	BatchID        int64  `json:"batch_id"`
	SrcWarehouseID int64  `json:"src_warehouse_id,omitempty"`
	DstWarehouseID int64  `json:"dst_warehouse_id,omitempty"`
	Qty            string `json:"qty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

func toMovementPayload(m inventory.Movement) movementPayload {
	payload := movementPayload{
		ID:             m.ID,
		VoucherID:      m.VoucherID,
		ItemID:         m.ItemID,
		BatchID:        m.BatchID,
		SrcWarehouseID: m.SrcWarehouseID,
		DstWarehouseID: m.DstWarehouseID,
		Qty:            m.Qty.String(),
	}
	if !m.CreatedAt.IsZero() {
		payload.CreatedAt = m.CreatedAt.UTC().Format(time.RFC3339)
	}
	return payload
}
