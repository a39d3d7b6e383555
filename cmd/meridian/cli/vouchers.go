package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/posting"
)

// PostingEngine is the slice of the posting service the CLI drives.
type PostingEngine interface {
	Post(ctx context.Context, in posting.PostInput) (posting.Voucher, error)
	Reverse(ctx context.Context, in posting.ReverseInput) (posting.Voucher, error)
}

// VouchersCLI posts and reverses vouchers from the terminal.
type VouchersCLI struct {
	engine PostingEngine
}

// NewVouchersCLI constructs the helper over the posting engine.
func NewVouchersCLI(engine PostingEngine) *VouchersCLI {
	return &VouchersCLI{engine: engine}
}

// VouchersPostOptions configures the post command.
type VouchersPostOptions struct {
	CompanyID      int64
	VoucherID      int64
	ActorID        int64
	IdempotencyKey string
	JSONOutput     bool
	Stdout         io.Writer
	Stderr         io.Writer
}

// PostCommand posts one draft voucher.
func (c *VouchersCLI) PostCommand(ctx context.Context, opts VouchersPostOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	v, err := c.engine.Post(ctx, posting.PostInput{
		CompanyID:      opts.CompanyID,
		VoucherID:      opts.VoucherID,
		ActorID:        opts.ActorID,
		IdempotencyKey: opts.IdempotencyKey,
	})
	if err != nil {
		fmt.Fprintf(stderr, "vouchers post: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		return emitVoucherJSON(stdout, stderr, v)
	}
	fmt.Fprintf(stdout, "voucher %d posted: number=%s\n", v.ID, v.Number)
	return 0
}

// VouchersReverseOptions configures the reverse command.
type VouchersReverseOptions struct {
	CompanyID  int64
	VoucherID  int64
	ActorID    int64
	Reason     string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReverseCommand reverses one posted voucher. The printed voucher is the
// mirror that cancels the original.
func (c *VouchersCLI) ReverseCommand(ctx context.Context, opts VouchersReverseOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	v, err := c.engine.Reverse(ctx, posting.ReverseInput{
		CompanyID: opts.CompanyID,
		VoucherID: opts.VoucherID,
		ActorID:   opts.ActorID,
		Reason:    opts.Reason,
	})
	if err != nil {
		fmt.Fprintf(stderr, "vouchers reverse: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		return emitVoucherJSON(stdout, stderr, v)
	}
	fmt.Fprintf(stdout, "voucher %d reversed by %d: number=%s\n", opts.VoucherID, v.ID, v.Number)
	return 0
}

type voucherPayload struct {
	ID         int64  `json:"id"`
	CompanyID  int64  `json:"company_id"`
	Number     string `json:"number"`
	Date       string `json:"date"`
	Status     string `json:"status"`
	Narration  string `json:"narration,omitempty"`
	PostedBy   *int64 `json:"posted_by,omitempty"`
	PostedAt   string `json:"posted_at,omitempty"`
	ReversalOf *int64 `json:"reversal_of,omitempty"`
}

func toVoucherPayload(v posting.Voucher) voucherPayload {
	payload := voucherPayload{
		ID:         v.ID,
		CompanyID:  v.CompanyID,
		Number:     v.Number,
		Date:       v.Date.Format(dateLayout),
		Status:     string(v.Status),
		Narration:  v.Narration,
		PostedBy:   v.PostedBy,
		ReversalOf: v.ReversalOf,
	}
	if v.PostedAt != nil {
		payload.PostedAt = v.PostedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func emitVoucherJSON(stdout, stderr io.Writer, v posting.Voucher) int {
	if err := json.NewEncoder(stdout).Encode(toVoucherPayload(v)); err != nil {
		fmt.Fprintf(stderr, "vouchers: %v\n", err)
		return 1
	}
	return 0
}
