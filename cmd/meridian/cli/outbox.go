package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/meridian-erp/meridian-erp/internal/outbox"
)

// OutboxCLI inspects and repairs the integration event queue.
type OutboxCLI struct {
	store *outbox.Store
}

// NewOutboxCLI constructs the helper over the event store.
func NewOutboxCLI(store *outbox.Store) *OutboxCLI {
	return &OutboxCLI{store: store}
}

// OutboxStatsOptions configures the stats command.
type OutboxStatsOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// StatsCommand prints event counts per delivery status.
func (c *OutboxCLI) StatsCommand(ctx context.Context, opts OutboxStatsOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	stats, err := c.store.Stats(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "outbox stats: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		payload := map[string]int64{}
		for status, count := range stats {
			payload[string(status)] = count
		}
		if err := json.NewEncoder(stdout).Encode(payload); err != nil {
			fmt.Fprintf(stderr, "outbox stats: %v\n", err)
			return 1
		}
		return 0
	}
	for _, status := range []outbox.Status{outbox.StatusPending, outbox.StatusSent, outbox.StatusFailed, outbox.StatusDead} {
		fmt.Fprintf(stdout, "%-8s %d\n", status, stats[status])
	}
	return 0
}

// OutboxRequeueOptions configures the requeue command.
type OutboxRequeueOptions struct {
	CompanyID   int64
	IncludeDead bool
	Stdout      io.Writer
	Stderr      io.Writer
}

// RequeueCommand resets FAILED (and optionally DEAD) events to PENDING so the
// next sweep retries them.
func (c *OutboxCLI) RequeueCommand(ctx context.Context, opts OutboxRequeueOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	requeued, err := c.store.Requeue(ctx, opts.CompanyID, opts.IncludeDead)
	if err != nil {
		fmt.Fprintf(stderr, "outbox requeue: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "requeued %d event(s)\n", requeued)
	return 0
}
