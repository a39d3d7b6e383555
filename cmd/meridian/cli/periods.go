package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/periods"
)

const dateLayout = "2006-01-02"

// PeriodsCLI manages fiscal periods from the terminal.
type PeriodsCLI struct {
	svc *periods.Service
}

// NewPeriodsCLI constructs the helper over the periods service.
func NewPeriodsCLI(svc *periods.Service) *PeriodsCLI {
	return &PeriodsCLI{svc: svc}
}

// PeriodsCreateOptions configures the create command.
type PeriodsCreateOptions struct {
	CompanyID  int64
	Code       string
	Start      string
	End        string
	ActorID    int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// CreateCommand opens a new fiscal period.
func (c *PeriodsCLI) CreateCommand(ctx context.Context, opts PeriodsCreateOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	start, err := time.Parse(dateLayout, strings.TrimSpace(opts.Start))
	if err != nil {
		fmt.Fprintf(stderr, "periods create: invalid --start %q (expected YYYY-MM-DD)\n", opts.Start)
		return 1
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(opts.End))
	if err != nil {
		fmt.Fprintf(stderr, "periods create: invalid --end %q (expected YYYY-MM-DD)\n", opts.End)
		return 1
	}
	period, err := c.svc.Create(ctx, periods.CreateInput{
		CompanyID: opts.CompanyID,
		Code:      opts.Code,
		StartDate: start,
		EndDate:   end,
		ActorID:   opts.ActorID,
	})
	if err != nil {
		fmt.Fprintf(stderr, "periods create: %v\n", err)
		return 1
	}
	return renderPeriod(stdout, stderr, period, opts.JSONOutput, "created")
}

// PeriodsTransitionOptions configures close and reopen commands.
type PeriodsTransitionOptions struct {
	CompanyID  int64
	PeriodID   int64
	ActorID    int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// CloseCommand closes an open period.
func (c *PeriodsCLI) CloseCommand(ctx context.Context, opts PeriodsTransitionOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	period, err := c.svc.Close(ctx, opts.CompanyID, opts.PeriodID, opts.ActorID)
	if err != nil {
		fmt.Fprintf(stderr, "periods close: %v\n", err)
		return 1
	}
	return renderPeriod(stdout, stderr, period, opts.JSONOutput, "closed")
}

// ReopenCommand reopens a closed period.
func (c *PeriodsCLI) ReopenCommand(ctx context.Context, opts PeriodsTransitionOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	period, err := c.svc.Reopen(ctx, opts.CompanyID, opts.PeriodID, opts.ActorID)
	if err != nil {
		fmt.Fprintf(stderr, "periods reopen: %v\n", err)
		return 1
	}
	return renderPeriod(stdout, stderr, period, opts.JSONOutput, "reopened")
}

// PeriodsListOptions configures the list command.
type PeriodsListOptions struct {
	CompanyID  int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ListCommand prints all periods of a company.
func (c *PeriodsCLI) ListCommand(ctx context.Context, opts PeriodsListOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	list, err := c.svc.List(ctx, opts.CompanyID)
	if err != nil {
		fmt.Fprintf(stderr, "periods list: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		payload := make([]periodPayload, 0, len(list))
		for _, p := range list {
			payload = append(payload, toPeriodPayload(p))
		}
		if err := json.NewEncoder(stdout).Encode(payload); err != nil {
			fmt.Fprintf(stderr, "periods list: %v\n", err)
			return 1
		}
		return 0
	}
	if len(list) == 0 {
		fmt.Fprintf(stdout, "no periods for company %d\n", opts.CompanyID)
		return 0
	}
	for _, p := range list {
		fmt.Fprintf(stdout, "%6d  %-12s %s .. %s  %s\n",
			p.ID, p.Code, p.StartDate.Format(dateLayout), p.EndDate.Format(dateLayout), p.Status)
	}
	return 0
}

type periodPayload struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	Code      string `json:"code"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Status    string `json:"status"`
	ClosedBy  *int64 `json:"closed_by,omitempty"`
	ClosedAt  string `json:"closed_at,omitempty"`
}

func toPeriodPayload(p periods.Period) periodPayload {
	payload := periodPayload{
		ID:        p.ID,
		CompanyID: p.CompanyID,
		Code:      p.Code,
		StartDate: p.StartDate.Format(dateLayout),
		EndDate:   p.EndDate.Format(dateLayout),
		Status:    string(p.Status),
		ClosedBy:  p.ClosedBy,
	}
	if p.ClosedAt != nil {
		payload.ClosedAt = p.ClosedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func renderPeriod(stdout, stderr io.Writer, p periods.Period, jsonOutput bool, verb string) int {
	if jsonOutput {
		if err := json.NewEncoder(stdout).Encode(toPeriodPayload(p)); err != nil {
			fmt.Fprintf(stderr, "periods: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(stdout, "period %d (%s) %s: %s .. %s status=%s\n",
		p.ID, p.Code, verb, p.StartDate.Format(dateLayout), p.EndDate.Format(dateLayout), p.Status)
	return 0
}

func streams(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}
