package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/meridian-erp/meridian-erp/internal/sequence"
)

// SequencesCLI seeds and inspects document number sequences.
type SequencesCLI struct {
	svc *sequence.Service
}

// NewSequencesCLI constructs the helper over the sequence service.
func NewSequencesCLI(svc *sequence.Service) *SequencesCLI {
	return &SequencesCLI{svc: svc}
}

// SequencesConfigureOptions configures the configure command.
type SequencesConfigureOptions struct {
	CompanyID  int64
	DocTypeID  int64
	PeriodID   int64
	Prefix     string
	Pad        int
	Start      int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ConfigureCommand seeds or updates one sequence row.
func (c *SequencesCLI) ConfigureCommand(ctx context.Context, opts SequencesConfigureOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	seq, err := c.svc.Configure(ctx, sequence.ConfigureInput{
		CompanyID: opts.CompanyID,
		DocTypeID: opts.DocTypeID,
		PeriodID:  opts.PeriodID,
		Prefix:    opts.Prefix,
		Pad:       opts.Pad,
		Start:     opts.Start,
	})
	if err != nil {
		fmt.Fprintf(stderr, "sequences configure: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(toSequencePayload(seq)); err != nil {
			fmt.Fprintf(stderr, "sequences configure: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(stdout, "sequence configured: next number %s\n",
		sequence.Format(seq.Prefix, seq.Pad, seq.LastValue+1))
	return 0
}

// SequencesListOptions configures the list command.
type SequencesListOptions struct {
	CompanyID  int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ListCommand prints all sequences of a company.
func (c *SequencesCLI) ListCommand(ctx context.Context, opts SequencesListOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	seqs, err := c.svc.List(ctx, opts.CompanyID)
	if err != nil {
		fmt.Fprintf(stderr, "sequences list: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		payload := make([]sequencePayload, 0, len(seqs))
		for _, seq := range seqs {
			payload = append(payload, toSequencePayload(seq))
		}
		if err := json.NewEncoder(stdout).Encode(payload); err != nil {
			fmt.Fprintf(stderr, "sequences list: %v\n", err)
			return 1
		}
		return 0
	}
	if len(seqs) == 0 {
		fmt.Fprintf(stdout, "no sequences for company %d\n", opts.CompanyID)
		return 0
	}
	for _, seq := range seqs {
		fmt.Fprintf(stdout, "doctype=%d period=%d last=%s\n",
			seq.DocTypeID, seq.PeriodID, sequence.Format(seq.Prefix, seq.Pad, seq.LastValue))
	}
	return 0
}

type sequencePayload struct {
	CompanyID int64  `json:"company_id"`
	DocTypeID int64  `json:"doc_type_id"`
	PeriodID  int64  `json:"period_id"`
	Prefix    string `json:"prefix"`
	Pad       int    `json:"pad"`
	LastValue int64  `json:"last_value"`
	Next      string `json:"next_number"`
}

func toSequencePayload(seq sequence.Sequence) sequencePayload {
	return sequencePayload{
		CompanyID: seq.CompanyID,
		DocTypeID: seq.DocTypeID,
		PeriodID:  seq.PeriodID,
		Prefix:    seq.Prefix,
		Pad:       seq.Pad,
		LastValue: seq.LastValue,
		Next:      sequence.Format(seq.Prefix, seq.Pad, seq.LastValue+1),
	}
}
