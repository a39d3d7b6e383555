package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/periods"
)

type stubPeriodRepo struct {
	nextID int64
	stored map[int64]periods.Period
}

func newStubPeriodRepo() *stubPeriodRepo {
	return &stubPeriodRepo{stored: map[int64]periods.Period{}}
}

func (s *stubPeriodRepo) Create(ctx context.Context, in periods.CreateInput) (periods.Period, error) {
	s.nextID++
	p := periods.Period{
		ID:        s.nextID,
		CompanyID: in.CompanyID,
		Code:      strings.TrimSpace(in.Code),
		StartDate: in.StartDate,
		EndDate:   in.EndDate,
		Status:    periods.StatusOpen,
	}
	s.stored[p.ID] = p
	return p, nil
}

func (s *stubPeriodRepo) Get(ctx context.Context, companyID, periodID int64) (periods.Period, error) {
	p, ok := s.stored[periodID]
	if !ok || p.CompanyID != companyID {
		return periods.Period{}, periods.ErrNotFound
	}
	return p, nil
}

func (s *stubPeriodRepo) FindByDate(ctx context.Context, companyID int64, date time.Time) (periods.Period, error) {
	for _, p := range s.stored {
		if p.CompanyID == companyID && !date.Before(p.StartDate) && !date.After(p.EndDate) {
			return p, nil
		}
	}
	return periods.Period{}, periods.ErrNotFound
}

func (s *stubPeriodRepo) List(ctx context.Context, companyID int64) ([]periods.Period, error) {
	out := []periods.Period{}
	for _, p := range s.stored {
		if p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (s *stubPeriodRepo) Close(ctx context.Context, companyID, periodID, actorID int64) (periods.Period, error) {
	p, err := s.Get(ctx, companyID, periodID)
	if err != nil {
		return periods.Period{}, err
	}
	if p.Status == periods.StatusClosed {
		return periods.Period{}, periods.ErrAlreadyClosed
	}
	now := time.Now()
	p.Status = periods.StatusClosed
	p.ClosedBy = &actorID
	p.ClosedAt = &now
	s.stored[periodID] = p
	return p, nil
}

func (s *stubPeriodRepo) Reopen(ctx context.Context, companyID, periodID int64) (periods.Period, error) {
	p, err := s.Get(ctx, companyID, periodID)
	if err != nil {
		return periods.Period{}, err
	}
	if p.Status == periods.StatusOpen {
		return periods.Period{}, periods.ErrAlreadyOpen
	}
	p.Status = periods.StatusOpen
	p.ClosedBy = nil
	p.ClosedAt = nil
	s.stored[periodID] = p
	return p, nil
}

func newPeriodsCLIForTest(repo periods.RepositoryPort) *PeriodsCLI {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPeriodsCLI(periods.NewService(repo, nil, logger))
}

func TestPeriodsCreateCommandJSON(t *testing.T) {
	pcli := newPeriodsCLIForTest(newStubPeriodRepo())

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := pcli.CreateCommand(context.Background(), PeriodsCreateOptions{
		CompanyID:  1,
		Code:       "2025-06",
		Start:      "2025-06-01",
		End:        "2025-06-30",
		ActorID:    7,
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Zero(t, exitCode)
	require.Empty(t, stderr.String())

	var payload periodPayload
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &payload))
	require.Equal(t, "2025-06", payload.Code)
	require.Equal(t, "2025-06-01", payload.StartDate)
	require.Equal(t, "2025-06-30", payload.EndDate)
	require.Equal(t, string(periods.StatusOpen), payload.Status)
	require.Empty(t, payload.ClosedAt)
}

func TestPeriodsCreateCommandRejectsBadDate(t *testing.T) {
	pcli := newPeriodsCLIForTest(newStubPeriodRepo())

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := pcli.CreateCommand(context.Background(), PeriodsCreateOptions{
		CompanyID: 1,
		Code:      "2025-06",
		Start:     "June 1st",
		End:       "2025-06-30",
		ActorID:   7,
		Stdout:    stdout,
		Stderr:    stderr,
	})
	require.Equal(t, 1, exitCode)
	require.Empty(t, stdout.String())
	require.Contains(t, stderr.String(), "invalid --start")
}

func TestPeriodsCloseCommandReportsConflict(t *testing.T) {
	repo := newStubPeriodRepo()
	pcli := newPeriodsCLIForTest(repo)

	ctx := context.Background()
	seeded, err := repo.Create(ctx, periods.CreateInput{
		CompanyID: 1,
		Code:      "2025-06",
		StartDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	opts := PeriodsTransitionOptions{
		CompanyID: 1,
		PeriodID:  seeded.ID,
		ActorID:   7,
		Stdout:    new(bytes.Buffer),
		Stderr:    new(bytes.Buffer),
	}
	require.Zero(t, pcli.CloseCommand(ctx, opts))

	stderr := new(bytes.Buffer)
	opts.Stderr = stderr
	exitCode := pcli.CloseCommand(ctx, opts)
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), periods.ErrAlreadyClosed.Error())
}

func TestPeriodsListCommandTable(t *testing.T) {
	repo := newStubPeriodRepo()
	pcli := newPeriodsCLIForTest(repo)

	ctx := context.Background()
	_, err := repo.Create(ctx, periods.CreateInput{
		CompanyID: 1,
		Code:      "2025-06",
		StartDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	exitCode := pcli.ListCommand(ctx, PeriodsListOptions{
		CompanyID: 1,
		Stdout:    stdout,
		Stderr:    new(bytes.Buffer),
	})
	require.Zero(t, exitCode)
	require.Contains(t, stdout.String(), "2025-06")
	require.Contains(t, stdout.String(), "2025-06-01 .. 2025-06-30")
	require.Contains(t, stdout.String(), string(periods.StatusOpen))

	empty := new(bytes.Buffer)
	require.Zero(t, pcli.ListCommand(ctx, PeriodsListOptions{CompanyID: 99, Stdout: empty, Stderr: new(bytes.Buffer)}))
	require.Contains(t, empty.String(), "no periods for company 99")
}
