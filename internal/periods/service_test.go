package periods

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memRepo keeps periods in a map and enforces the same overlap and
// transition rules as the SQL repository.
type memRepo struct {
	mu      sync.Mutex
	nextID  int64
	periods map[int64]Period
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1, periods: map[int64]Period{}}
}

func (r *memRepo) Create(_ context.Context, in CreateInput) (Period, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.periods {
		if p.CompanyID == in.CompanyID && !p.StartDate.After(in.EndDate) && !p.EndDate.Before(in.StartDate) {
			return Period{}, ErrOverlap
		}
	}
	now := time.Now().UTC()
	p := Period{
		ID:        r.nextID,
		CompanyID: in.CompanyID,
		Code:      in.Code,
		StartDate: in.StartDate,
		EndDate:   in.EndDate,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.nextID++
	r.periods[p.ID] = p
	return p, nil
}

func (r *memRepo) Get(_ context.Context, companyID, periodID int64) (Period, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.periods[periodID]
	if !ok || p.CompanyID != companyID {
		return Period{}, ErrNotFound
	}
	return p, nil
}

func (r *memRepo) FindByDate(_ context.Context, companyID int64, date time.Time) (Period, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.periods {
		if p.CompanyID == companyID && !date.Before(p.StartDate) && !date.After(p.EndDate) {
			return p, nil
		}
	}
	return Period{}, ErrNotFound
}

func (r *memRepo) List(_ context.Context, companyID int64) ([]Period, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Period{}
	for _, p := range r.periods {
		if p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memRepo) Close(_ context.Context, companyID, periodID, actorID int64) (Period, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.periods[periodID]
	if !ok || p.CompanyID != companyID {
		return Period{}, ErrNotFound
	}
	if p.Status == StatusClosed {
		return Period{}, ErrAlreadyClosed
	}
	at := time.Now().UTC()
	p.Status = StatusClosed
	p.ClosedBy = &actorID
	p.ClosedAt = &at
	p.UpdatedAt = at
	r.periods[p.ID] = p
	return p, nil
}

func (r *memRepo) Reopen(_ context.Context, companyID, periodID int64) (Period, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.periods[periodID]
	if !ok || p.CompanyID != companyID {
		return Period{}, ErrNotFound
	}
	if p.Status == StatusOpen {
		return Period{}, ErrAlreadyOpen
	}
	p.Status = StatusOpen
	p.ClosedBy = nil
	p.ClosedAt = nil
	p.UpdatedAt = time.Now().UTC()
	r.periods[p.ID] = p
	return p, nil
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func testService(repo RepositoryPort) *Service {
	return NewService(repo, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func june(companyID int64) CreateInput {
	return CreateInput{
		CompanyID: companyID,
		Code:      "2025-06",
		StartDate: day(2025, time.June, 1),
		EndDate:   day(2025, time.June, 30),
		ActorID:   7,
	}
}

func TestCreateInputValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"missing company", func(in *CreateInput) { in.CompanyID = 0 }},
		{"blank code", func(in *CreateInput) { in.Code = "   " }},
		{"missing start", func(in *CreateInput) { in.StartDate = time.Time{} }},
		{"missing end", func(in *CreateInput) { in.EndDate = time.Time{} }},
		{"start after end", func(in *CreateInput) {
			in.StartDate = day(2025, time.July, 1)
			in.EndDate = day(2025, time.June, 1)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := june(1)
			tc.mutate(&in)
			require.Error(t, in.Validate())
		})
	}
	require.NoError(t, june(1).Validate())
}

func TestCreateRejectsOverlap(t *testing.T) {
	svc := testService(newMemRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, june(1))
	require.NoError(t, err)

	overlapping := CreateInput{
		CompanyID: 1,
		Code:      "2025-06B",
		StartDate: day(2025, time.June, 15),
		EndDate:   day(2025, time.July, 15),
		ActorID:   7,
	}
	_, err = svc.Create(ctx, overlapping)
	require.ErrorIs(t, err, ErrOverlap)

	adjacent := CreateInput{
		CompanyID: 1,
		Code:      "2025-07",
		StartDate: day(2025, time.July, 1),
		EndDate:   day(2025, time.July, 31),
		ActorID:   7,
	}
	_, err = svc.Create(ctx, adjacent)
	require.NoError(t, err)
}

func TestOverlapScopedToCompany(t *testing.T) {
	svc := testService(newMemRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, june(1))
	require.NoError(t, err)

	_, err = svc.Create(ctx, june(2))
	require.NoError(t, err)
}

func TestCloseThenReopenLifecycle(t *testing.T) {
	svc := testService(newMemRepo())
	ctx := context.Background()

	created, err := svc.Create(ctx, june(1))
	require.NoError(t, err)
	require.Equal(t, StatusOpen, created.Status)

	closed, err := svc.Close(ctx, 1, created.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedBy)
	require.EqualValues(t, 7, *closed.ClosedBy)
	require.NotNil(t, closed.ClosedAt)

	_, err = svc.Close(ctx, 1, created.ID, 7)
	require.ErrorIs(t, err, ErrAlreadyClosed)

	reopened, err := svc.Reopen(ctx, 1, created.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, reopened.Status)
	require.Nil(t, reopened.ClosedBy)
	require.Nil(t, reopened.ClosedAt)

	_, err = svc.Reopen(ctx, 1, created.ID, 7)
	require.ErrorIs(t, err, ErrAlreadyOpen)
}

func TestTransitionsRequireActor(t *testing.T) {
	svc := testService(newMemRepo())
	ctx := context.Background()

	created, err := svc.Create(ctx, june(1))
	require.NoError(t, err)

	_, err = svc.Close(ctx, 1, created.ID, 0)
	require.Error(t, err)

	_, err = svc.Reopen(ctx, 1, created.ID, 0)
	require.Error(t, err)
}

func TestTransitionsScopedToCompany(t *testing.T) {
	svc := testService(newMemRepo())
	ctx := context.Background()

	created, err := svc.Create(ctx, june(1))
	require.NoError(t, err)

	_, err = svc.Close(ctx, 2, created.ID, 7)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := svc.Get(ctx, 1, created.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, got.Status)
}

func TestFindByDate(t *testing.T) {
	svc := testService(newMemRepo())
	ctx := context.Background()

	created, err := svc.Create(ctx, june(1))
	require.NoError(t, err)

	got, err := svc.FindByDate(ctx, 1, day(2025, time.June, 15))
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)

	_, err = svc.FindByDate(ctx, 1, day(2025, time.August, 1))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateValidatesBeforeStorage(t *testing.T) {
	repo := newMemRepo()
	svc := testService(repo)

	in := june(1)
	in.Code = ""
	_, err := svc.Create(context.Background(), in)
	require.Error(t, err)
	require.Empty(t, repo.periods)
}
