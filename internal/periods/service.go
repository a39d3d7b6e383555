package periods

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts period storage for the service.
type RepositoryPort interface {
	Create(ctx context.Context, in CreateInput) (Period, error)
	Get(ctx context.Context, companyID, periodID int64) (Period, error)
	FindByDate(ctx context.Context, companyID int64, date time.Time) (Period, error)
	List(ctx context.Context, companyID int64) ([]Period, error)
	Close(ctx context.Context, companyID, periodID, actorID int64) (Period, error)
	Reopen(ctx context.Context, companyID, periodID int64) (Period, error)
}

// Service manages the fiscal period lifecycle. Posting only ever reads the
// status column; every change to it goes through here.
type Service struct {
	repo   RepositoryPort
	audit  *shared.AuditLogger
	logger *slog.Logger
}

// NewService builds Service. audit may be nil.
func NewService(repo RepositoryPort, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// Create opens a new posting window.
func (s *Service) Create(ctx context.Context, input CreateInput) (Period, error) {
	if err := input.Validate(); err != nil {
		return Period{}, err
	}
	period, err := s.repo.Create(ctx, input)
	if err != nil {
		return Period{}, err
	}
	s.recordAudit(ctx, input.ActorID, "period.create", period, map[string]any{
		"code":  period.Code,
		"start": period.StartDate.Format("2006-01-02"),
		"end":   period.EndDate.Format("2006-01-02"),
	})
	s.logger.Info("fiscal period created",
		slog.Int64("company_id", period.CompanyID),
		slog.Int64("period_id", period.ID),
		slog.String("code", period.Code))
	return period, nil
}

// Close stops further postings into the period.
func (s *Service) Close(ctx context.Context, companyID, periodID, actorID int64) (Period, error) {
	if actorID == 0 {
		return Period{}, errors.New("periods: actor required")
	}
	period, err := s.repo.Close(ctx, companyID, periodID, actorID)
	if err != nil {
		return Period{}, err
	}
	s.recordAudit(ctx, actorID, "period.close", period, map[string]any{"code": period.Code})
	s.logger.Info("fiscal period closed",
		slog.Int64("company_id", period.CompanyID),
		slog.Int64("period_id", period.ID),
		slog.String("code", period.Code))
	return period, nil
}

// Reopen lets a closed period accept postings again.
func (s *Service) Reopen(ctx context.Context, companyID, periodID, actorID int64) (Period, error) {
	if actorID == 0 {
		return Period{}, errors.New("periods: actor required")
	}
	period, err := s.repo.Reopen(ctx, companyID, periodID)
	if err != nil {
		return Period{}, err
	}
	s.recordAudit(ctx, actorID, "period.reopen", period, map[string]any{"code": period.Code})
	s.logger.Info("fiscal period reopened",
		slog.Int64("company_id", period.CompanyID),
		slog.Int64("period_id", period.ID),
		slog.String("code", period.Code))
	return period, nil
}

// Get loads one period.
func (s *Service) Get(ctx context.Context, companyID, periodID int64) (Period, error) {
	return s.repo.Get(ctx, companyID, periodID)
}

// FindByDate returns the period covering the date.
func (s *Service) FindByDate(ctx context.Context, companyID int64, date time.Time) (Period, error) {
	return s.repo.FindByDate(ctx, companyID, date)
}

// List returns all periods of a company.
func (s *Service) List(ctx context.Context, companyID int64) ([]Period, error) {
	return s.repo.List(ctx, companyID)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, period Period, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "fiscal_period",
		EntityID: strconv.FormatInt(period.ID, 10),
		Meta:     meta,
	})
}
