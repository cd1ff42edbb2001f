package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crestline-dms/crestline/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes operations available within a transaction.
type TxRepository interface {
	GetPeriod(ctx context.Context, id uuid.UUID) (Period, error)
	GetPeriodForUpdate(ctx context.Context, id uuid.UUID) (Period, error)
	GetByYearAndNumber(ctx context.Context, fiscalYear, periodNumber int) (Period, error)
	FindCovering(ctx context.Context, date time.Time) (Period, error)
	ListByYear(ctx context.Context, fiscalYear int) ([]Period, error)
	// ListOverlapping returns every period whose range intersects
	// [start, end], regardless of fiscal year.
	ListOverlapping(ctx context.Context, start, end time.Time) ([]Period, error)
	InsertPeriod(ctx context.Context, period Period) error
	// SetClosed flips the closed flag only when the stored value differs;
	// it reports false when the compare-and-set matched no row.
	SetClosed(ctx context.Context, id uuid.UUID, closed bool, closedBy string, closedAt *time.Time, updatedAt time.Time) (bool, error)
}

// AuditPort records period lifecycle events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort surfaces close/reopen counters.
type MetricsPort interface {
	PeriodTransition(transition string)
}

// Service owns the fiscal calendar lifecycle.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
	now     func() time.Time
}

// NewService constructs the period service.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create inserts a single period after uniqueness and overlap checks.
func (s *Service) Create(ctx context.Context, in CreateInput) (Period, error) {
	if err := in.Validate(); err != nil {
		return Period{}, err
	}
	ts := s.now()
	period := Period{
		ID:           uuid.New(),
		FiscalYear:   in.FiscalYear,
		PeriodNumber: in.PeriodNumber,
		StartDate:    in.StartDate,
		EndDate:      in.EndDate,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetByYearAndNumber(ctx, in.FiscalYear, in.PeriodNumber); err == nil {
			return fmt.Errorf("%w: %d-P%d", ErrDuplicatePeriod, in.FiscalYear, in.PeriodNumber)
		} else if !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		// Coverage is global: a period from another fiscal year must not
		// claim the same dates.
		overlapping, err := tx.ListOverlapping(ctx, in.StartDate, in.EndDate)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return fmt.Errorf("%w: collides with %s", ErrOverlap, overlapping[0].Label())
		}
		return tx.InsertPeriod(ctx, period)
	})
	if err != nil {
		return Period{}, err
	}
	return period, nil
}

// GenerateYear creates contiguous monthly periods for a fiscal year. The year
// must be empty; partial generation is never left behind.
func (s *Service) GenerateYear(ctx context.Context, in GenerateInput) ([]Period, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	ts := s.now()
	var generated []Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.ListByYear(ctx, in.FiscalYear)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: year %d", ErrYearPopulated, in.FiscalYear)
		}
		start := time.Date(in.FiscalYear, time.Month(in.StartMonth), 1, 0, 0, 0, 0, time.UTC)
		spanEnd := start.AddDate(0, in.PeriodCount, -1)
		overlapping, err := tx.ListOverlapping(ctx, start, spanEnd)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return fmt.Errorf("%w: collides with %s", ErrOverlap, overlapping[0].Label())
		}
		for i := 1; i <= in.PeriodCount; i++ {
			end := start.AddDate(0, 1, -1)
			period := Period{
				ID:           uuid.New(),
				FiscalYear:   in.FiscalYear,
				PeriodNumber: i,
				StartDate:    start,
				EndDate:      end,
				CreatedAt:    ts,
				UpdatedAt:    ts,
			}
			if err := tx.InsertPeriod(ctx, period); err != nil {
				return err
			}
			generated = append(generated, period)
			start = end.AddDate(0, 0, 1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return generated, nil
}

// Get loads one period by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Period, error) {
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		period, err = tx.GetPeriod(ctx, id)
		return err
	})
	return period, err
}

// ListByYear returns a fiscal year's periods ordered by period number.
func (s *Service) ListByYear(ctx context.Context, fiscalYear int) ([]Period, error) {
	var list []Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		list, err = tx.ListByYear(ctx, fiscalYear)
		return err
	})
	return list, err
}

// Current returns the single period covering the supplied date. There is no
// cached "current period"; coverage is always computed from stored ranges.
func (s *Service) Current(ctx context.Context, date time.Time) (Period, error) {
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		period, err = tx.FindCovering(ctx, date)
		return err
	})
	return period, err
}

// Close marks a period closed. Entries already posted into the period are
// untouched; only future postings are blocked.
func (s *Service) Close(ctx context.Context, id uuid.UUID, closedBy string, closeDate time.Time) (Period, error) {
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPeriodForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.IsClosed {
			return fmt.Errorf("%w: %s", ErrAlreadyClosed, current.Label())
		}
		closedAt := closeDate
		if closedAt.IsZero() {
			closedAt = s.now()
		}
		ok, err := tx.SetClosed(ctx, id, true, closedBy, &closedAt, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrAlreadyClosed, current.Label())
		}
		period = current
		period.IsClosed = true
		period.ClosedAt = &closedAt
		period.ClosedBy = closedBy
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	s.recordTransition(ctx, "close", period, closedBy)
	return period, nil
}

// Reopen administratively reverts a close.
func (s *Service) Reopen(ctx context.Context, id uuid.UUID, reopenedBy string) (Period, error) {
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPeriodForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !current.IsClosed {
			return fmt.Errorf("%w: %s", ErrNotClosed, current.Label())
		}
		ok, err := tx.SetClosed(ctx, id, false, "", nil, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotClosed, current.Label())
		}
		period = current
		period.IsClosed = false
		period.ClosedAt = nil
		period.ClosedBy = ""
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	s.recordTransition(ctx, "reopen", period, reopenedBy)
	return period, nil
}

func (s *Service) recordTransition(ctx context.Context, transition string, period Period, actor string) {
	if s.metrics != nil {
		s.metrics.PeriodTransition(transition)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "period." + transition,
			Entity:   "financial_period",
			EntityID: period.ID.String(),
			Meta:     map[string]any{"label": period.Label()},
			At:       s.now(),
		})
	}
}

func rangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}
