package periods

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestline-dms/crestline/internal/shared"
)

type mockRepository struct {
	periods map[uuid.UUID]*Period
}

func newMockRepository() *mockRepository {
	return &mockRepository{periods: make(map[uuid.UUID]*Period)}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &mockTxRepo{mock: m})
}

type mockTxRepo struct {
	mock *mockRepository
}

func (t *mockTxRepo) GetPeriod(ctx context.Context, id uuid.UUID) (Period, error) {
	p, ok := t.mock.periods[id]
	if !ok {
		return Period{}, ErrPeriodNotFound
	}
	return *p, nil
}

func (t *mockTxRepo) GetPeriodForUpdate(ctx context.Context, id uuid.UUID) (Period, error) {
	return t.GetPeriod(ctx, id)
}

func (t *mockTxRepo) GetByYearAndNumber(ctx context.Context, fiscalYear, periodNumber int) (Period, error) {
	for _, p := range t.mock.periods {
		if p.FiscalYear == fiscalYear && p.PeriodNumber == periodNumber {
			return *p, nil
		}
	}
	return Period{}, ErrPeriodNotFound
}

func (t *mockTxRepo) FindCovering(ctx context.Context, date time.Time) (Period, error) {
	for _, p := range t.mock.periods {
		if p.Covers(date) {
			return *p, nil
		}
	}
	return Period{}, ErrPeriodNotFound
}

func (t *mockTxRepo) ListByYear(ctx context.Context, fiscalYear int) ([]Period, error) {
	var out []Period
	for _, p := range t.mock.periods {
		if p.FiscalYear == fiscalYear {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodNumber < out[j].PeriodNumber })
	return out, nil
}

func (t *mockTxRepo) ListOverlapping(ctx context.Context, start, end time.Time) ([]Period, error) {
	var out []Period
	for _, p := range t.mock.periods {
		if rangesOverlap(start, end, p.StartDate, p.EndDate) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (t *mockTxRepo) InsertPeriod(ctx context.Context, period Period) error {
	stored := period
	t.mock.periods[period.ID] = &stored
	return nil
}

func (t *mockTxRepo) SetClosed(ctx context.Context, id uuid.UUID, closed bool, closedBy string, closedAt *time.Time, updatedAt time.Time) (bool, error) {
	p, ok := t.mock.periods[id]
	if !ok || p.IsClosed == closed {
		return false, nil
	}
	p.IsClosed = closed
	p.ClosedBy = closedBy
	p.ClosedAt = closedAt
	p.UpdatedAt = updatedAt
	return true, nil
}

type stubAudit struct {
	logs []shared.AuditLog
}

func (s *stubAudit) Record(ctx context.Context, log shared.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

type stubMetrics struct {
	transitions []string
}

func (s *stubMetrics) PeriodTransition(transition string) {
	s.transitions = append(s.transitions, transition)
}

func newTestService(t *testing.T) (*Service, *mockRepository, *stubAudit, *stubMetrics) {
	t.Helper()
	repo := newMockRepository()
	audit := &stubAudit{}
	metrics := &stubMetrics{}
	service := NewService(repo, audit, metrics)
	service.WithNow(func() time.Time {
		return time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	})
	return service, repo, audit, metrics
}

func TestGenerateYearContiguous(t *testing.T) {
	service, _, _, _ := newTestService(t)
	ctx := context.Background()

	generated, err := service.GenerateYear(ctx, GenerateInput{FiscalYear: 2026, StartMonth: 1, PeriodCount: 12})
	require.NoError(t, err)
	require.Len(t, generated, 12)

	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), generated[0].StartDate)
	assert.Equal(t, time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), generated[11].EndDate)
	for i := 1; i < len(generated); i++ {
		gap := generated[i].StartDate.Sub(generated[i-1].EndDate)
		assert.Equal(t, 24*time.Hour, gap, "period %d does not start the day after period %d ends", i+1, i)
	}
	// February 2026 has 28 days.
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), generated[1].EndDate)
}

func TestGenerateYearPopulated(t *testing.T) {
	service, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.GenerateYear(ctx, GenerateInput{FiscalYear: 2026, StartMonth: 1, PeriodCount: 12})
	require.NoError(t, err)

	_, err = service.GenerateYear(ctx, GenerateInput{FiscalYear: 2026, StartMonth: 1, PeriodCount: 12})
	assert.ErrorIs(t, err, ErrYearPopulated)
}

func TestCreateRejectsOverlap(t *testing.T) {
	service, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, CreateInput{
		FiscalYear:   2026,
		PeriodNumber: 1,
		StartDate:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	_, err = service.Create(ctx, CreateInput{
		FiscalYear:   2026,
		PeriodNumber: 2,
		StartDate:    time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, ErrOverlap)
}

func TestCreateRejectsOverlapAcrossFiscalYears(t *testing.T) {
	service, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, CreateInput{
		FiscalYear:   2024,
		PeriodNumber: 12,
		StartDate:    time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	_, err = service.Create(ctx, CreateInput{
		FiscalYear:   2025,
		PeriodNumber: 1,
		StartDate:    time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, ErrOverlap)
}

func TestGenerateYearRejectsOverlapWithExistingPeriods(t *testing.T) {
	service, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.GenerateYear(ctx, GenerateInput{FiscalYear: 2025, StartMonth: 7, PeriodCount: 12})
	require.NoError(t, err)

	// FY2026 starting in January would land inside FY2025's back half.
	_, err = service.GenerateYear(ctx, GenerateInput{FiscalYear: 2026, StartMonth: 1, PeriodCount: 12})
	assert.ErrorIs(t, err, ErrOverlap)
}

func TestCreateRejectsDuplicateNumber(t *testing.T) {
	service, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, CreateInput{
		FiscalYear:   2026,
		PeriodNumber: 1,
		StartDate:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	_, err = service.Create(ctx, CreateInput{
		FiscalYear:   2026,
		PeriodNumber: 1,
		StartDate:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, ErrDuplicatePeriod)
}

func TestCurrentFindsCoveringPeriod(t *testing.T) {
	service, _, _, _ := newTestService(t)
	ctx := context.Background()

	generated, err := service.GenerateYear(ctx, GenerateInput{FiscalYear: 2026, StartMonth: 1, PeriodCount: 12})
	require.NoError(t, err)

	period, err := service.Current(ctx, time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, generated[6].ID, period.ID)
	assert.Equal(t, "2026-P7", period.Label())

	_, err = service.Current(ctx, time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCloseAndReopen(t *testing.T) {
	service, _, audit, metrics := newTestService(t)
	ctx := context.Background()

	generated, err := service.GenerateYear(ctx, GenerateInput{FiscalYear: 2026, StartMonth: 1, PeriodCount: 12})
	require.NoError(t, err)
	id := generated[0].ID

	closed, err := service.Close(ctx, id, "controller", time.Time{})
	require.NoError(t, err)
	assert.True(t, closed.IsClosed)
	assert.Equal(t, "controller", closed.ClosedBy)
	require.NotNil(t, closed.ClosedAt)

	_, err = service.Close(ctx, id, "controller", time.Time{})
	assert.ErrorIs(t, err, ErrAlreadyClosed)
	assert.ErrorIs(t, err, shared.ErrConflict)

	reopened, err := service.Reopen(ctx, id, "cfo")
	require.NoError(t, err)
	assert.False(t, reopened.IsClosed)
	assert.Nil(t, reopened.ClosedAt)
	assert.Empty(t, reopened.ClosedBy)

	_, err = service.Reopen(ctx, id, "cfo")
	assert.ErrorIs(t, err, ErrNotClosed)

	assert.Equal(t, []string{"close", "reopen"}, metrics.transitions)
	require.Len(t, audit.logs, 2)
	assert.Equal(t, "period.close", audit.logs[0].Action)
	assert.Equal(t, "period.reopen", audit.logs[1].Action)
}

func TestCloseHonoursExplicitDate(t *testing.T) {
	service, _, _, _ := newTestService(t)
	ctx := context.Background()

	generated, err := service.GenerateYear(ctx, GenerateInput{FiscalYear: 2026, StartMonth: 1, PeriodCount: 1})
	require.NoError(t, err)

	closeDate := time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)
	closed, err := service.Close(ctx, generated[0].ID, "controller", closeDate)
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, closeDate, *closed.ClosedAt)
}
