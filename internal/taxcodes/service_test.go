package taxcodes

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestline-dms/crestline/internal/shared"
)

type mockRepository struct {
	codes map[uuid.UUID]*TaxCode
}

func newMockRepository() *mockRepository {
	return &mockRepository{codes: make(map[uuid.UUID]*TaxCode)}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &mockTxRepo{mock: m})
}

type mockTxRepo struct {
	mock *mockRepository
}

func (t *mockTxRepo) GetTaxCode(ctx context.Context, id uuid.UUID) (TaxCode, error) {
	tc, ok := t.mock.codes[id]
	if !ok {
		return TaxCode{}, ErrTaxCodeNotFound
	}
	return *tc, nil
}

func (t *mockTxRepo) GetTaxCodeForUpdate(ctx context.Context, id uuid.UUID) (TaxCode, error) {
	return t.GetTaxCode(ctx, id)
}

func (t *mockTxRepo) FindByCodeOn(ctx context.Context, code string, date time.Time) (TaxCode, error) {
	var best *TaxCode
	for _, tc := range t.mock.codes {
		if tc.Code != code || !tc.ActiveOn(date) {
			continue
		}
		if best == nil || tc.EffectiveDate.After(best.EffectiveDate) {
			best = tc
		}
	}
	if best == nil {
		return TaxCode{}, ErrTaxCodeNotFound
	}
	return *best, nil
}

func (t *mockTxRepo) ListTaxCodes(ctx context.Context, includeInactive bool) ([]TaxCode, error) {
	var out []TaxCode
	for _, tc := range t.mock.codes {
		if !includeInactive && !tc.IsActive {
			continue
		}
		out = append(out, *tc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *mockTxRepo) ListActiveOn(ctx context.Context, date time.Time) ([]TaxCode, error) {
	var out []TaxCode
	for _, tc := range t.mock.codes {
		if tc.ActiveOn(date) {
			out = append(out, *tc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *mockTxRepo) InsertTaxCode(ctx context.Context, tc TaxCode) error {
	for _, existing := range t.mock.codes {
		if existing.Code == tc.Code && existing.EffectiveDate.Equal(tc.EffectiveDate) {
			return ErrDuplicateCode
		}
	}
	stored := tc
	t.mock.codes[tc.ID] = &stored
	return nil
}

func (t *mockTxRepo) UpdateTaxCode(ctx context.Context, tc TaxCode) error {
	stored, ok := t.mock.codes[tc.ID]
	if !ok {
		return ErrTaxCodeNotFound
	}
	*stored = tc
	return nil
}

func (t *mockTxRepo) SetActive(ctx context.Context, id uuid.UUID, active bool, expirationDate *time.Time, updatedAt time.Time) (bool, error) {
	tc, ok := t.mock.codes[id]
	if !ok || tc.IsActive == active {
		return false, nil
	}
	tc.IsActive = active
	if expirationDate != nil {
		d := *expirationDate
		tc.ExpirationDate = &d
	}
	tc.UpdatedAt = updatedAt
	return true, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	service := NewService(newMockRepository())
	service.WithNow(func() time.Time {
		return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	})
	return service
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCreateTaxCode(t *testing.T) {
	service := newTestService(t)

	tc, err := service.Create(context.Background(), CreateInput{
		Code:          "CA-STATE",
		Name:          "California State Sales Tax",
		Rate:          decimal.RequireFromString("0.0725"),
		EffectiveDate: date(2025, time.January, 1),
	})
	require.NoError(t, err)
	assert.True(t, tc.IsActive)
	assert.True(t, tc.ActiveOn(date(2026, time.March, 10)))
}

func TestCreateTaxCodeRejectsBadWindow(t *testing.T) {
	service := newTestService(t)

	exp := date(2024, time.December, 31)
	_, err := service.Create(context.Background(), CreateInput{
		Code:           "CA-STATE",
		Name:           "California State Sales Tax",
		Rate:           decimal.RequireFromString("0.0725"),
		EffectiveDate:  date(2025, time.January, 1),
		ExpirationDate: &exp,
	})
	assert.ErrorIs(t, err, ErrBadWindow)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestGetByCodePicksRowEffectiveOnDate(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	oldExp := date(2025, time.December, 31)
	_, err := service.Create(ctx, CreateInput{
		Code:           "CA-STATE",
		Name:           "California State Sales Tax",
		Rate:           decimal.RequireFromString("0.0725"),
		EffectiveDate:  date(2020, time.January, 1),
		ExpirationDate: &oldExp,
	})
	require.NoError(t, err)
	_, err = service.Create(ctx, CreateInput{
		Code:          "CA-STATE",
		Name:          "California State Sales Tax",
		Rate:          decimal.RequireFromString("0.0775"),
		EffectiveDate: date(2026, time.January, 1),
	})
	require.NoError(t, err)

	past, err := service.GetByCode(ctx, "CA-STATE", date(2025, time.June, 15))
	require.NoError(t, err)
	assert.True(t, past.Rate.Equal(decimal.RequireFromString("0.0725")))

	current, err := service.GetByCode(ctx, "CA-STATE", time.Time{})
	require.NoError(t, err)
	assert.True(t, current.Rate.Equal(decimal.RequireFromString("0.0775")))
}

func TestGetByCodeOutsideWindow(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, CreateInput{
		Code:          "NV-STATE",
		Name:          "Nevada State Sales Tax",
		Rate:          decimal.RequireFromString("0.0685"),
		EffectiveDate: date(2026, time.July, 1),
	})
	require.NoError(t, err)

	_, err = service.GetByCode(ctx, "NV-STATE", date(2026, time.June, 30))
	assert.ErrorIs(t, err, ErrTaxCodeNotFound)
}

func TestActiveOnWindowEdges(t *testing.T) {
	exp := date(2026, time.June, 30)
	tc := TaxCode{
		Code:           "DOC-FEE",
		IsActive:       true,
		EffectiveDate:  date(2026, time.January, 1),
		ExpirationDate: &exp,
	}

	assert.False(t, tc.ActiveOn(date(2025, time.December, 31)))
	assert.True(t, tc.ActiveOn(date(2026, time.January, 1)))
	assert.True(t, tc.ActiveOn(date(2026, time.June, 30)))
	assert.False(t, tc.ActiveOn(date(2026, time.July, 1)))
}

func TestDeactivateStampsExpiration(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	tc, err := service.Create(ctx, CreateInput{
		Code:          "CO-STATE",
		Name:          "Colorado State Sales Tax",
		Rate:          decimal.RequireFromString("0.029"),
		EffectiveDate: date(2025, time.January, 1),
	})
	require.NoError(t, err)

	exp := date(2026, time.March, 31)
	retired, err := service.Deactivate(ctx, tc.ID, &exp)
	require.NoError(t, err)
	assert.False(t, retired.IsActive)
	require.NotNil(t, retired.ExpirationDate)
	assert.True(t, retired.ExpirationDate.Equal(exp))

	_, err = service.Deactivate(ctx, tc.ID, nil)
	assert.ErrorIs(t, err, ErrAlreadyInactive)
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestDeactivatedCodeResolvesInsideStampedWindow(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	tc, err := service.Create(ctx, CreateInput{
		Code:          "CA-STATE",
		Name:          "California State Sales Tax",
		Rate:          decimal.RequireFromString("0.0725"),
		EffectiveDate: date(2024, time.January, 1),
	})
	require.NoError(t, err)

	exp := date(2024, time.June, 30)
	_, err = service.Deactivate(ctx, tc.ID, &exp)
	require.NoError(t, err)

	// Deactivation ends the window; dates inside it still resolve.
	active, err := service.ListActiveOn(ctx, date(2024, time.May, 1))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "CA-STATE", active[0].Code)

	found, err := service.GetByCode(ctx, "CA-STATE", date(2024, time.May, 1))
	require.NoError(t, err)
	assert.True(t, found.Rate.Equal(decimal.RequireFromString("0.0725")))

	after, err := service.ListActiveOn(ctx, date(2024, time.July, 1))
	require.NoError(t, err)
	assert.Empty(t, after)

	_, err = service.GetByCode(ctx, "CA-STATE", date(2024, time.July, 1))
	assert.ErrorIs(t, err, ErrTaxCodeNotFound)
}

func TestDeactivateRejectsExpirationBeforeEffective(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	tc, err := service.Create(ctx, CreateInput{
		Code:          "CO-STATE",
		Name:          "Colorado State Sales Tax",
		Rate:          decimal.RequireFromString("0.029"),
		EffectiveDate: date(2025, time.January, 1),
	})
	require.NoError(t, err)

	exp := date(2024, time.June, 1)
	_, err = service.Deactivate(ctx, tc.ID, &exp)
	assert.ErrorIs(t, err, ErrBadWindow)
}

func TestActivateRestoresRetiredCode(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	tc, err := service.Create(ctx, CreateInput{
		Code:          "UT-STATE",
		Name:          "Utah State Sales Tax",
		Rate:          decimal.RequireFromString("0.0485"),
		EffectiveDate: date(2025, time.January, 1),
	})
	require.NoError(t, err)

	_, err = service.Activate(ctx, tc.ID)
	assert.ErrorIs(t, err, ErrAlreadyActive)

	_, err = service.Deactivate(ctx, tc.ID, nil)
	require.NoError(t, err)
	restored, err := service.Activate(ctx, tc.ID)
	require.NoError(t, err)
	assert.True(t, restored.IsActive)
}

func TestUpdateKeepsRateAndWindow(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	tc, err := service.Create(ctx, CreateInput{
		Code:          "AZ-STATE",
		Name:          "Arizona TPT",
		Rate:          decimal.RequireFromString("0.056"),
		EffectiveDate: date(2025, time.January, 1),
	})
	require.NoError(t, err)

	updated, err := service.Update(ctx, tc.ID, UpdateInput{
		Name:        "Arizona Transaction Privilege Tax",
		Description: "State-level TPT",
	})
	require.NoError(t, err)
	assert.Equal(t, "Arizona Transaction Privilege Tax", updated.Name)
	assert.True(t, updated.Rate.Equal(tc.Rate))
	assert.True(t, updated.EffectiveDate.Equal(tc.EffectiveDate))
}

func TestListActiveOnSkipsRetiredAndFutureCodes(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, CreateInput{
		Code:          "CA-STATE",
		Name:          "California State Sales Tax",
		Rate:          decimal.RequireFromString("0.0725"),
		EffectiveDate: date(2025, time.January, 1),
	})
	require.NoError(t, err)
	_, err = service.Create(ctx, CreateInput{
		Code:          "CA-DISTRICT",
		Name:          "District Add-On",
		Rate:          decimal.RequireFromString("0.01"),
		EffectiveDate: date(2026, time.July, 1),
	})
	require.NoError(t, err)
	retired, err := service.Create(ctx, CreateInput{
		Code:          "LUX-SURCHARGE",
		Name:          "Luxury Surcharge",
		Rate:          decimal.RequireFromString("0.02"),
		EffectiveDate: date(2024, time.January, 1),
	})
	require.NoError(t, err)
	_, err = service.Deactivate(ctx, retired.ID, nil)
	require.NoError(t, err)

	active, err := service.ListActiveOn(ctx, date(2026, time.March, 10))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "CA-STATE", active[0].Code)

	all, err := service.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	onlyActive, err := service.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, onlyActive, 2)
}

func TestCreateDuplicateCodeAndDateConflicts(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	in := CreateInput{
		Code:          "CA-STATE",
		Name:          "California State Sales Tax",
		Rate:          decimal.RequireFromString("0.0725"),
		EffectiveDate: date(2025, time.January, 1),
	}
	_, err := service.Create(ctx, in)
	require.NoError(t, err)
	_, err = service.Create(ctx, in)
	assert.ErrorIs(t, err, ErrDuplicateCode)
	assert.ErrorIs(t, err, shared.ErrConflict)
}
