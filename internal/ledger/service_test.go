package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestline-dms/crestline/internal/coa"
	"github.com/crestline-dms/crestline/internal/periods"
	"github.com/crestline-dms/crestline/internal/shared"
)

type mockRepository struct {
	entries map[uuid.UUID]*JournalEntry
	lines   map[uuid.UUID][]JournalLine

	txError error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		entries: make(map[uuid.UUID]*JournalEntry),
		lines:   make(map[uuid.UUID][]JournalLine),
	}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.txError != nil {
		return m.txError
	}
	return fn(ctx, &mockTxRepo{mock: m})
}

type mockTxRepo struct {
	mock *mockRepository
}

func (t *mockTxRepo) GetEntry(ctx context.Context, id uuid.UUID) (JournalEntry, error) {
	e, ok := t.mock.entries[id]
	if !ok {
		return JournalEntry{}, ErrEntryNotFound
	}
	out := *e
	out.Lines = append([]JournalLine(nil), t.mock.lines[id]...)
	return out, nil
}

func (t *mockTxRepo) GetEntryForUpdate(ctx context.Context, id uuid.UUID) (JournalEntry, error) {
	return t.GetEntry(ctx, id)
}

func (t *mockTxRepo) GetEntryByNumber(ctx context.Context, number string) (JournalEntry, error) {
	for id, e := range t.mock.entries {
		if e.EntryNumber == number {
			return t.GetEntry(ctx, id)
		}
	}
	return JournalEntry{}, ErrEntryNotFound
}

func (t *mockTxRepo) CountEntriesOnDate(ctx context.Context, date time.Time) (int, error) {
	n := 0
	for _, e := range t.mock.entries {
		if e.EntryDate.Format("2006-01-02") == date.Format("2006-01-02") {
			n++
		}
	}
	return n, nil
}

func (t *mockTxRepo) HasReversal(ctx context.Context, id uuid.UUID) (bool, error) {
	for _, e := range t.mock.entries {
		if e.ReversesID != nil && *e.ReversesID == id {
			return true, nil
		}
	}
	return false, nil
}

func (t *mockTxRepo) InsertEntry(ctx context.Context, entry JournalEntry) error {
	stored := entry
	stored.Lines = nil
	t.mock.entries[entry.ID] = &stored
	return nil
}

func (t *mockTxRepo) InsertLines(ctx context.Context, entryID uuid.UUID, lines []JournalLine) error {
	t.mock.lines[entryID] = append(t.mock.lines[entryID], lines...)
	return nil
}

func (t *mockTxRepo) UpdateEntryHeader(ctx context.Context, entry JournalEntry) error {
	stored, ok := t.mock.entries[entry.ID]
	if !ok {
		return ErrEntryNotFound
	}
	stored.EntryDate = entry.EntryDate
	stored.Description = entry.Description
	stored.Reference = entry.Reference
	stored.PeriodID = entry.PeriodID
	stored.UpdatedAt = entry.UpdatedAt
	return nil
}

func (t *mockTxRepo) DeleteLines(ctx context.Context, entryID uuid.UUID) error {
	delete(t.mock.lines, entryID)
	return nil
}

func (t *mockTxRepo) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.mock.entries[id]; !ok {
		return ErrEntryNotFound
	}
	delete(t.mock.entries, id)
	return nil
}

func (t *mockTxRepo) SetPosted(ctx context.Context, id, periodID uuid.UUID, postedBy string, postedAt, updatedAt time.Time) (bool, error) {
	stored, ok := t.mock.entries[id]
	if !ok || stored.Status != EntryStatusDraft {
		return false, nil
	}
	stored.Status = EntryStatusPosted
	stored.PeriodID = periodID
	stored.PostedBy = postedBy
	at := postedAt
	stored.PostedAt = &at
	stored.UpdatedAt = updatedAt
	return true, nil
}

func (t *mockTxRepo) ListByPeriod(ctx context.Context, periodID uuid.UUID, limit, offset int) ([]JournalEntry, error) {
	var out []JournalEntry
	for id, e := range t.mock.entries {
		if e.PeriodID == periodID {
			entry, _ := t.GetEntry(ctx, id)
			out = append(out, entry)
		}
	}
	return out, nil
}

func (t *mockTxRepo) CountByPeriod(ctx context.Context, periodID uuid.UUID) (int, error) {
	list, _ := t.ListByPeriod(ctx, periodID, 0, 0)
	return len(list), nil
}

func (t *mockTxRepo) ListByDateRange(ctx context.Context, from, to time.Time, limit, offset int) ([]JournalEntry, error) {
	var out []JournalEntry
	for id, e := range t.mock.entries {
		if !e.EntryDate.Before(from) && !e.EntryDate.After(to) {
			entry, _ := t.GetEntry(ctx, id)
			out = append(out, entry)
		}
	}
	return out, nil
}

func (t *mockTxRepo) CountByDateRange(ctx context.Context, from, to time.Time) (int, error) {
	list, _ := t.ListByDateRange(ctx, from, to, 0, 0)
	return len(list), nil
}

func (t *mockTxRepo) ListByReference(ctx context.Context, reference string, limit, offset int) ([]JournalEntry, error) {
	var out []JournalEntry
	for id, e := range t.mock.entries {
		if e.Reference == reference {
			entry, _ := t.GetEntry(ctx, id)
			out = append(out, entry)
		}
	}
	return out, nil
}

func (t *mockTxRepo) CountByReference(ctx context.Context, reference string) (int, error) {
	list, _ := t.ListByReference(ctx, reference, 0, 0)
	return len(list), nil
}

type stubAccounts struct {
	accounts map[uuid.UUID]coa.Account
}

func (s *stubAccounts) Get(ctx context.Context, id uuid.UUID) (coa.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return coa.Account{}, coa.ErrAccountNotFound
	}
	return a, nil
}

type stubPeriods struct {
	periods []periods.Period
}

func (s *stubPeriods) Current(ctx context.Context, date time.Time) (periods.Period, error) {
	for _, p := range s.periods {
		if p.Covers(date) {
			return p, nil
		}
	}
	return periods.Period{}, periods.ErrPeriodNotFound
}

type stubMetrics struct {
	posted   int
	reversed int
}

func (s *stubMetrics) EntryPosted()   { s.posted++ }
func (s *stubMetrics) EntryReversed() { s.reversed++ }

type fixture struct {
	service *Service
	repo    *mockRepository
	period  *periods.Period
	metrics *stubMetrics
	cash    uuid.UUID
	revenue uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cash := uuid.New()
	revenue := uuid.New()
	accounts := &stubAccounts{accounts: map[uuid.UUID]coa.Account{
		cash:    {ID: cash, Code: "1000", Name: "Cash", Type: coa.AccountTypeAsset, IsActive: true},
		revenue: {ID: revenue, Code: "4000", Name: "New Vehicle Sales", Type: coa.AccountTypeRevenue, IsActive: true},
	}}
	period := periods.Period{
		ID:           uuid.New(),
		FiscalYear:   2026,
		PeriodNumber: 1,
		StartDate:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	periodPort := &stubPeriods{periods: []periods.Period{period}}
	repo := newMockRepository()
	metrics := &stubMetrics{}
	service := NewService(repo, accounts, periodPort, nil, metrics)
	service.WithNow(func() time.Time {
		return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	})
	return &fixture{
		service: service,
		repo:    repo,
		period:  &periodPort.periods[0],
		metrics: metrics,
		cash:    cash,
		revenue: revenue,
	}
}

func (f *fixture) balancedInput(amount string) CreateInput {
	amt := decimal.RequireFromString(amount)
	return CreateInput{
		EntryDate:   time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		Description: "Vehicle sale",
		Reference:   "DEAL-1042",
		CreatedBy:   "jsmith",
		Lines: []LineInput{
			{AccountID: f.cash, Debit: amt},
			{AccountID: f.revenue, Credit: amt},
		},
	}
}

func TestCreateEntryAssignsSequentialNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.CreateEntry(ctx, f.balancedInput("1500.00"))
	require.NoError(t, err)
	assert.Equal(t, "JE-20260115-0001", first.EntryNumber)
	assert.Equal(t, EntryStatusDraft, first.Status)
	assert.Equal(t, f.period.ID, first.PeriodID)

	second, err := f.service.CreateEntry(ctx, f.balancedInput("200.00"))
	require.NoError(t, err)
	assert.Equal(t, "JE-20260115-0002", second.EntryNumber)
}

func TestPostEntryUnbalanced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Drafts are not balance-gated; posting is.
	in := f.balancedInput("100.00")
	in.Lines[1].Credit = decimal.RequireFromString("99.99")
	entry, err := f.service.CreateEntry(ctx, in)
	require.NoError(t, err)

	_, err = f.service.PostEntry(ctx, entry.ID, time.Time{}, "controller")
	assert.ErrorIs(t, err, ErrUnbalanced)
	assert.ErrorIs(t, err, shared.ErrValidation)

	got, err := f.service.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, EntryStatusDraft, got.Status)
}

func TestPostEntryTooFewLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.balancedInput("100.00")
	in.Lines = in.Lines[:1]
	entry, err := f.service.CreateEntry(ctx, in)
	require.NoError(t, err)

	_, err = f.service.PostEntry(ctx, entry.ID, time.Time{}, "controller")
	assert.ErrorIs(t, err, ErrTooFewLines)
}

func TestAddLinesCompletesDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.balancedInput("100.00")
	in.Lines = in.Lines[:1]
	entry, err := f.service.CreateEntry(ctx, in)
	require.NoError(t, err)

	updated, err := f.service.AddLines(ctx, entry.ID, []LineInput{
		{AccountID: f.revenue, Credit: decimal.RequireFromString("100.00")},
	})
	require.NoError(t, err)
	require.Len(t, updated.Lines, 2)
	assert.Equal(t, 2, updated.Lines[1].LineNumber)

	posted, err := f.service.PostEntry(ctx, entry.ID, time.Time{}, "controller")
	require.NoError(t, err)
	assert.Equal(t, EntryStatusPosted, posted.Status)
}

func TestAddLinesPostedIsImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.service.CreateEntry(ctx, f.balancedInput("100.00"))
	require.NoError(t, err)
	_, err = f.service.PostEntry(ctx, entry.ID, time.Time{}, "controller")
	require.NoError(t, err)

	_, err = f.service.AddLines(ctx, entry.ID, []LineInput{
		{AccountID: f.cash, Debit: decimal.RequireFromString("1.00")},
	})
	assert.ErrorIs(t, err, ErrPostedImmutable)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCreateEntryRejectsTwoSidedLine(t *testing.T) {
	f := newFixture(t)

	in := f.balancedInput("100.00")
	in.Lines[0].Credit = decimal.RequireFromString("50.00")
	_, err := f.service.CreateEntry(context.Background(), in)
	assert.ErrorIs(t, err, ErrBadLineAmount)
}

func TestCreateEntryRejectsUnknownAccount(t *testing.T) {
	f := newFixture(t)

	in := f.balancedInput("100.00")
	in.Lines[0].AccountID = uuid.New()
	_, err := f.service.CreateEntry(context.Background(), in)
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestCreateEntryOutsideCalendar(t *testing.T) {
	f := newFixture(t)

	in := f.balancedInput("100.00")
	in.EntryDate = time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.service.CreateEntry(context.Background(), in)
	assert.ErrorIs(t, err, ErrNoOpenPeriod)
}

func TestPostEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.service.CreateEntry(ctx, f.balancedInput("1500.00"))
	require.NoError(t, err)

	postingDate := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)
	posted, err := f.service.PostEntry(ctx, entry.ID, postingDate, "controller")
	require.NoError(t, err)
	assert.Equal(t, EntryStatusPosted, posted.Status)
	assert.Equal(t, "controller", posted.PostedBy)
	require.NotNil(t, posted.PostedAt)
	assert.True(t, posted.PostedAt.Equal(postingDate))
	assert.Equal(t, 1, f.metrics.posted)
}

func TestPostEntryTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.service.CreateEntry(ctx, f.balancedInput("1500.00"))
	require.NoError(t, err)
	_, err = f.service.PostEntry(ctx, entry.ID, time.Time{}, "controller")
	require.NoError(t, err)

	_, err = f.service.PostEntry(ctx, entry.ID, time.Time{}, "controller")
	assert.ErrorIs(t, err, ErrAlreadyPosted)
	assert.ErrorIs(t, err, shared.ErrConflict)
	assert.Equal(t, 1, f.metrics.posted)
}

func TestPostEntryClosedPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.service.CreateEntry(ctx, f.balancedInput("1500.00"))
	require.NoError(t, err)

	f.period.IsClosed = true
	_, err = f.service.PostEntry(ctx, entry.ID, time.Time{}, "controller")
	assert.ErrorIs(t, err, ErrPeriodClosed)
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	got, err := f.service.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, EntryStatusDraft, got.Status)
}

func TestPostEntryAfterReopen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.service.CreateEntry(ctx, f.balancedInput("1500.00"))
	require.NoError(t, err)

	f.period.IsClosed = true
	_, err = f.service.PostEntry(ctx, entry.ID, time.Time{}, "controller")
	require.ErrorIs(t, err, ErrPeriodClosed)

	f.period.IsClosed = false
	posted, err := f.service.PostEntry(ctx, entry.ID, time.Time{}, "controller")
	require.NoError(t, err)
	assert.Equal(t, EntryStatusPosted, posted.Status)
}

func TestPostEntryInactiveAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.service.CreateEntry(ctx, f.balancedInput("1500.00"))
	require.NoError(t, err)

	accounts := f.service.accounts.(*stubAccounts)
	a := accounts.accounts[f.revenue]
	a.IsActive = false
	accounts.accounts[f.revenue] = a

	_, err = f.service.PostEntry(ctx, entry.ID, time.Time{}, "controller")
	assert.ErrorIs(t, err, ErrInactiveAccount)
}

func TestUpdateDraftPostedIsImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.service.CreateEntry(ctx, f.balancedInput("1500.00"))
	require.NoError(t, err)
	_, err = f.service.PostEntry(ctx, entry.ID, time.Time{}, "controller")
	require.NoError(t, err)

	_, err = f.service.UpdateDraft(ctx, entry.ID, UpdateInput{
		EntryDate:   entry.EntryDate,
		Description: "amended",
		Lines: []LineInput{
			{AccountID: f.cash, Debit: decimal.RequireFromString("1.00")},
			{AccountID: f.revenue, Credit: decimal.RequireFromString("1.00")},
		},
	})
	assert.ErrorIs(t, err, ErrPostedImmutable)

	err = f.service.DeleteDraft(ctx, entry.ID)
	assert.ErrorIs(t, err, ErrPostedImmutable)
}

func TestUpdateDraftReplacesLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.service.CreateEntry(ctx, f.balancedInput("1500.00"))
	require.NoError(t, err)

	updated, err := f.service.UpdateDraft(ctx, entry.ID, UpdateInput{
		EntryDate:   entry.EntryDate,
		Description: "corrected sale",
		Reference:   "DEAL-1042",
		Lines: []LineInput{
			{AccountID: f.cash, Debit: decimal.RequireFromString("1750.00")},
			{AccountID: f.revenue, Credit: decimal.RequireFromString("1750.00")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "corrected sale", updated.Description)
	require.Len(t, updated.Lines, 2)
	assert.True(t, updated.TotalDebit().Equal(decimal.RequireFromString("1750.00")))
}

func TestDeleteDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.service.CreateEntry(ctx, f.balancedInput("1500.00"))
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteDraft(ctx, entry.ID))
	_, err = f.service.GetEntry(ctx, entry.ID)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestReverseEntryNetsToZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.service.CreateEntry(ctx, f.balancedInput("1500.00"))
	require.NoError(t, err)
	_, err = f.service.PostEntry(ctx, entry.ID, time.Time{}, "controller")
	require.NoError(t, err)

	reversal, err := f.service.ReverseEntry(ctx, entry.ID, time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), "", "controller")
	require.NoError(t, err)

	assert.Equal(t, "R-"+entry.EntryNumber, reversal.EntryNumber)
	assert.Equal(t, "Reversal of "+entry.EntryNumber+": Vehicle sale", reversal.Description)
	assert.Equal(t, EntryStatusDraft, reversal.Status)
	require.NotNil(t, reversal.ReversesID)
	assert.Equal(t, entry.ID, *reversal.ReversesID)
	assert.Equal(t, 1, f.metrics.reversed)

	// The reversal is an ordinary draft and posts like any other entry.
	posted, err := f.service.PostEntry(ctx, reversal.ID, time.Time{}, "controller")
	require.NoError(t, err)
	assert.Equal(t, EntryStatusPosted, posted.Status)

	// Reversal swaps each line, so account-level sums cancel out.
	original, err := f.service.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	net := decimal.Zero
	for _, l := range append(original.Lines, posted.Lines...) {
		net = net.Add(l.Debit).Sub(l.Credit)
	}
	assert.True(t, net.IsZero())
}

func TestReverseEntryRequiresPosted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.service.CreateEntry(ctx, f.balancedInput("1500.00"))
	require.NoError(t, err)

	_, err = f.service.ReverseEntry(ctx, entry.ID, time.Time{}, "", "controller")
	assert.ErrorIs(t, err, ErrNotPosted)
}

func TestReverseEntryTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.service.CreateEntry(ctx, f.balancedInput("1500.00"))
	require.NoError(t, err)
	_, err = f.service.PostEntry(ctx, entry.ID, time.Time{}, "controller")
	require.NoError(t, err)
	_, err = f.service.ReverseEntry(ctx, entry.ID, time.Time{}, "", "controller")
	require.NoError(t, err)

	_, err = f.service.ReverseEntry(ctx, entry.ID, time.Time{}, "", "controller")
	assert.ErrorIs(t, err, ErrAlreadyReversed)
}

func TestListByReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateEntry(ctx, f.balancedInput("100.00"))
	require.NoError(t, err)
	other := f.balancedInput("50.00")
	other.Reference = "DEAL-2000"
	_, err = f.service.CreateEntry(ctx, other)
	require.NoError(t, err)

	entries, pagination, err := f.service.ListByReference(ctx, "DEAL-1042", 1, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 1, pagination.Total)
}

func TestListByDateRangeInverted(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.service.ListByDateRange(context.Background(),
		time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 1, 10)
	assert.ErrorIs(t, err, shared.ErrValidation)
}
