package budgets

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
	budgets map[uuid.UUID]*Budget
	lines   map[uuid.UUID][]BudgetLine
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		budgets: make(map[uuid.UUID]*Budget),
		lines:   make(map[uuid.UUID][]BudgetLine),
	}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &mockTxRepo{mock: m})
}

type mockTxRepo struct {
	mock *mockRepository
}

func (t *mockTxRepo) GetBudget(ctx context.Context, id uuid.UUID) (Budget, error) {
	b, ok := t.mock.budgets[id]
	if !ok {
		return Budget{}, ErrBudgetNotFound
	}
	out := *b
	out.Lines = append([]BudgetLine(nil), t.mock.lines[id]...)
	return out, nil
}

func (t *mockTxRepo) GetBudgetForUpdate(ctx context.Context, id uuid.UUID) (Budget, error) {
	return t.GetBudget(ctx, id)
}

func (t *mockTxRepo) ListByYear(ctx context.Context, fiscalYear int) ([]Budget, error) {
	var out []Budget
	for id, b := range t.mock.budgets {
		if b.FiscalYear == fiscalYear {
			budget, _ := t.GetBudget(ctx, id)
			out = append(out, budget)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *mockTxRepo) InsertBudget(ctx context.Context, budget Budget) error {
	stored := budget
	stored.Lines = nil
	t.mock.budgets[budget.ID] = &stored
	return nil
}

func (t *mockTxRepo) UpdateBudgetHeader(ctx context.Context, budget Budget) error {
	stored, ok := t.mock.budgets[budget.ID]
	if !ok {
		return ErrBudgetNotFound
	}
	stored.Name = budget.Name
	stored.Description = budget.Description
	stored.UpdatedAt = budget.UpdatedAt
	return nil
}

func (t *mockTxRepo) InsertLines(ctx context.Context, budgetID uuid.UUID, lines []BudgetLine) error {
	t.mock.lines[budgetID] = append(t.mock.lines[budgetID], lines...)
	return nil
}

func (t *mockTxRepo) DeleteLines(ctx context.Context, budgetID uuid.UUID) error {
	delete(t.mock.lines, budgetID)
	return nil
}

func (t *mockTxRepo) DeleteBudget(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.mock.budgets[id]; !ok {
		return ErrBudgetNotFound
	}
	delete(t.mock.budgets, id)
	return nil
}

func (t *mockTxRepo) SetApproved(ctx context.Context, id uuid.UUID, approvedBy string, approvedAt, updatedAt time.Time) (bool, error) {
	b, ok := t.mock.budgets[id]
	if !ok || b.IsApproved {
		return false, nil
	}
	b.IsApproved = true
	b.ApprovedBy = approvedBy
	at := approvedAt
	b.ApprovedAt = &at
	b.UpdatedAt = updatedAt
	return true, nil
}

type stubAudit struct {
	logs []shared.AuditLog
}

func (s *stubAudit) Record(ctx context.Context, log shared.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

func newTestService(t *testing.T) (*Service, *stubAudit) {
	t.Helper()
	audit := &stubAudit{}
	service := NewService(newMockRepository(), audit)
	service.WithNow(func() time.Time {
		return time.Date(2025, 11, 1, 8, 0, 0, 0, time.UTC)
	})
	return service, audit
}

func planInput() CreateInput {
	return CreateInput{
		FiscalYear:  2026,
		Name:        "Operating Plan",
		Description: "Store-wide operating budget",
		Lines: []LineInput{
			{AccountID: uuid.New(), PlannedAmount: decimal.RequireFromString("250000.00")},
			{AccountID: uuid.New(), PlannedAmount: decimal.RequireFromString("90000.00")},
		},
	}
}

func TestCreateBudget(t *testing.T) {
	service, _ := newTestService(t)

	budget, err := service.Create(context.Background(), planInput())
	require.NoError(t, err)
	assert.False(t, budget.IsApproved)
	require.Len(t, budget.Lines, 2)
	assert.True(t, budget.TotalPlanned().Equal(decimal.RequireFromString("340000.00")))
}

func TestCreateBudgetRejectsNegativeAmount(t *testing.T) {
	service, _ := newTestService(t)

	in := planInput()
	in.Lines[0].PlannedAmount = decimal.RequireFromString("-1.00")
	_, err := service.Create(context.Background(), in)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestApproveBudget(t *testing.T) {
	service, audit := newTestService(t)
	ctx := context.Background()

	budget, err := service.Create(ctx, planInput())
	require.NoError(t, err)

	approved, err := service.Approve(ctx, budget.ID, time.Time{}, "cfo")
	require.NoError(t, err)
	assert.True(t, approved.IsApproved)
	assert.Equal(t, "cfo", approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	require.Len(t, audit.logs, 1)
	assert.Equal(t, "budget.approve", audit.logs[0].Action)
	assert.Equal(t, "cfo", audit.logs[0].Actor)
}

func TestApproveBudgetHonoursExplicitDate(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	budget, err := service.Create(ctx, planInput())
	require.NoError(t, err)

	approvalDate := time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC)
	approved, err := service.Approve(ctx, budget.ID, approvalDate, "cfo")
	require.NoError(t, err)
	require.NotNil(t, approved.ApprovedAt)
	assert.True(t, approved.ApprovedAt.Equal(approvalDate))
}

func TestApproveBudgetTwiceConflicts(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	budget, err := service.Create(ctx, planInput())
	require.NoError(t, err)
	_, err = service.Approve(ctx, budget.ID, time.Time{}, "cfo")
	require.NoError(t, err)

	_, err = service.Approve(ctx, budget.ID, time.Time{}, "cfo")
	assert.ErrorIs(t, err, ErrAlreadyApproved)
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestApprovedBudgetIsLocked(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	budget, err := service.Create(ctx, planInput())
	require.NoError(t, err)
	_, err = service.Approve(ctx, budget.ID, time.Time{}, "cfo")
	require.NoError(t, err)

	_, err = service.Update(ctx, budget.ID, UpdateInput{Name: "Revised Plan"})
	assert.ErrorIs(t, err, ErrBudgetLocked)

	err = service.Delete(ctx, budget.ID)
	assert.ErrorIs(t, err, ErrBudgetLocked)
}

func TestUpdateBudgetReplacesLines(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	budget, err := service.Create(ctx, planInput())
	require.NoError(t, err)

	updated, err := service.Update(ctx, budget.ID, UpdateInput{
		Name: "Operating Plan v2",
		Lines: []LineInput{
			{AccountID: uuid.New(), PlannedAmount: decimal.RequireFromString("100000.00")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Operating Plan v2", updated.Name)
	require.Len(t, updated.Lines, 1)
	assert.True(t, updated.TotalPlanned().Equal(decimal.RequireFromString("100000.00")))
}

func TestDeleteBudget(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	budget, err := service.Create(ctx, planInput())
	require.NoError(t, err)

	require.NoError(t, service.Delete(ctx, budget.ID))
	_, err = service.Get(ctx, budget.ID)
	assert.ErrorIs(t, err, ErrBudgetNotFound)
}

func TestListByYear(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, planInput())
	require.NoError(t, err)
	other := planInput()
	other.FiscalYear = 2027
	other.Name = "Next Year Plan"
	_, err = service.Create(ctx, other)
	require.NoError(t, err)

	list, err := service.ListByYear(ctx, 2026)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Operating Plan", list[0].Name)
}
