package budgets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/crestline-dms/crestline/internal/platform/db"
)

// Repository persists budgets in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errNilRepo
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

const budgetColumns = `id, fiscal_year, name, description, is_approved, approved_by, approved_at, created_at, updated_at`

const budgetLineColumns = `id, budget_id, account_id, period_number, planned_amount::text, notes`

func scanBudget(row pgx.Row) (Budget, error) {
	var (
		b          Budget
		approvedBy *string
	)
	err := row.Scan(&b.ID, &b.FiscalYear, &b.Name, &b.Description, &b.IsApproved, &approvedBy, &b.ApprovedAt, &b.CreatedAt, &b.UpdatedAt)
	if approvedBy != nil {
		b.ApprovedBy = *approvedBy
	}
	return b, err
}

func scanBudgetLine(row pgx.Row) (BudgetLine, error) {
	var (
		l      BudgetLine
		amount string
	)
	if err := row.Scan(&l.ID, &l.BudgetID, &l.AccountID, &l.PeriodNumber, &amount, &l.Notes); err != nil {
		return BudgetLine{}, err
	}
	var err error
	if l.PlannedAmount, err = decimal.NewFromString(amount); err != nil {
		return BudgetLine{}, fmt.Errorf("parse planned amount: %w", err)
	}
	return l, nil
}

func (r *txRepository) GetBudget(ctx context.Context, id uuid.UUID) (Budget, error) {
	return r.getBudget(ctx, id, false)
}

func (r *txRepository) GetBudgetForUpdate(ctx context.Context, id uuid.UUID) (Budget, error) {
	return r.getBudget(ctx, id, true)
}

func (r *txRepository) getBudget(ctx context.Context, id uuid.UUID, lock bool) (Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	b, err := scanBudget(r.tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Budget{}, fmt.Errorf("%w: id %s", ErrBudgetNotFound, id)
		}
		return Budget{}, err
	}
	b.Lines, err = r.linesFor(ctx, b.ID)
	if err != nil {
		return Budget{}, err
	}
	return b, nil
}

func (r *txRepository) linesFor(ctx context.Context, budgetID uuid.UUID) ([]BudgetLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+budgetLineColumns+` FROM budget_lines WHERE budget_id=$1 ORDER BY account_id, period_number NULLS FIRST`, budgetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []BudgetLine
	for rows.Next() {
		l, err := scanBudgetLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *txRepository) ListByYear(ctx context.Context, fiscalYear int) ([]Budget, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE fiscal_year=$1 ORDER BY name`, fiscalYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var budgets []Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range budgets {
		budgets[i].Lines, err = r.linesFor(ctx, budgets[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return budgets, nil
}

func (r *txRepository) InsertBudget(ctx context.Context, b Budget) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO budgets (id, fiscal_year, name, description, is_approved, approved_by, approved_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9)`,
		b.ID, b.FiscalYear, b.Name, b.Description, b.IsApproved, b.ApprovedBy, b.ApprovedAt, b.CreatedAt, b.UpdatedAt)
	if db.IsUniqueViolation(err, "budgets_fiscal_year_name_key") {
		return fmt.Errorf("%w: %q for %d", ErrDuplicateBudget, b.Name, b.FiscalYear)
	}
	return err
}

func (r *txRepository) UpdateBudgetHeader(ctx context.Context, b Budget) error {
	tag, err := r.tx.Exec(ctx, `UPDATE budgets SET name=$2, description=$3, updated_at=$4 WHERE id=$1`,
		b.ID, b.Name, b.Description, b.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "budgets_fiscal_year_name_key") {
			return fmt.Errorf("%w: %q for %d", ErrDuplicateBudget, b.Name, b.FiscalYear)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %s", ErrBudgetNotFound, b.ID)
	}
	return nil
}

func (r *txRepository) InsertLines(ctx context.Context, budgetID uuid.UUID, lines []BudgetLine) error {
	for _, l := range lines {
		_, err := r.tx.Exec(ctx, `INSERT INTO budget_lines (id, budget_id, account_id, period_number, planned_amount, notes)
VALUES ($1,$2,$3,$4,$5::numeric,$6)`,
			l.ID, budgetID, l.AccountID, l.PeriodNumber, l.PlannedAmount.StringFixed(2), l.Notes)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) DeleteLines(ctx context.Context, budgetID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM budget_lines WHERE budget_id=$1`, budgetID)
	return err
}

func (r *txRepository) DeleteBudget(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM budgets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %s", ErrBudgetNotFound, id)
	}
	return nil
}

func (r *txRepository) SetApproved(ctx context.Context, id uuid.UUID, approvedBy string, approvedAt, updatedAt time.Time) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE budgets SET is_approved=TRUE, approved_by=$2, approved_at=$3, updated_at=$4 WHERE id=$1 AND NOT is_approved`,
		id, approvedBy, approvedAt, updatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
