package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crestline-dms/crestline/internal/platform/db"
)

// Repository persists fiscal periods in Postgres.
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
		return errors.New("periods: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

const periodColumns = `id, fiscal_year, period_number, start_date, end_date, is_closed, closed_at, closed_by, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var (
		p        Period
		closedBy *string
	)
	err := row.Scan(&p.ID, &p.FiscalYear, &p.PeriodNumber, &p.StartDate, &p.EndDate, &p.IsClosed, &p.ClosedAt, &closedBy, &p.CreatedAt, &p.UpdatedAt)
	if closedBy != nil {
		p.ClosedBy = *closedBy
	}
	return p, err
}

func (r *txRepository) GetPeriod(ctx context.Context, id uuid.UUID) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM financial_periods WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, fmt.Errorf("%w: id %s", ErrPeriodNotFound, id)
		}
		return Period{}, err
	}
	return p, nil
}

// GetPeriodForUpdate locks the period row for the duration of the transaction
// so concurrent close/reopen calls serialize.
func (r *txRepository) GetPeriodForUpdate(ctx context.Context, id uuid.UUID) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM financial_periods WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, fmt.Errorf("%w: id %s", ErrPeriodNotFound, id)
		}
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) GetByYearAndNumber(ctx context.Context, fiscalYear, periodNumber int) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM financial_periods WHERE fiscal_year=$1 AND period_number=$2`, fiscalYear, periodNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, fmt.Errorf("%w: %d-P%d", ErrPeriodNotFound, fiscalYear, periodNumber)
		}
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) FindCovering(ctx context.Context, date time.Time) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM financial_periods WHERE $1::date BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, fmt.Errorf("%w: no period covers %s", ErrPeriodNotFound, date.Format("2006-01-02"))
		}
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) ListByYear(ctx context.Context, fiscalYear int) ([]Period, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+periodColumns+` FROM financial_periods WHERE fiscal_year=$1 ORDER BY period_number`, fiscalYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *txRepository) ListOverlapping(ctx context.Context, start, end time.Time) ([]Period, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+periodColumns+` FROM financial_periods WHERE start_date <= $2::date AND end_date >= $1::date ORDER BY start_date`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *txRepository) InsertPeriod(ctx context.Context, p Period) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO financial_periods (id, fiscal_year, period_number, start_date, end_date, is_closed, closed_at, closed_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),$9,$10)`,
		p.ID, p.FiscalYear, p.PeriodNumber, p.StartDate, p.EndDate, p.IsClosed, p.ClosedAt, p.ClosedBy, p.CreatedAt, p.UpdatedAt)
	if db.IsUniqueViolation(err, "financial_periods_fiscal_year_period_number_key") {
		return fmt.Errorf("%w: %d-P%d", ErrDuplicatePeriod, p.FiscalYear, p.PeriodNumber)
	}
	if db.IsExclusionViolation(err, "financial_periods_no_overlap") {
		return fmt.Errorf("%w: %s", ErrOverlap, p.Label())
	}
	return err
}

// SetClosed is the compare-and-set guard against lost updates on the closed
// flag; the WHERE clause only matches when the flag actually changes.
func (r *txRepository) SetClosed(ctx context.Context, id uuid.UUID, closed bool, closedBy string, closedAt *time.Time, updatedAt time.Time) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE financial_periods SET is_closed=$2, closed_by=NULLIF($3,''), closed_at=$4, updated_at=$5 WHERE id=$1 AND is_closed <> $2`,
		id, closed, closedBy, closedAt, updatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
