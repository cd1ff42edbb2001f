package taxcodes

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

// Repository persists tax codes in Postgres.
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

const taxCodeColumns = `id, code, name, description, rate::text, effective_date, expiration_date, is_active, created_at, updated_at`

func scanTaxCode(row pgx.Row) (TaxCode, error) {
	var (
		t    TaxCode
		rate string
	)
	if err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Description, &rate, &t.EffectiveDate, &t.ExpirationDate, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return TaxCode{}, err
	}
	var err error
	if t.Rate, err = decimal.NewFromString(rate); err != nil {
		return TaxCode{}, fmt.Errorf("parse rate: %w", err)
	}
	return t, nil
}

func (r *txRepository) GetTaxCode(ctx context.Context, id uuid.UUID) (TaxCode, error) {
	return r.getTaxCode(ctx, id, false)
}

func (r *txRepository) GetTaxCodeForUpdate(ctx context.Context, id uuid.UUID) (TaxCode, error) {
	return r.getTaxCode(ctx, id, true)
}

func (r *txRepository) getTaxCode(ctx context.Context, id uuid.UUID, lock bool) (TaxCode, error) {
	query := `SELECT ` + taxCodeColumns + ` FROM tax_codes WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	t, err := scanTaxCode(r.tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TaxCode{}, fmt.Errorf("%w: id %s", ErrTaxCodeNotFound, id)
		}
		return TaxCode{}, err
	}
	return t, nil
}

func (r *txRepository) FindByCodeOn(ctx context.Context, code string, date time.Time) (TaxCode, error) {
	t, err := scanTaxCode(r.tx.QueryRow(ctx, `SELECT `+taxCodeColumns+` FROM tax_codes
WHERE code=$1 AND effective_date <= $2::date
  AND ((expiration_date IS NOT NULL AND expiration_date >= $2::date) OR (expiration_date IS NULL AND is_active))
ORDER BY effective_date DESC LIMIT 1`, code, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TaxCode{}, fmt.Errorf("%w: code %s on %s", ErrTaxCodeNotFound, code, date.Format("2006-01-02"))
		}
		return TaxCode{}, err
	}
	return t, nil
}

func (r *txRepository) ListTaxCodes(ctx context.Context, includeInactive bool) ([]TaxCode, error) {
	return r.list(ctx, `SELECT `+taxCodeColumns+` FROM tax_codes WHERE ($1 OR is_active) ORDER BY code, effective_date`, includeInactive)
}

func (r *txRepository) ListActiveOn(ctx context.Context, date time.Time) ([]TaxCode, error) {
	return r.list(ctx, `SELECT `+taxCodeColumns+` FROM tax_codes
WHERE effective_date <= $1::date
  AND ((expiration_date IS NOT NULL AND expiration_date >= $1::date) OR (expiration_date IS NULL AND is_active))
ORDER BY code`, date)
}

func (r *txRepository) list(ctx context.Context, query string, args ...any) ([]TaxCode, error) {
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []TaxCode
	for rows.Next() {
		t, err := scanTaxCode(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, t)
	}
	return codes, rows.Err()
}

func (r *txRepository) InsertTaxCode(ctx context.Context, t TaxCode) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO tax_codes (id, code, name, description, rate, effective_date, expiration_date, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5::numeric,$6,$7,$8,$9,$10)`,
		t.ID, t.Code, t.Name, t.Description, t.Rate.String(), t.EffectiveDate, t.ExpirationDate, t.IsActive, t.CreatedAt, t.UpdatedAt)
	if db.IsUniqueViolation(err, "tax_codes_code_effective_date_key") {
		return fmt.Errorf("%w: %s effective %s", ErrDuplicateCode, t.Code, t.EffectiveDate.Format("2006-01-02"))
	}
	return err
}

func (r *txRepository) UpdateTaxCode(ctx context.Context, t TaxCode) error {
	tag, err := r.tx.Exec(ctx, `UPDATE tax_codes SET name=$2, description=$3, updated_at=$4 WHERE id=$1`,
		t.ID, t.Name, t.Description, t.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %s", ErrTaxCodeNotFound, t.ID)
	}
	return nil
}

func (r *txRepository) SetActive(ctx context.Context, id uuid.UUID, active bool, expirationDate *time.Time, updatedAt time.Time) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE tax_codes SET is_active=$2, expiration_date=COALESCE($3, expiration_date), updated_at=$4 WHERE id=$1 AND is_active <> $2`,
		id, active, expirationDate, updatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
