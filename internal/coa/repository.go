package coa

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

// Repository persists chart-of-accounts rows in Postgres.
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

const accountColumns = `id, code, name, type, parent_id, description, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.Description, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *txRepository) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("%w: id %s", ErrAccountNotFound, id)
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) GetAccountByCode(ctx context.Context, code string) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code=$1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("%w: code %s", ErrAccountNotFound, code)
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) InsertAccount(ctx context.Context, a Account) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO accounts (id, code, name, type, parent_id, description, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, a.ID, a.Code, a.Name, a.Type, a.ParentID, a.Description, a.IsActive, a.CreatedAt, a.UpdatedAt)
	if db.IsUniqueViolation(err, "accounts_code_key") {
		return fmt.Errorf("%w: code %s", ErrDuplicateCode, a.Code)
	}
	return err
}

func (r *txRepository) UpdateAccount(ctx context.Context, a Account) error {
	tag, err := r.tx.Exec(ctx, `UPDATE accounts SET name=$2, type=$3, parent_id=$4, description=$5, is_active=$6, updated_at=$7 WHERE id=$1`,
		a.ID, a.Name, a.Type, a.ParentID, a.Description, a.IsActive, a.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %s", ErrAccountNotFound, a.ID)
	}
	return nil
}

func (r *txRepository) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM accounts WHERE id=$1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: account %s", ErrAccountInUse, id)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %s", ErrAccountNotFound, id)
	}
	return nil
}

func (r *txRepository) SetAccountActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `UPDATE accounts SET is_active=$2, updated_at=$3 WHERE id=$1 RETURNING `+accountColumns, id, active, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("%w: id %s", ErrAccountNotFound, id)
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) ListAccounts(ctx context.Context, includeInactive bool) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE ($1 OR is_active) ORDER BY code`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) CountAccounts(ctx context.Context, includeInactive bool) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE ($1 OR is_active)`, includeInactive).Scan(&n)
	return n, err
}

func (r *txRepository) CountChildren(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE parent_id=$1`, id).Scan(&n)
	return n, err
}

func (r *txRepository) CountLineReferences(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM journal_lines WHERE account_id=$1`, id).Scan(&n)
	return n, err
}
