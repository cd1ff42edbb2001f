package ledger

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
	"github.com/crestline-dms/crestline/internal/shared"
)

// Repository persists journal entries and lines in Postgres.
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

const entryColumns = `id, entry_number, entry_date, description, reference, status, period_id, reverses_id, created_by, posted_by, posted_at, created_at, updated_at`

// Amount columns are NUMERIC(18,2); scanning them as text keeps the exact
// scale instead of routing through binary floats.
const lineColumns = `id, entry_id, line_number, account_id, debit::text, credit::text, description, department_id, cost_center_id`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var (
		e        JournalEntry
		postedBy *string
	)
	err := row.Scan(&e.ID, &e.EntryNumber, &e.EntryDate, &e.Description, &e.Reference, &e.Status,
		&e.PeriodID, &e.ReversesID, &e.CreatedBy, &postedBy, &e.PostedAt, &e.CreatedAt, &e.UpdatedAt)
	if postedBy != nil {
		e.PostedBy = *postedBy
	}
	return e, err
}

func scanLine(row pgx.Row) (JournalLine, error) {
	var (
		l             JournalLine
		debit, credit string
	)
	if err := row.Scan(&l.ID, &l.EntryID, &l.LineNumber, &l.AccountID, &debit, &credit,
		&l.Description, &l.DepartmentID, &l.CostCenterID); err != nil {
		return JournalLine{}, err
	}
	var err error
	if l.Debit, err = decimal.NewFromString(debit); err != nil {
		return JournalLine{}, fmt.Errorf("parse debit: %w", err)
	}
	if l.Credit, err = decimal.NewFromString(credit); err != nil {
		return JournalLine{}, fmt.Errorf("parse credit: %w", err)
	}
	return l, nil
}

func (r *txRepository) GetEntry(ctx context.Context, id uuid.UUID) (JournalEntry, error) {
	return r.getEntry(ctx, id, false)
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, id uuid.UUID) (JournalEntry, error) {
	return r.getEntry(ctx, id, true)
}

func (r *txRepository) getEntry(ctx context.Context, id uuid.UUID, lock bool) (JournalEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM journal_entries WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	e, err := scanEntry(r.tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, fmt.Errorf("%w: id %s", ErrEntryNotFound, id)
		}
		return JournalEntry{}, err
	}
	e.Lines, err = r.linesFor(ctx, e.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	return e, nil
}

func (r *txRepository) GetEntryByNumber(ctx context.Context, number string) (JournalEntry, error) {
	e, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE entry_number=$1`, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, fmt.Errorf("%w: number %s", ErrEntryNotFound, number)
		}
		return JournalEntry{}, err
	}
	e.Lines, err = r.linesFor(ctx, e.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	return e, nil
}

func (r *txRepository) linesFor(ctx context.Context, entryID uuid.UUID) ([]JournalLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+lineColumns+` FROM journal_lines WHERE entry_id=$1 ORDER BY line_number`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *txRepository) CountEntriesOnDate(ctx context.Context, date time.Time) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries WHERE entry_date=$1::date`, date).Scan(&n)
	return n, err
}

func (r *txRepository) HasReversal(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM journal_entries WHERE reverses_id=$1)`, id).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertEntry(ctx context.Context, e JournalEntry) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO journal_entries (id, entry_number, entry_date, description, reference, status, period_id, reverses_id, created_by, posted_by, posted_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,''),$11,$12,$13)`,
		e.ID, e.EntryNumber, e.EntryDate, e.Description, e.Reference, e.Status,
		e.PeriodID, e.ReversesID, e.CreatedBy, e.PostedBy, e.PostedAt, e.CreatedAt, e.UpdatedAt)
	if db.IsUniqueViolation(err, "journal_entries_entry_number_key") {
		return fmt.Errorf("entry number %s taken: %w", e.EntryNumber, shared.ErrConflict)
	}
	if db.IsUniqueViolation(err, "idx_entries_reverses") {
		return fmt.Errorf("entry %s: %w", e.EntryNumber, ErrAlreadyReversed)
	}
	return err
}

func (r *txRepository) InsertLines(ctx context.Context, entryID uuid.UUID, lines []JournalLine) error {
	for _, l := range lines {
		_, err := r.tx.Exec(ctx, `INSERT INTO journal_lines (id, entry_id, line_number, account_id, debit, credit, description, department_id, cost_center_id)
VALUES ($1,$2,$3,$4,$5::numeric,$6::numeric,$7,$8,$9)`,
			l.ID, entryID, l.LineNumber, l.AccountID, l.Debit.StringFixed(2), l.Credit.StringFixed(2),
			l.Description, l.DepartmentID, l.CostCenterID)
		if err != nil {
			if db.IsForeignKeyViolation(err) {
				return fmt.Errorf("%s: %w", l.AccountID, ErrUnknownAccount)
			}
			return err
		}
	}
	return nil
}

func (r *txRepository) UpdateEntryHeader(ctx context.Context, e JournalEntry) error {
	tag, err := r.tx.Exec(ctx, `UPDATE journal_entries SET entry_date=$2, description=$3, reference=$4, period_id=$5, updated_at=$6 WHERE id=$1`,
		e.ID, e.EntryDate, e.Description, e.Reference, e.PeriodID, e.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %s", ErrEntryNotFound, e.ID)
	}
	return nil
}

func (r *txRepository) DeleteLines(ctx context.Context, entryID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE entry_id=$1`, entryID)
	return err
}

func (r *txRepository) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM journal_entries WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %s", ErrEntryNotFound, id)
	}
	return nil
}

func (r *txRepository) SetPosted(ctx context.Context, id, periodID uuid.UUID, postedBy string, postedAt, updatedAt time.Time) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$2, period_id=$3, posted_by=$4, posted_at=$5, updated_at=$6 WHERE id=$1 AND status=$7`,
		id, EntryStatusPosted, periodID, postedBy, postedAt, updatedAt, EntryStatusDraft)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepository) ListByPeriod(ctx context.Context, periodID uuid.UUID, limit, offset int) ([]JournalEntry, error) {
	return r.listEntries(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE period_id=$1 ORDER BY entry_date, entry_number LIMIT $2 OFFSET $3`,
		periodID, limit, offset)
}

func (r *txRepository) CountByPeriod(ctx context.Context, periodID uuid.UUID) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries WHERE period_id=$1`, periodID).Scan(&n)
	return n, err
}

func (r *txRepository) ListByDateRange(ctx context.Context, from, to time.Time, limit, offset int) ([]JournalEntry, error) {
	return r.listEntries(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE entry_date BETWEEN $1::date AND $2::date ORDER BY entry_date, entry_number LIMIT $3 OFFSET $4`,
		from, to, limit, offset)
}

func (r *txRepository) CountByDateRange(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries WHERE entry_date BETWEEN $1::date AND $2::date`, from, to).Scan(&n)
	return n, err
}

func (r *txRepository) ListByReference(ctx context.Context, reference string, limit, offset int) ([]JournalEntry, error) {
	return r.listEntries(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE reference=$1 ORDER BY entry_date, entry_number LIMIT $2 OFFSET $3`,
		reference, limit, offset)
}

func (r *txRepository) CountByReference(ctx context.Context, reference string) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries WHERE reference=$1`, reference).Scan(&n)
	return n, err
}

func (r *txRepository) listEntries(ctx context.Context, query string, args ...any) ([]JournalEntry, error) {
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Lines, err = r.linesFor(ctx, entries[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return entries, nil
}
