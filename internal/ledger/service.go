package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crestline-dms/crestline/internal/coa"
	"github.com/crestline-dms/crestline/internal/periods"
	"github.com/crestline-dms/crestline/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes operations available within a transaction.
type TxRepository interface {
	GetEntry(ctx context.Context, id uuid.UUID) (JournalEntry, error)
	GetEntryForUpdate(ctx context.Context, id uuid.UUID) (JournalEntry, error)
	GetEntryByNumber(ctx context.Context, number string) (JournalEntry, error)
	CountEntriesOnDate(ctx context.Context, date time.Time) (int, error)
	HasReversal(ctx context.Context, id uuid.UUID) (bool, error)
	InsertEntry(ctx context.Context, entry JournalEntry) error
	InsertLines(ctx context.Context, entryID uuid.UUID, lines []JournalLine) error
	UpdateEntryHeader(ctx context.Context, entry JournalEntry) error
	DeleteLines(ctx context.Context, entryID uuid.UUID) error
	DeleteEntry(ctx context.Context, id uuid.UUID) error
	// SetPosted transitions a draft to posted only when the stored status is
	// still draft; it reports false when the compare-and-set matched no row.
	SetPosted(ctx context.Context, id uuid.UUID, periodID uuid.UUID, postedBy string, postedAt, updatedAt time.Time) (bool, error)
	ListByPeriod(ctx context.Context, periodID uuid.UUID, limit, offset int) ([]JournalEntry, error)
	CountByPeriod(ctx context.Context, periodID uuid.UUID) (int, error)
	ListByDateRange(ctx context.Context, from, to time.Time, limit, offset int) ([]JournalEntry, error)
	CountByDateRange(ctx context.Context, from, to time.Time) (int, error)
	ListByReference(ctx context.Context, reference string, limit, offset int) ([]JournalEntry, error)
	CountByReference(ctx context.Context, reference string) (int, error)
}

// AccountPort resolves accounts referenced by journal lines.
type AccountPort interface {
	Get(ctx context.Context, id uuid.UUID) (coa.Account, error)
}

// PeriodPort resolves the fiscal period covering an entry date.
type PeriodPort interface {
	Current(ctx context.Context, date time.Time) (periods.Period, error)
}

// AuditPort records posting and reversal events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort surfaces posting counters.
type MetricsPort interface {
	EntryPosted()
	EntryReversed()
}

// Service owns the journal entry lifecycle: draft, post, reverse.
type Service struct {
	repo     RepositoryPort
	accounts AccountPort
	periods  PeriodPort
	audit    AuditPort
	metrics  MetricsPort
	now      func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, accounts AccountPort, periodPort PeriodPort, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{
		repo:     repo,
		accounts: accounts,
		periods:  periodPort,
		audit:    audit,
		metrics:  metrics,
		now:      time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateEntry records a new draft. The fiscal period is derived from the
// entry date; drafting into a closed period is allowed, posting is not.
func (s *Service) CreateEntry(ctx context.Context, in CreateInput) (JournalEntry, error) {
	if s.repo == nil {
		return JournalEntry{}, errNilRepo
	}
	if err := in.Validate(); err != nil {
		return JournalEntry{}, err
	}
	period, err := s.resolvePeriod(ctx, in.EntryDate)
	if err != nil {
		return JournalEntry{}, err
	}
	if err := s.checkAccountsExist(ctx, in.Lines); err != nil {
		return JournalEntry{}, err
	}

	now := s.now().UTC()
	entry := JournalEntry{
		ID:          uuid.New(),
		EntryDate:   in.EntryDate,
		Description: in.Description,
		Reference:   in.Reference,
		Status:      EntryStatusDraft,
		PeriodID:    period.ID,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
		Lines:       buildLines(uuid.Nil, in.Lines),
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.CountEntriesOnDate(ctx, in.EntryDate)
		if err != nil {
			return err
		}
		entry.EntryNumber = FormatEntryNumber(in.EntryDate, seq+1)
		for i := range entry.Lines {
			entry.Lines[i].EntryID = entry.ID
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		return tx.InsertLines(ctx, entry.ID, entry.Lines)
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// UpdateDraft replaces the header and lines of a draft entry. Posted
// entries are immutable.
func (s *Service) UpdateDraft(ctx context.Context, id uuid.UUID, in UpdateInput) (JournalEntry, error) {
	if s.repo == nil {
		return JournalEntry{}, errNilRepo
	}
	if err := in.Validate(); err != nil {
		return JournalEntry{}, err
	}
	period, err := s.resolvePeriod(ctx, in.EntryDate)
	if err != nil {
		return JournalEntry{}, err
	}
	if err := s.checkAccountsExist(ctx, in.Lines); err != nil {
		return JournalEntry{}, err
	}

	var updated JournalEntry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if entry.Status != EntryStatusDraft {
			return fmt.Errorf("%s: %w", entry.EntryNumber, ErrPostedImmutable)
		}
		entry.EntryDate = in.EntryDate
		entry.Description = in.Description
		entry.Reference = in.Reference
		entry.PeriodID = period.ID
		entry.UpdatedAt = s.now().UTC()
		if err := tx.UpdateEntryHeader(ctx, entry); err != nil {
			return err
		}
		if err := tx.DeleteLines(ctx, id); err != nil {
			return err
		}
		entry.Lines = buildLines(id, in.Lines)
		if err := tx.InsertLines(ctx, id, entry.Lines); err != nil {
			return err
		}
		updated = entry
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return updated, nil
}

// AddLines appends lines to a draft entry. Drafts build up incrementally;
// the balance invariant is checked at post time, not here.
func (s *Service) AddLines(ctx context.Context, id uuid.UUID, lines []LineInput) (JournalEntry, error) {
	if s.repo == nil {
		return JournalEntry{}, errNilRepo
	}
	if len(lines) == 0 {
		return JournalEntry{}, fmt.Errorf("at least one line required: %w", shared.ErrValidation)
	}
	if err := validateLines(lines); err != nil {
		return JournalEntry{}, err
	}
	if err := s.checkAccountsExist(ctx, lines); err != nil {
		return JournalEntry{}, err
	}

	var updated JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if entry.Status != EntryStatusDraft {
			return fmt.Errorf("%s: %w", entry.EntryNumber, ErrPostedImmutable)
		}
		added := buildLines(id, lines)
		for i := range added {
			added[i].LineNumber = len(entry.Lines) + i + 1
		}
		if err := tx.InsertLines(ctx, id, added); err != nil {
			return err
		}
		entry.UpdatedAt = s.now().UTC()
		if err := tx.UpdateEntryHeader(ctx, entry); err != nil {
			return err
		}
		entry.Lines = append(entry.Lines, added...)
		updated = entry
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return updated, nil
}

// DeleteDraft removes a draft entry and its lines. Posted entries cannot
// be deleted.
func (s *Service) DeleteDraft(ctx context.Context, id uuid.UUID) error {
	if s.repo == nil {
		return errNilRepo
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if entry.Status != EntryStatusDraft {
			return fmt.Errorf("%s: %w", entry.EntryNumber, ErrPostedImmutable)
		}
		if err := tx.DeleteLines(ctx, id); err != nil {
			return err
		}
		return tx.DeleteEntry(ctx, id)
	})
}

// PostEntry transitions a balanced draft into the immutable posted state.
// The fiscal period is re-derived from the entry date at post time so a
// period closed after drafting still blocks the posting. A zero posting
// date means now.
func (s *Service) PostEntry(ctx context.Context, id uuid.UUID, postingDate time.Time, postedBy string) (JournalEntry, error) {
	if s.repo == nil {
		return JournalEntry{}, errNilRepo
	}
	if postedBy == "" {
		return JournalEntry{}, fmt.Errorf("posted_by required: %w", shared.ErrValidation)
	}

	var posted JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if entry.Status == EntryStatusPosted {
			return fmt.Errorf("%s: %w", entry.EntryNumber, ErrAlreadyPosted)
		}
		if len(entry.Lines) < 2 {
			return ErrTooFewLines
		}
		if !entry.IsBalanced() {
			return fmt.Errorf("%s: debit %s credit %s: %w", entry.EntryNumber,
				entry.TotalDebit(), entry.TotalCredit(), ErrUnbalanced)
		}
		period, err := s.resolvePeriod(ctx, entry.EntryDate)
		if err != nil {
			return err
		}
		if period.IsClosed {
			return fmt.Errorf("%s: %w", period.Label(), ErrPeriodClosed)
		}
		if err := s.checkAccountsActive(ctx, entry.Lines); err != nil {
			return err
		}

		now := s.now().UTC()
		postedAt := postingDate
		if postedAt.IsZero() {
			postedAt = now
		}
		ok, err := tx.SetPosted(ctx, id, period.ID, postedBy, postedAt, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", entry.EntryNumber, ErrAlreadyPosted)
		}
		entry.Status = EntryStatusPosted
		entry.PeriodID = period.ID
		entry.PostedBy = postedBy
		entry.PostedAt = &postedAt
		entry.UpdatedAt = now
		posted = entry
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if s.metrics != nil {
		s.metrics.EntryPosted()
	}
	s.record(ctx, "journal.post", posted, postedBy)
	return posted, nil
}

// ReverseEntry builds a mirror-image draft that nets the original to
// zero once posted. The original stays untouched; the ledger is append
// only. An entry can be reversed once, and the reversal goes through
// PostEntry like any other draft.
func (s *Service) ReverseEntry(ctx context.Context, id uuid.UUID, reversalDate time.Time, description, reversedBy string) (JournalEntry, error) {
	if s.repo == nil {
		return JournalEntry{}, errNilRepo
	}
	if reversedBy == "" {
		return JournalEntry{}, fmt.Errorf("reversed_by required: %w", shared.ErrValidation)
	}
	if reversalDate.IsZero() {
		reversalDate = s.now().UTC()
	}
	period, err := s.resolvePeriod(ctx, reversalDate)
	if err != nil {
		return JournalEntry{}, err
	}

	var reversal JournalEntry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if original.Status != EntryStatusPosted {
			return fmt.Errorf("%s: %w", original.EntryNumber, ErrNotPosted)
		}
		reversed, err := tx.HasReversal(ctx, id)
		if err != nil {
			return err
		}
		if reversed {
			return fmt.Errorf("%s: %w", original.EntryNumber, ErrAlreadyReversed)
		}

		now := s.now().UTC()
		originalID := original.ID
		if description == "" {
			description = original.Description
		}
		reversal = JournalEntry{
			ID:          uuid.New(),
			EntryNumber: ReversalNumber(original.EntryNumber),
			EntryDate:   reversalDate,
			Description: ReversalDescription(original.EntryNumber, description),
			Reference:   original.Reference,
			Status:      EntryStatusDraft,
			PeriodID:    period.ID,
			ReversesID:  &originalID,
			CreatedBy:   reversedBy,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		for _, line := range original.Lines {
			reversal.Lines = append(reversal.Lines, JournalLine{
				ID:           uuid.New(),
				EntryID:      reversal.ID,
				LineNumber:   line.LineNumber,
				AccountID:    line.AccountID,
				Debit:        line.Credit,
				Credit:       line.Debit,
				Description:  line.Description,
				DepartmentID: line.DepartmentID,
				CostCenterID: line.CostCenterID,
			})
		}
		if err := tx.InsertEntry(ctx, reversal); err != nil {
			return err
		}
		return tx.InsertLines(ctx, reversal.ID, reversal.Lines)
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if s.metrics != nil {
		s.metrics.EntryReversed()
	}
	s.record(ctx, "journal.reverse", reversal, reversedBy)
	return reversal, nil
}

// GetEntry fetches an entry with its lines.
func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (JournalEntry, error) {
	if s.repo == nil {
		return JournalEntry{}, errNilRepo
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetEntry(ctx, id)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// GetEntryByNumber fetches an entry by its entry number.
func (s *Service) GetEntryByNumber(ctx context.Context, number string) (JournalEntry, error) {
	if s.repo == nil {
		return JournalEntry{}, errNilRepo
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetEntryByNumber(ctx, number)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// ListByPeriod pages through entries posted to or drafted for a period.
func (s *Service) ListByPeriod(ctx context.Context, periodID uuid.UUID, page, perPage int) ([]JournalEntry, shared.Pagination, error) {
	return s.list(ctx, page, perPage,
		func(ctx context.Context, tx TxRepository, limit, offset int) ([]JournalEntry, error) {
			return tx.ListByPeriod(ctx, periodID, limit, offset)
		},
		func(ctx context.Context, tx TxRepository) (int, error) {
			return tx.CountByPeriod(ctx, periodID)
		})
}

// ListByDateRange pages through entries dated within [from, to].
func (s *Service) ListByDateRange(ctx context.Context, from, to time.Time, page, perPage int) ([]JournalEntry, shared.Pagination, error) {
	if to.Before(from) {
		return nil, shared.Pagination{}, fmt.Errorf("date range is inverted: %w", shared.ErrValidation)
	}
	return s.list(ctx, page, perPage,
		func(ctx context.Context, tx TxRepository, limit, offset int) ([]JournalEntry, error) {
			return tx.ListByDateRange(ctx, from, to, limit, offset)
		},
		func(ctx context.Context, tx TxRepository) (int, error) {
			return tx.CountByDateRange(ctx, from, to)
		})
}

// ListByReference pages through entries sharing a source document reference.
func (s *Service) ListByReference(ctx context.Context, reference string, page, perPage int) ([]JournalEntry, shared.Pagination, error) {
	if reference == "" {
		return nil, shared.Pagination{}, fmt.Errorf("reference required: %w", shared.ErrValidation)
	}
	return s.list(ctx, page, perPage,
		func(ctx context.Context, tx TxRepository, limit, offset int) ([]JournalEntry, error) {
			return tx.ListByReference(ctx, reference, limit, offset)
		},
		func(ctx context.Context, tx TxRepository) (int, error) {
			return tx.CountByReference(ctx, reference)
		})
}

func (s *Service) list(ctx context.Context, page, perPage int,
	fetch func(context.Context, TxRepository, int, int) ([]JournalEntry, error),
	count func(context.Context, TxRepository) (int, error),
) ([]JournalEntry, shared.Pagination, error) {
	if s.repo == nil {
		return nil, shared.Pagination{}, errNilRepo
	}
	var (
		entries    []JournalEntry
		pagination shared.Pagination
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		total, err := count(ctx, tx)
		if err != nil {
			return err
		}
		pagination = shared.NewPagination(page, perPage, total)
		entries, err = fetch(ctx, tx, pagination.PerPage, pagination.Offset())
		return err
	})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, pagination, nil
}

func (s *Service) resolvePeriod(ctx context.Context, date time.Time) (periods.Period, error) {
	if s.periods == nil {
		return periods.Period{}, errors.New("ledger service: period port not configured")
	}
	period, err := s.periods.Current(ctx, date)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return periods.Period{}, fmt.Errorf("%s: %w", date.Format("2006-01-02"), ErrNoOpenPeriod)
		}
		return periods.Period{}, err
	}
	return period, nil
}

func (s *Service) checkAccountsExist(ctx context.Context, lines []LineInput) error {
	if s.accounts == nil {
		return errors.New("ledger service: account port not configured")
	}
	seen := make(map[uuid.UUID]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.AccountID]; ok {
			continue
		}
		seen[line.AccountID] = struct{}{}
		if _, err := s.accounts.Get(ctx, line.AccountID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return fmt.Errorf("%s: %w", line.AccountID, ErrUnknownAccount)
			}
			return err
		}
	}
	return nil
}

func (s *Service) checkAccountsActive(ctx context.Context, lines []JournalLine) error {
	if s.accounts == nil {
		return errors.New("ledger service: account port not configured")
	}
	seen := make(map[uuid.UUID]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.AccountID]; ok {
			continue
		}
		seen[line.AccountID] = struct{}{}
		account, err := s.accounts.Get(ctx, line.AccountID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return fmt.Errorf("%s: %w", line.AccountID, ErrUnknownAccount)
			}
			return err
		}
		if !account.IsActive {
			return fmt.Errorf("%s: %w", account.Code, ErrInactiveAccount)
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, action string, entry JournalEntry, actor string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: entry.ID.String(),
		Meta:     map[string]any{"entry_number": entry.EntryNumber},
		At:       s.now().UTC(),
	})
}

func buildLines(entryID uuid.UUID, inputs []LineInput) []JournalLine {
	lines := make([]JournalLine, 0, len(inputs))
	for i, in := range inputs {
		lines = append(lines, JournalLine{
			ID:           uuid.New(),
			EntryID:      entryID,
			LineNumber:   i + 1,
			AccountID:    in.AccountID,
			Debit:        in.Debit,
			Credit:       in.Credit,
			Description:  in.Description,
			DepartmentID: in.DepartmentID,
			CostCenterID: in.CostCenterID,
		})
	}
	return lines
}

var errNilRepo = errors.New("ledger service: repository not configured")
