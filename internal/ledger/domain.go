package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crestline-dms/crestline/internal/shared"
)

// EntryStatus tracks the journal entry lifecycle. Entries start as drafts
// and become immutable once posted.
type EntryStatus string

const (
	EntryStatusDraft  EntryStatus = "DRAFT"
	EntryStatusPosted EntryStatus = "POSTED"
)

// JournalEntry is the unit of record in the general ledger. Posted entries
// are never edited or deleted; corrections happen through reversal entries
// that reference the original.
type JournalEntry struct {
	ID          uuid.UUID     `json:"id"`
	EntryNumber string        `json:"entry_number"`
	EntryDate   time.Time     `json:"entry_date"`
	Description string        `json:"description"`
	Reference   string        `json:"reference,omitempty"`
	Status      EntryStatus   `json:"status"`
	PeriodID    uuid.UUID     `json:"period_id"`
	ReversesID  *uuid.UUID    `json:"reverses_id,omitempty"`
	CreatedBy   string        `json:"created_by"`
	PostedBy    string        `json:"posted_by,omitempty"`
	PostedAt    *time.Time    `json:"posted_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Lines       []JournalLine `json:"lines,omitempty"`
}

// JournalLine is a single debit or credit against an account. Exactly one
// of Debit and Credit is non-zero.
type JournalLine struct {
	ID           uuid.UUID       `json:"id"`
	EntryID      uuid.UUID       `json:"entry_id"`
	LineNumber   int             `json:"line_number"`
	AccountID    uuid.UUID       `json:"account_id"`
	Debit        decimal.Decimal `json:"debit"`
	Credit       decimal.Decimal `json:"credit"`
	Description  string          `json:"description,omitempty"`
	DepartmentID *uuid.UUID      `json:"department_id,omitempty"`
	CostCenterID *uuid.UUID      `json:"cost_center_id,omitempty"`
}

// TotalDebit sums the debit side of the entry.
func (e JournalEntry) TotalDebit() decimal.Decimal {
	total := decimal.Zero
	for _, line := range e.Lines {
		total = total.Add(line.Debit)
	}
	return total
}

// TotalCredit sums the credit side of the entry.
func (e JournalEntry) TotalCredit() decimal.Decimal {
	total := decimal.Zero
	for _, line := range e.Lines {
		total = total.Add(line.Credit)
	}
	return total
}

// IsBalanced reports whether debits equal credits.
func (e JournalEntry) IsBalanced() bool {
	return e.TotalDebit().Equal(e.TotalCredit())
}

// IsReversal reports whether this entry reverses another.
func (e JournalEntry) IsReversal() bool {
	return e.ReversesID != nil
}

var (
	ErrEntryNotFound   = fmt.Errorf("journal entry not found: %w", shared.ErrNotFound)
	ErrAlreadyPosted   = fmt.Errorf("journal entry already posted: %w", shared.ErrConflict)
	ErrPostedImmutable = fmt.Errorf("posted journal entry is immutable: %w", shared.ErrInvalidState)
	ErrNotPosted       = fmt.Errorf("journal entry not posted: %w", shared.ErrInvalidState)
	ErrAlreadyReversed = fmt.Errorf("journal entry already reversed: %w", shared.ErrConflict)
	ErrPeriodClosed    = fmt.Errorf("fiscal period is closed: %w", shared.ErrInvalidState)
	ErrNoOpenPeriod    = fmt.Errorf("no fiscal period covers the entry date: %w", shared.ErrValidation)
	ErrUnbalanced      = fmt.Errorf("journal entry debits do not equal credits: %w", shared.ErrValidation)
	ErrTooFewLines     = fmt.Errorf("journal entry needs at least two lines: %w", shared.ErrValidation)
	ErrBadLineAmount   = fmt.Errorf("journal line must carry exactly one positive amount: %w", shared.ErrValidation)
	ErrInactiveAccount = fmt.Errorf("journal line references an inactive account: %w", shared.ErrValidation)
	ErrUnknownAccount  = fmt.Errorf("journal line references an unknown account: %w", shared.ErrReferential)
)

// LineInput describes one line of a draft entry.
type LineInput struct {
	AccountID    uuid.UUID
	Debit        decimal.Decimal
	Credit       decimal.Decimal
	Description  string
	DepartmentID *uuid.UUID
	CostCenterID *uuid.UUID
}

// Validate enforces the one-sided positive amount rule.
func (in LineInput) Validate() error {
	if in.AccountID == uuid.Nil {
		return fmt.Errorf("account id required: %w", shared.ErrValidation)
	}
	if in.Debit.IsNegative() || in.Credit.IsNegative() {
		return ErrBadLineAmount
	}
	debitSet := in.Debit.IsPositive()
	creditSet := in.Credit.IsPositive()
	if debitSet == creditSet {
		return ErrBadLineAmount
	}
	return nil
}

// CreateInput describes a new draft entry.
type CreateInput struct {
	EntryDate   time.Time
	Description string
	Reference   string
	CreatedBy   string
	Lines       []LineInput
}

// Validate checks structural rules that do not need the database. Drafts
// are not balance-gated: lines may be added incrementally and the debit
// equals credit invariant is enforced at post time.
func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("description required: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(in.CreatedBy) == "" {
		return fmt.Errorf("created_by required: %w", shared.ErrValidation)
	}
	if in.EntryDate.IsZero() {
		return fmt.Errorf("entry date required: %w", shared.ErrValidation)
	}
	return validateLines(in.Lines)
}

func validateLines(lines []LineInput) error {
	for i, line := range lines {
		if err := line.Validate(); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}

// UpdateInput replaces the mutable parts of a draft entry.
type UpdateInput struct {
	EntryDate   time.Time
	Description string
	Reference   string
	Lines       []LineInput
}

// Validate mirrors CreateInput validation for draft updates.
func (in UpdateInput) Validate() error {
	return CreateInput{
		EntryDate:   in.EntryDate,
		Description: in.Description,
		Reference:   in.Reference,
		CreatedBy:   "draft",
		Lines:       in.Lines,
	}.Validate()
}

// FormatEntryNumber builds the sequential entry number for a given date,
// e.g. JE-20260115-0001.
func FormatEntryNumber(date time.Time, seq int) string {
	return fmt.Sprintf("JE-%s-%04d", date.Format("20060102"), seq)
}

// ReversalNumber derives the number of a reversing entry.
func ReversalNumber(original string) string {
	return "R-" + original
}

// ReversalDescription derives the description of a reversing entry.
func ReversalDescription(number, description string) string {
	return fmt.Sprintf("Reversal of %s: %s", number, description)
}
