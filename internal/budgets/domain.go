package budgets

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crestline-dms/crestline/internal/shared"
)

// Budget is a named plan of account-level amounts for a fiscal year.
// Approved budgets are locked: no edits, no deletion.
type Budget struct {
	ID          uuid.UUID    `json:"id"`
	FiscalYear  int          `json:"fiscal_year"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	IsApproved  bool         `json:"is_approved"`
	ApprovedBy  string       `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time   `json:"approved_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Lines       []BudgetLine `json:"lines,omitempty"`
}

// BudgetLine holds the planned amount for one account, optionally split
// by period number.
type BudgetLine struct {
	ID            uuid.UUID       `json:"id"`
	BudgetID      uuid.UUID       `json:"budget_id"`
	AccountID     uuid.UUID       `json:"account_id"`
	PeriodNumber  *int            `json:"period_number,omitempty"`
	PlannedAmount decimal.Decimal `json:"planned_amount"`
	Notes         string          `json:"notes,omitempty"`
}

// TotalPlanned sums the planned amounts of all lines.
func (b Budget) TotalPlanned() decimal.Decimal {
	total := decimal.Zero
	for _, line := range b.Lines {
		total = total.Add(line.PlannedAmount)
	}
	return total
}

var (
	ErrBudgetNotFound  = fmt.Errorf("budget not found: %w", shared.ErrNotFound)
	ErrAlreadyApproved = fmt.Errorf("budget already approved: %w", shared.ErrConflict)
	ErrBudgetLocked    = fmt.Errorf("approved budget cannot be modified: %w", shared.ErrConflict)
	ErrDuplicateBudget = fmt.Errorf("budget name taken for fiscal year: %w", shared.ErrConflict)
)

// LineInput describes one budget line.
type LineInput struct {
	AccountID     uuid.UUID
	PeriodNumber  *int
	PlannedAmount decimal.Decimal
	Notes         string
}

// Validate checks the line shape.
func (in LineInput) Validate() error {
	if in.AccountID == uuid.Nil {
		return fmt.Errorf("account id required: %w", shared.ErrValidation)
	}
	if in.PlannedAmount.IsNegative() {
		return fmt.Errorf("planned amount must not be negative: %w", shared.ErrValidation)
	}
	if in.PeriodNumber != nil && (*in.PeriodNumber < 1 || *in.PeriodNumber > 12) {
		return fmt.Errorf("period number must be 1-12: %w", shared.ErrValidation)
	}
	return nil
}

// CreateInput describes a new budget.
type CreateInput struct {
	FiscalYear  int
	Name        string
	Description string
	Lines       []LineInput
}

// Validate checks structural rules.
func (in CreateInput) Validate() error {
	if in.FiscalYear < 1900 || in.FiscalYear > 2999 {
		return fmt.Errorf("fiscal year out of range: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("budget name required: %w", shared.ErrValidation)
	}
	for i, line := range in.Lines {
		if err := line.Validate(); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}

// UpdateInput replaces the mutable parts of an unapproved budget.
type UpdateInput struct {
	Name        string
	Description string
	Lines       []LineInput
}

// Validate checks structural rules.
func (in UpdateInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("budget name required: %w", shared.ErrValidation)
	}
	for i, line := range in.Lines {
		if err := line.Validate(); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}
