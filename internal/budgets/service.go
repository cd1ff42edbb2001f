package budgets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crestline-dms/crestline/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes operations available within a transaction.
type TxRepository interface {
	GetBudget(ctx context.Context, id uuid.UUID) (Budget, error)
	GetBudgetForUpdate(ctx context.Context, id uuid.UUID) (Budget, error)
	ListByYear(ctx context.Context, fiscalYear int) ([]Budget, error)
	InsertBudget(ctx context.Context, budget Budget) error
	UpdateBudgetHeader(ctx context.Context, budget Budget) error
	InsertLines(ctx context.Context, budgetID uuid.UUID, lines []BudgetLine) error
	DeleteLines(ctx context.Context, budgetID uuid.UUID) error
	DeleteBudget(ctx context.Context, id uuid.UUID) error
	// SetApproved flips the approval flag only when the budget is still
	// unapproved; it reports false when the compare-and-set matched no row.
	SetApproved(ctx context.Context, id uuid.UUID, approvedBy string, approvedAt, updatedAt time.Time) (bool, error)
}

// AuditPort records budget approvals for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the budget lifecycle.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the budget service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create records a new unapproved budget with its lines.
func (s *Service) Create(ctx context.Context, in CreateInput) (Budget, error) {
	if s.repo == nil {
		return Budget{}, errNilRepo
	}
	if err := in.Validate(); err != nil {
		return Budget{}, err
	}
	now := s.now().UTC()
	budget := Budget{
		ID:          uuid.New(),
		FiscalYear:  in.FiscalYear,
		Name:        in.Name,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
		Lines:       buildLines(uuid.Nil, in.Lines),
	}
	for i := range budget.Lines {
		budget.Lines[i].BudgetID = budget.ID
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertBudget(ctx, budget); err != nil {
			return err
		}
		return tx.InsertLines(ctx, budget.ID, budget.Lines)
	})
	if err != nil {
		return Budget{}, err
	}
	return budget, nil
}

// Update replaces the header and lines of an unapproved budget.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (Budget, error) {
	if s.repo == nil {
		return Budget{}, errNilRepo
	}
	if err := in.Validate(); err != nil {
		return Budget{}, err
	}
	var updated Budget
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		budget, err := tx.GetBudgetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if budget.IsApproved {
			return fmt.Errorf("%s: %w", budget.Name, ErrBudgetLocked)
		}
		budget.Name = in.Name
		budget.Description = in.Description
		budget.UpdatedAt = s.now().UTC()
		if err := tx.UpdateBudgetHeader(ctx, budget); err != nil {
			return err
		}
		if err := tx.DeleteLines(ctx, id); err != nil {
			return err
		}
		budget.Lines = buildLines(id, in.Lines)
		if err := tx.InsertLines(ctx, id, budget.Lines); err != nil {
			return err
		}
		updated = budget
		return nil
	})
	if err != nil {
		return Budget{}, err
	}
	return updated, nil
}

// Approve locks the budget. Approval happens once; a second approval
// attempt reports a conflict. A zero approvalDate means now.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, approvalDate time.Time, approvedBy string) (Budget, error) {
	if s.repo == nil {
		return Budget{}, errNilRepo
	}
	if approvedBy == "" {
		return Budget{}, fmt.Errorf("approved_by required: %w", shared.ErrValidation)
	}
	var approved Budget
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		budget, err := tx.GetBudgetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if budget.IsApproved {
			return fmt.Errorf("%s: %w", budget.Name, ErrAlreadyApproved)
		}
		now := s.now().UTC()
		approvedAt := approvalDate
		if approvedAt.IsZero() {
			approvedAt = now
		}
		ok, err := tx.SetApproved(ctx, id, approvedBy, approvedAt, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", budget.Name, ErrAlreadyApproved)
		}
		budget.IsApproved = true
		budget.ApprovedBy = approvedBy
		budget.ApprovedAt = &approvedAt
		budget.UpdatedAt = now
		approved = budget
		return nil
	})
	if err != nil {
		return Budget{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    approvedBy,
			Action:   "budget.approve",
			Entity:   "budget",
			EntityID: approved.ID.String(),
			Meta:     map[string]any{"fiscal_year": approved.FiscalYear, "name": approved.Name},
			At:       s.now().UTC(),
		})
	}
	return approved, nil
}

// Delete removes an unapproved budget together with its lines. Nothing
// else references budget rows, so the removal is self-contained.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if s.repo == nil {
		return errNilRepo
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		budget, err := tx.GetBudgetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if budget.IsApproved {
			return fmt.Errorf("%s: %w", budget.Name, ErrBudgetLocked)
		}
		if err := tx.DeleteLines(ctx, id); err != nil {
			return err
		}
		return tx.DeleteBudget(ctx, id)
	})
}

// Get fetches a budget with its lines.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Budget, error) {
	if s.repo == nil {
		return Budget{}, errNilRepo
	}
	var budget Budget
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		budget, err = tx.GetBudget(ctx, id)
		return err
	})
	if err != nil {
		return Budget{}, err
	}
	return budget, nil
}

// ListByYear returns all budgets for a fiscal year.
func (s *Service) ListByYear(ctx context.Context, fiscalYear int) ([]Budget, error) {
	if s.repo == nil {
		return nil, errNilRepo
	}
	var list []Budget
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		list, err = tx.ListByYear(ctx, fiscalYear)
		return err
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

func buildLines(budgetID uuid.UUID, inputs []LineInput) []BudgetLine {
	lines := make([]BudgetLine, 0, len(inputs))
	for _, in := range inputs {
		lines = append(lines, BudgetLine{
			ID:            uuid.New(),
			BudgetID:      budgetID,
			AccountID:     in.AccountID,
			PeriodNumber:  in.PeriodNumber,
			PlannedAmount: in.PlannedAmount,
			Notes:         in.Notes,
		})
	}
	return lines
}

var errNilRepo = errors.New("budget service: repository not configured")
