// Package coa maintains the chart of accounts hierarchy.
package coa

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crestline-dms/crestline/internal/shared"
)

// AccountType enumerates chart-of-accounts categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether the account type is one of the five categories.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	default:
		return false
	}
}

// Account models a chart of accounts node. Parent linkage is by id only; tree
// views are rebuilt on demand from the parent index.
type Account struct {
	ID          uuid.UUID   `json:"id"`
	Code        string      `json:"code"`
	Name        string      `json:"name"`
	Type        AccountType `json:"type"`
	ParentID    *uuid.UUID  `json:"parent_id,omitempty"`
	Description string      `json:"description,omitempty"`
	IsActive    bool        `json:"is_active"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Node is one account with its resolved children, used by hierarchy views.
type Node struct {
	Account
	Children []*Node `json:"children"`
}

var (
	// ErrAccountNotFound indicates an unknown account id or code.
	ErrAccountNotFound = fmt.Errorf("coa: account %w", shared.ErrNotFound)
	// ErrDuplicateCode indicates the account code is already taken.
	ErrDuplicateCode = fmt.Errorf("coa: duplicate account code: %w", shared.ErrConflict)
	// ErrInvalidParent indicates a missing or inactive parent account.
	ErrInvalidParent = fmt.Errorf("coa: invalid parent account: %w", shared.ErrValidation)
	// ErrCycle indicates the requested parent would close a loop in the tree.
	ErrCycle = fmt.Errorf("coa: parent chain cycle: %w", shared.ErrValidation)
	// ErrAccountInUse indicates children or journal lines still reference the account.
	ErrAccountInUse = fmt.Errorf("coa: account has dependents: %w", shared.ErrReferential)
)

// CreateInput carries fields for a new account.
type CreateInput struct {
	Code        string
	Name        string
	Type        AccountType
	ParentID    *uuid.UUID
	Description string
}

// Validate checks structural requirements before any store access.
func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.Code) == "" {
		return fmt.Errorf("coa: account code required: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("coa: account name required: %w", shared.ErrValidation)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("coa: unknown account type %q: %w", in.Type, shared.ErrValidation)
	}
	return nil
}

// UpdateInput carries mutable account fields.
type UpdateInput struct {
	Name        string
	Type        AccountType
	ParentID    *uuid.UUID
	Description string
	IsActive    bool
}

// Validate checks structural requirements before any store access.
func (in UpdateInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("coa: account name required: %w", shared.ErrValidation)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("coa: unknown account type %q: %w", in.Type, shared.ErrValidation)
	}
	return nil
}

// errNilRepo is returned when a service is used before wiring.
var errNilRepo = errors.New("coa: repository not initialised")
