package taxcodes

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crestline-dms/crestline/internal/shared"
)

// TaxCode is a named rate with an effective window. Deal and invoice
// calculations pick the code active on the transaction date, so rate
// changes are modelled as new rows rather than in-place edits.
type TaxCode struct {
	ID             uuid.UUID       `json:"id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Rate           decimal.Decimal `json:"rate"`
	EffectiveDate  time.Time       `json:"effective_date"`
	ExpirationDate *time.Time      `json:"expiration_date,omitempty"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ActiveOn reports whether the code applies on the given date. A stamped
// expiration ends the window without hiding it: a deactivated code still
// resolves for dates inside [effective, expiration], so historical
// transactions keep their rate. Only a code retired without an expiration
// drops out of dated lookups entirely.
func (t TaxCode) ActiveOn(date time.Time) bool {
	day := date.Truncate(24 * time.Hour)
	if day.Before(t.EffectiveDate.Truncate(24 * time.Hour)) {
		return false
	}
	if t.ExpirationDate != nil {
		return !day.After(t.ExpirationDate.Truncate(24 * time.Hour))
	}
	return t.IsActive
}

var (
	ErrTaxCodeNotFound = fmt.Errorf("tax code not found: %w", shared.ErrNotFound)
	ErrDuplicateCode   = fmt.Errorf("tax code already exists for effective date: %w", shared.ErrConflict)
	ErrAlreadyInactive = fmt.Errorf("tax code already inactive: %w", shared.ErrConflict)
	ErrAlreadyActive   = fmt.Errorf("tax code already active: %w", shared.ErrConflict)
	ErrBadWindow       = fmt.Errorf("expiration date precedes effective date: %w", shared.ErrValidation)
)

// CreateInput describes a new tax code.
type CreateInput struct {
	Code           string
	Name           string
	Description    string
	Rate           decimal.Decimal
	EffectiveDate  time.Time
	ExpirationDate *time.Time
}

// Validate checks structural rules.
func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.Code) == "" {
		return fmt.Errorf("code required: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("name required: %w", shared.ErrValidation)
	}
	if in.Rate.IsNegative() {
		return fmt.Errorf("rate must not be negative: %w", shared.ErrValidation)
	}
	if in.EffectiveDate.IsZero() {
		return fmt.Errorf("effective date required: %w", shared.ErrValidation)
	}
	if in.ExpirationDate != nil && in.ExpirationDate.Before(in.EffectiveDate) {
		return ErrBadWindow
	}
	return nil
}

// UpdateInput replaces the descriptive fields of a tax code. Rates and
// effective windows stay fixed once created; a rate change is a new code
// row with a later effective date.
type UpdateInput struct {
	Name        string
	Description string
}

// Validate checks structural rules.
func (in UpdateInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("name required: %w", shared.ErrValidation)
	}
	return nil
}
