// Package periods maintains the fiscal calendar and its open/close lifecycle.
package periods

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crestline-dms/crestline/internal/shared"
)

// Period represents one fiscal period window. Start and end are calendar
// dates; time-of-day never participates in coverage checks.
type Period struct {
	ID           uuid.UUID  `json:"id"`
	FiscalYear   int        `json:"fiscal_year"`
	PeriodNumber int        `json:"period_number"`
	StartDate    time.Time  `json:"start_date"`
	EndDate      time.Time  `json:"end_date"`
	IsClosed     bool       `json:"is_closed"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	ClosedBy     string     `json:"closed_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Covers reports whether date falls inside [StartDate, EndDate].
func (p Period) Covers(date time.Time) bool {
	d := truncateToDay(date)
	return !d.Before(truncateToDay(p.StartDate)) && !d.After(truncateToDay(p.EndDate))
}

// Label renders the conventional YYYY-Pn identifier.
func (p Period) Label() string {
	return fmt.Sprintf("%d-P%d", p.FiscalYear, p.PeriodNumber)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

var (
	// ErrPeriodNotFound indicates an unknown period id or an uncovered date.
	ErrPeriodNotFound = fmt.Errorf("periods: period %w", shared.ErrNotFound)
	// ErrAlreadyClosed indicates a close on a closed period.
	ErrAlreadyClosed = fmt.Errorf("periods: period already closed: %w", shared.ErrConflict)
	// ErrNotClosed indicates a reopen on an open period.
	ErrNotClosed = fmt.Errorf("periods: period is not closed: %w", shared.ErrConflict)
	// ErrDuplicatePeriod indicates the fiscal year + number pair exists.
	ErrDuplicatePeriod = fmt.Errorf("periods: period already exists: %w", shared.ErrConflict)
	// ErrOverlap indicates the date range collides with an existing period.
	ErrOverlap = fmt.Errorf("periods: period overlaps existing range: %w", shared.ErrValidation)
	// ErrYearPopulated indicates generation into a non-empty fiscal year.
	ErrYearPopulated = fmt.Errorf("periods: fiscal year already has periods: %w", shared.ErrConflict)
)

// CreateInput carries fields for a new period.
type CreateInput struct {
	FiscalYear   int
	PeriodNumber int
	StartDate    time.Time
	EndDate      time.Time
}

// Validate checks structural requirements before any store access.
func (in CreateInput) Validate() error {
	if in.PeriodNumber < 1 || in.PeriodNumber > 12 {
		return fmt.Errorf("periods: period number must be between 1 and 12: %w", shared.ErrValidation)
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return fmt.Errorf("periods: start and end date required: %w", shared.ErrValidation)
	}
	if !in.StartDate.Before(in.EndDate) {
		return fmt.Errorf("periods: start date must be before end date: %w", shared.ErrValidation)
	}
	return nil
}

// GenerateInput parameterises fiscal-year generation.
type GenerateInput struct {
	FiscalYear  int
	StartMonth  int
	PeriodCount int
}

// Validate checks generation bounds.
func (in GenerateInput) Validate() error {
	if in.StartMonth < 1 || in.StartMonth > 12 {
		return fmt.Errorf("periods: start month must be between 1 and 12: %w", shared.ErrValidation)
	}
	if in.PeriodCount < 1 || in.PeriodCount > 12 {
		return fmt.Errorf("periods: period count must be between 1 and 12: %w", shared.ErrValidation)
	}
	return nil
}
