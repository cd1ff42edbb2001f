package taxcodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes operations available within a transaction.
type TxRepository interface {
	GetTaxCode(ctx context.Context, id uuid.UUID) (TaxCode, error)
	GetTaxCodeForUpdate(ctx context.Context, id uuid.UUID) (TaxCode, error)
	// FindByCodeOn returns the code row whose effective window covers date.
	FindByCodeOn(ctx context.Context, code string, date time.Time) (TaxCode, error)
	ListTaxCodes(ctx context.Context, includeInactive bool) ([]TaxCode, error)
	ListActiveOn(ctx context.Context, date time.Time) ([]TaxCode, error)
	InsertTaxCode(ctx context.Context, tc TaxCode) error
	UpdateTaxCode(ctx context.Context, tc TaxCode) error
	// SetActive flips the active flag only when the stored value differs;
	// it reports false when the compare-and-set matched no row.
	SetActive(ctx context.Context, id uuid.UUID, active bool, expirationDate *time.Time, updatedAt time.Time) (bool, error)
}

// Service owns the tax code registry.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService constructs the tax code service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create registers a new tax code. The same code may exist multiple times
// with different effective dates; the pair must be unique.
func (s *Service) Create(ctx context.Context, in CreateInput) (TaxCode, error) {
	if s.repo == nil {
		return TaxCode{}, errNilRepo
	}
	if err := in.Validate(); err != nil {
		return TaxCode{}, err
	}
	now := s.now().UTC()
	tc := TaxCode{
		ID:             uuid.New(),
		Code:           in.Code,
		Name:           in.Name,
		Description:    in.Description,
		Rate:           in.Rate,
		EffectiveDate:  in.EffectiveDate,
		ExpirationDate: in.ExpirationDate,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertTaxCode(ctx, tc)
	})
	if err != nil {
		return TaxCode{}, err
	}
	return tc, nil
}

// Update changes the descriptive fields of a tax code.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (TaxCode, error) {
	if s.repo == nil {
		return TaxCode{}, errNilRepo
	}
	if err := in.Validate(); err != nil {
		return TaxCode{}, err
	}
	var updated TaxCode
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		tc, err := tx.GetTaxCodeForUpdate(ctx, id)
		if err != nil {
			return err
		}
		tc.Name = in.Name
		tc.Description = in.Description
		tc.UpdatedAt = s.now().UTC()
		if err := tx.UpdateTaxCode(ctx, tc); err != nil {
			return err
		}
		updated = tc
		return nil
	})
	if err != nil {
		return TaxCode{}, err
	}
	return updated, nil
}

// Deactivate retires a tax code, optionally stamping an expiration date
// so historical lookups keep working for dates inside the window.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID, expirationDate *time.Time) (TaxCode, error) {
	return s.setActive(ctx, id, false, expirationDate)
}

// Activate restores a retired tax code.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) (TaxCode, error) {
	return s.setActive(ctx, id, true, nil)
}

func (s *Service) setActive(ctx context.Context, id uuid.UUID, active bool, expirationDate *time.Time) (TaxCode, error) {
	if s.repo == nil {
		return TaxCode{}, errNilRepo
	}
	var result TaxCode
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		tc, err := tx.GetTaxCodeForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if tc.IsActive == active {
			if active {
				return fmt.Errorf("%s: %w", tc.Code, ErrAlreadyActive)
			}
			return fmt.Errorf("%s: %w", tc.Code, ErrAlreadyInactive)
		}
		if expirationDate != nil && expirationDate.Before(tc.EffectiveDate) {
			return ErrBadWindow
		}
		now := s.now().UTC()
		ok, err := tx.SetActive(ctx, id, active, expirationDate, now)
		if err != nil {
			return err
		}
		if !ok {
			if active {
				return fmt.Errorf("%s: %w", tc.Code, ErrAlreadyActive)
			}
			return fmt.Errorf("%s: %w", tc.Code, ErrAlreadyInactive)
		}
		tc.IsActive = active
		if expirationDate != nil {
			tc.ExpirationDate = expirationDate
		}
		tc.UpdatedAt = now
		result = tc
		return nil
	})
	if err != nil {
		return TaxCode{}, err
	}
	return result, nil
}

// Get fetches a tax code by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (TaxCode, error) {
	if s.repo == nil {
		return TaxCode{}, errNilRepo
	}
	var tc TaxCode
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		tc, err = tx.GetTaxCode(ctx, id)
		return err
	})
	if err != nil {
		return TaxCode{}, err
	}
	return tc, nil
}

// GetByCode resolves the code row effective on the given date. A zero
// date means today.
func (s *Service) GetByCode(ctx context.Context, code string, date time.Time) (TaxCode, error) {
	if s.repo == nil {
		return TaxCode{}, errNilRepo
	}
	if date.IsZero() {
		date = s.now().UTC()
	}
	var tc TaxCode
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		tc, err = tx.FindByCodeOn(ctx, code, date)
		return err
	})
	if err != nil {
		return TaxCode{}, err
	}
	return tc, nil
}

// List returns all tax codes, optionally including retired ones.
func (s *Service) List(ctx context.Context, includeInactive bool) ([]TaxCode, error) {
	if s.repo == nil {
		return nil, errNilRepo
	}
	var list []TaxCode
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		list, err = tx.ListTaxCodes(ctx, includeInactive)
		return err
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// ListActiveOn returns every code applicable on the given date.
func (s *Service) ListActiveOn(ctx context.Context, date time.Time) ([]TaxCode, error) {
	if s.repo == nil {
		return nil, errNilRepo
	}
	if date.IsZero() {
		date = s.now().UTC()
	}
	var list []TaxCode
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		list, err = tx.ListActiveOn(ctx, date)
		return err
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

var errNilRepo = errors.New("tax code service: repository not configured")
