package coa

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
	GetAccount(ctx context.Context, id uuid.UUID) (Account, error)
	GetAccountByCode(ctx context.Context, code string) (Account, error)
	InsertAccount(ctx context.Context, account Account) error
	UpdateAccount(ctx context.Context, account Account) error
	DeleteAccount(ctx context.Context, id uuid.UUID) error
	SetAccountActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) (Account, error)
	ListAccounts(ctx context.Context, includeInactive bool) ([]Account, error)
	CountAccounts(ctx context.Context, includeInactive bool) (int, error)
	CountChildren(ctx context.Context, id uuid.UUID) (int, error)
	CountLineReferences(ctx context.Context, id uuid.UUID) (int, error)
}

// Service owns all account-node mutations; nothing else writes the chart.
type Service struct {
	repo  RepositoryPort
	cache *HierarchyCache
	now   func() time.Time
}

// NewService constructs the chart-of-accounts service.
func NewService(repo RepositoryPort, cache *HierarchyCache) *Service {
	return &Service{repo: repo, cache: cache, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create inserts a new account after code, parent, and cycle checks.
func (s *Service) Create(ctx context.Context, in CreateInput) (Account, error) {
	if s.repo == nil {
		return Account{}, errNilRepo
	}
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	ts := s.now()
	account := Account{
		ID:          uuid.New(),
		Code:        in.Code,
		Name:        in.Name,
		Type:        in.Type,
		ParentID:    in.ParentID,
		Description: in.Description,
		IsActive:    true,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetAccountByCode(ctx, in.Code); err == nil {
			return fmt.Errorf("%w: code %s", ErrDuplicateCode, in.Code)
		} else if !isNotFound(err) {
			return err
		}
		if in.ParentID != nil {
			if err := s.checkParent(ctx, tx, account.ID, *in.ParentID); err != nil {
				return err
			}
		}
		return tx.InsertAccount(ctx, account)
	})
	if err != nil {
		return Account{}, err
	}
	s.cache.Bump(ctx)
	return account, nil
}

// Update applies mutable fields, re-validating parentage when it changes.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (Account, error) {
	if s.repo == nil {
		return Account{}, errNilRepo
	}
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	var updated Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if in.ParentID != nil {
			if *in.ParentID == id {
				return fmt.Errorf("%w: account %s cannot be its own parent", ErrCycle, id)
			}
			if err := s.checkParent(ctx, tx, id, *in.ParentID); err != nil {
				return err
			}
		}
		current.Name = in.Name
		current.Type = in.Type
		current.ParentID = in.ParentID
		current.Description = in.Description
		current.IsActive = in.IsActive
		current.UpdatedAt = s.now()
		if err := tx.UpdateAccount(ctx, current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.cache.Bump(ctx)
	return updated, nil
}

// checkParent verifies the candidate parent exists, is active, and that its
// ancestor chain never reaches childID. The walk carries a visited set and a
// depth bound so corrupt stored data cannot loop the service.
func (s *Service) checkParent(ctx context.Context, tx TxRepository, childID, parentID uuid.UUID) error {
	visited := map[uuid.UUID]bool{childID: true}
	cursor := parentID
	for depth := 0; depth < maxDepth; depth++ {
		if visited[cursor] {
			return fmt.Errorf("%w: account %s", ErrCycle, childID)
		}
		visited[cursor] = true
		parent, err := tx.GetAccount(ctx, cursor)
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: parent %s", ErrInvalidParent, cursor)
			}
			return err
		}
		if cursor == parentID && !parent.IsActive {
			return fmt.Errorf("%w: parent %s is inactive", ErrInvalidParent, cursor)
		}
		if parent.ParentID == nil {
			return nil
		}
		cursor = *parent.ParentID
	}
	return fmt.Errorf("%w: ancestor chain exceeds depth %d", ErrCycle, maxDepth)
}

// Delete removes an account with no children and no posted history. Callers
// holding history are expected to deactivate instead.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if s.repo == nil {
		return errNilRepo
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetAccount(ctx, id); err != nil {
			return err
		}
		children, err := tx.CountChildren(ctx, id)
		if err != nil {
			return err
		}
		if children > 0 {
			return fmt.Errorf("%w: account %s has %d children", ErrAccountInUse, id, children)
		}
		refs, err := tx.CountLineReferences(ctx, id)
		if err != nil {
			return err
		}
		if refs > 0 {
			return fmt.Errorf("%w: account %s referenced by %d journal lines", ErrAccountInUse, id, refs)
		}
		return tx.DeleteAccount(ctx, id)
	})
	if err != nil {
		return err
	}
	s.cache.Bump(ctx)
	return nil
}

// Deactivate retires an account without touching posted history.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (Account, error) {
	return s.setActive(ctx, id, false)
}

// Activate restores a retired account.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) (Account, error) {
	return s.setActive(ctx, id, true)
}

func (s *Service) setActive(ctx context.Context, id uuid.UUID, active bool) (Account, error) {
	if s.repo == nil {
		return Account{}, errNilRepo
	}
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.SetAccountActive(ctx, id, active, s.now())
		return err
	})
	if err != nil {
		return Account{}, err
	}
	s.cache.Bump(ctx)
	return account, nil
}

// Get loads one account by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Account, error) {
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.GetAccount(ctx, id)
		return err
	})
	return account, err
}

// GetByCode loads one account by its unique code.
func (s *Service) GetByCode(ctx context.Context, code string) (Account, error) {
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.GetAccountByCode(ctx, code)
		return err
	})
	return account, err
}

// List returns accounts ordered by code together with pagination metadata.
func (s *Service) List(ctx context.Context, includeInactive bool, page, perPage int) ([]Account, shared.Pagination, error) {
	var (
		accounts []Account
		total    int
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx, includeInactive)
		if err != nil {
			return err
		}
		total, err = tx.CountAccounts(ctx, includeInactive)
		return err
	})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	p := shared.NewPagination(page, perPage, total)
	start := p.Offset()
	if start > len(accounts) {
		start = len(accounts)
	}
	end := start + p.PerPage
	if end > len(accounts) {
		end = len(accounts)
	}
	return accounts[start:end], p, nil
}

// Hierarchy returns the chart as a forest of root nodes, consulting the Redis
// read-model cache before rebuilding from the store.
func (s *Service) Hierarchy(ctx context.Context, includeInactive bool) ([]*Node, error) {
	if forest, ok := s.cache.Get(ctx, includeInactive); ok {
		return forest, nil
	}
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx, includeInactive)
		return err
	})
	if err != nil {
		return nil, err
	}
	forest := BuildForest(accounts)
	s.cache.Set(ctx, includeInactive, forest)
	return forest, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
