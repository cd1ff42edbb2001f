package shared

import "errors"

// Error taxonomy shared by every ledger module. Package-level sentinels wrap
// exactly one of these kinds, so callers can branch on either the specific
// failure (errors.Is(err, ledger.ErrAlreadyPosted)) or the class
// (errors.Is(err, shared.ErrConflict)).
var (
	// ErrNotFound indicates an unknown identifier.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the requested transition is already satisfied.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState indicates the operation is forbidden in the entity's current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation indicates request content violating a business rule.
	ErrValidation = errors.New("validation failed")
	// ErrReferential indicates dependents block a delete.
	ErrReferential = errors.New("referential integrity violation")
	// ErrUnavailable marks infrastructure faults, the only retry-eligible class.
	ErrUnavailable = errors.New("store unavailable")
)
