package notevault

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// Invalid input: the caller supplied something the vault cannot accept.
	ErrInvalidInput      = errors.New("notevault: invalid input")
	ErrWrongDenomination = errors.New("notevault: wrong denomination")
	ErrNonPositiveAmount = errors.New("notevault: amount must be strictly positive")
	ErrBucketConsumed    = errors.New("notevault: payment bucket already consumed")
	ErrInvalidRecipient  = errors.New("notevault: invalid recipient")

	// Unknown reference
	ErrNoteNotFound = errors.New("notevault: note not found")

	// Invalid state
	ErrNoteSpent = errors.New("notevault: note already spent")
	ErrNoteEmpty = errors.New("notevault: note has no withdrawable amount")

	// Internal accounting no longer balances. Never a caller mistake.
	ErrInvariantViolation = errors.New("notevault: invariant violation")

	// Lifecycle and store errors
	ErrNotStarted     = errors.New("notevault: ledger not started")
	ErrAlreadyStarted = errors.New("notevault: ledger already started")
	ErrStateNotFound  = errors.New("notevault: ledger state not found")
	ErrConflict       = errors.New("notevault: concurrent modification")
	ErrStoreClosed    = errors.New("notevault: store is closed")
)

// Kind classifies an error for callers that branch on the category rather
// than on a specific sentinel.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindUnknownReference
	KindInvalidState
	KindInvariantViolation
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindUnknownReference:
		return "unknown_reference"
	case KindInvalidState:
		return "invalid_state"
	case KindInvariantViolation:
		return "invariant_violation"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// KindOf reports the category of err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case IsInvalidInput(err):
		return KindInvalidInput
	case IsUnknownReference(err):
		return KindUnknownReference
	case IsInvalidState(err):
		return KindInvalidState
	case IsInvariantViolation(err):
		return KindInvariantViolation
	case errors.Is(err, ErrNotStarted),
		errors.Is(err, ErrAlreadyStarted),
		errors.Is(err, ErrStateNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrStoreClosed):
		return KindInfrastructure
	default:
		return KindUnknown
	}
}

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("notevault: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap returns the sentinel this validation failure belongs to.
func (e ValidationError) Unwrap() error { return e.Err }

// IsInvalidInput returns true if the caller supplied an unacceptable argument.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrWrongDenomination) ||
		errors.Is(err, ErrNonPositiveAmount) ||
		errors.Is(err, ErrBucketConsumed) ||
		errors.Is(err, ErrInvalidRecipient)
}

// IsUnknownReference returns true if the error names a note that does not exist.
func IsUnknownReference(err error) bool {
	return errors.Is(err, ErrNoteNotFound)
}

// IsInvalidState returns true if the note exists but cannot be withdrawn.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrNoteSpent) ||
		errors.Is(err, ErrNoteEmpty)
}

// IsInvariantViolation returns true if the vault's accounting is inconsistent.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}

// IsRetryable returns true if the error is temporary and the whole call can
// be repeated unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
