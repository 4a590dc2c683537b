package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a session, participant or enemy that does not exist.
	// Terminal for the operation that hit it.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned once transactional-update retries are
	// exhausted. Resubmission is safe thanks to nonce deduplication.
	ErrConflict = errors.New("transaction conflict")

	// ErrDuplicateNonce marks an intent whose nonce was already seen for
	// this session. Treated as already applied, never as a failure.
	ErrDuplicateNonce = errors.New("duplicate nonce")

	ErrUnauthorized = errors.New("unauthorized")
	ErrSessionEnded = errors.New("session already ended")
)

// ValidationError is a non-fatal rejection surfaced to the submitting
// client with its reason text. No state is mutated when one is returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
