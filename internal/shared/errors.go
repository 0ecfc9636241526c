package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated indicates a missing, malformed or rejected bearer token.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidSignature indicates the token signature did not verify.
	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", ErrUnauthenticated)
	// ErrExpired indicates the token exp claim is in the past.
	ErrExpired = fmt.Errorf("%w: token expired", ErrUnauthenticated)
	// ErrPermissionDenied indicates resolution returned allowed=false.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrStorage indicates the override store or audit sink is unreachable.
	ErrStorage = errors.New("storage unavailable")
	// ErrValidation indicates a malformed input record.
	ErrValidation = errors.New("validation failed")
	// ErrVersionConflict indicates an optimistic concurrency mismatch.
	ErrVersionConflict = errors.New("version conflict")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates a governed record cannot move to the requested state.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ValidationError carries the offending field alongside ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation.
func (e ValidationError) Unwrap() error {
	return ErrValidation
}

// StorageError wraps a backend failure so that errors.Is(err, ErrStorage) holds
// while the cause stays reachable.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
