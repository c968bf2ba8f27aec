package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the scheduling engine and its storage layer.
// Read-path denials (outside window, override exhausted, ...) travel as
// these sentinels internally and are converted into allowed=false results
// at the engine boundary; only infrastructure failures propagate as errors.
var (
	ErrScheduleInactive    = errors.New("schedule inactive")
	ErrScheduleNotFound    = errors.New("schedule not found")
	ErrNoWindowConfigured  = errors.New("no testing window configured")
	ErrOutsideWindow       = errors.New("outside testing window")
	ErrOverridesDisabled   = errors.New("override codes disabled")
	ErrOverrideNotFound    = errors.New("override code not found")
	ErrOverrideExpired     = errors.New("override code expired")
	ErrOverrideExhausted   = errors.New("override code exhausted")
	ErrOverrideRateLimited = errors.New("override attempts rate limited")
	ErrOverrideCodeExists  = errors.New("override code already exists")
	ErrAlreadyActive       = errors.New("attempt already active")
	ErrSessionNotFound     = errors.New("no active session")
	ErrGraceExpired        = errors.New("grace period expired")
	ErrInvalidScheduleData = errors.New("invalid schedule data")
	ErrStorageUnavailable  = errors.New("storage unavailable")
)

// StorageError wraps an infrastructure failure from the storage layer so
// callers can match it with errors.Is(err, ErrStorageUnavailable) while the
// underlying cause stays visible in logs.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports ErrStorageUnavailable as a match so the sentinel taxonomy
// stays uniform across typed and untyped errors.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

// NewStorageError wraps err as a storage failure for operation op.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// IsStorageUnavailable checks whether err represents a storage failure.
func IsStorageUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsDenial reports whether err is a scheduling denial rather than an
// infrastructure failure. Denials become allowed=false responses.
func IsDenial(err error) bool {
	for _, denial := range []error{
		ErrScheduleInactive,
		ErrScheduleNotFound,
		ErrNoWindowConfigured,
		ErrOutsideWindow,
		ErrOverridesDisabled,
		ErrOverrideNotFound,
		ErrOverrideExpired,
		ErrOverrideExhausted,
		ErrOverrideRateLimited,
		ErrAlreadyActive,
		ErrSessionNotFound,
		ErrGraceExpired,
	} {
		if errors.Is(err, denial) {
			return true
		}
	}
	return false
}
