// Package errors defines the error taxonomy shared by every duitvault package.
//
// Packages wrap these sentinels with fmt.Errorf("...: %w", ...) so callers can
// branch with errors.Is regardless of which layer produced the failure.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Key and passphrase errors.
var (
	// ErrMissingPassphrase is returned when a key must be derived but no passphrase was supplied.
	ErrMissingPassphrase = errors.New("master passphrase required")

	// ErrNoActiveKey is returned when an operation needs the session key and none is cached.
	ErrNoActiveKey = errors.New("no active key, unlock the vault first")

	// ErrDecryption covers wrong keys as well as corrupted or tampered ciphertext.
	ErrDecryption = errors.New("failed to decrypt payload")
)

// Session errors.
var (
	// ErrCooldown is matched by CooldownError.
	ErrCooldown = errors.New("too many attempts")

	// ErrInvalidCredentials is returned for a wrong PIN or password.
	ErrInvalidCredentials = errors.New("invalid PIN or password")

	// ErrLocked is returned when an operation requires an unlocked session.
	ErrLocked = errors.New("vault is locked")

	// ErrNotImplemented is returned by unlock methods that are not available.
	ErrNotImplemented = errors.New("not implemented")
)

// Data errors.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates a value failed validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidFormat indicates a malformed or unrecognized backup file.
	ErrInvalidFormat = errors.New("invalid backup format")

	// ErrNotInitialized indicates the vault has no crypto metadata yet.
	ErrNotInitialized = errors.New("vault not initialized")

	// ErrAlreadyExists indicates the vault was already set up.
	ErrAlreadyExists = errors.New("vault already exists")

	// ErrImportIncomplete indicates an import failed after local data was
	// replaced. The vault opens with neither passphrase until the backup is
	// imported again.
	ErrImportIncomplete = errors.New("import did not complete, import the backup again")
)

// CooldownError is returned while unlock attempts are throttled.
type CooldownError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: please wait %v", ErrCooldown, e.Remaining.Round(time.Second))
}

// Is makes errors.Is(err, ErrCooldown) match.
func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldown
}

// Wrap wraps an error with additional context while preserving the error chain.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
