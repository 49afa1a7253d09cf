package domain

import (
	"errors"
	"fmt"
)

// The three error kinds every operation in the engine maps its failures to.
// Callers branch on them with errors.Is; everything else wraps one of these.
var (
	// ErrConfig marks invalid or missing configuration: unknown venue,
	// unsupported interval, malformed strategy parameters. Not retryable.
	ErrConfig = errors.New("configuration error")

	// ErrConnectivity marks transport-level failures: timeouts, connection
	// resets, DNS. Retryable with backoff.
	ErrConnectivity = errors.New("connectivity error")

	// ErrBusiness marks requests the venue understood and rejected:
	// insufficient balance, bad permissions, size below minimum. Not
	// retryable without state change.
	ErrBusiness = errors.New("business error")
)

// Infrastructure sentinels.
var (
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
)

// ConfigErrorf builds an error wrapping ErrConfig.
func ConfigErrorf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConfig)...)
}

// ConnectivityErrorf builds an error wrapping ErrConnectivity.
func ConnectivityErrorf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConnectivity)...)
}

// BusinessErrorf builds an error wrapping ErrBusiness.
func BusinessErrorf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrBusiness)...)
}
