package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthenticated covers every failed identity resolution, regardless
	// of which verification path failed.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrSubscriptionNotFound means the identity has no subscription record
	// at all, as opposed to having one with no quota left.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrQuotaExceeded is the target for errors.Is on *QuotaError.
	ErrQuotaExceeded = errors.New("daily quota exceeded")

	// ErrStorageUnavailable wraps transient storage or provider failures.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// QuotaError carries the limit information the caller needs to explain a
// denial. Not retryable until the next day boundary.
type QuotaError struct {
	Limit    int
	Used     int
	ResetsAt time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily quota exceeded: used %d of %d", e.Used, e.Limit)
}

func (e *QuotaError) Is(target error) bool { return target == ErrQuotaExceeded }

// StorageError marks an underlying storage failure as transient.
func StorageError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

// Retryable reports whether the caller may retry the failed operation.
// Quota and authentication outcomes are final for the current day/request;
// only transient storage failures are worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
