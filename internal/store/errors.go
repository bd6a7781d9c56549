// internal/store/errors.go
package store

import (
	"context"
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrStorage matches every *StorageError.
	ErrStorage = errors.New("storage failure")
	// ErrTxDone is returned when a unit of work is used after it finished.
	ErrTxDone = errors.New("unit of work already finished")
	// ErrVersionConflict means another unit of work appended to the same
	// order history first.
	ErrVersionConflict = errors.New("concurrency conflict: version mismatch")
)

// StorageError is a persistence or connectivity fault. It is the only kind
// of failure the engine propagates as an error rather than a result.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Fault wraps err as a StorageError for op. Nil stays nil and errors that
// already are storage faults are not wrapped twice.
func Fault(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: pkgerrors.WithStack(err)}
}

// IsTimeout reports whether a storage fault was caused by the caller's
// deadline or cancellation.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
