package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage matches every failure reported by the underlying database.
	ErrStorage = errors.New("cache: storage failure")
	// ErrInvalidKey is returned for empty keys or keys longer than the column allows.
	ErrInvalidKey = errors.New("cache: invalid key")
)

// OpError records the store operation that failed and the storage error behind it.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("cache: %s: %v", e.Op, e.Err)
}

// Unwrap exposes the driver error for errors.Is / errors.As.
func (e *OpError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports ErrStorage as a match so callers can branch on the failure category.
func (e *OpError) Is(target error) bool {
	return target == ErrStorage
}

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}
