package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrCancelled     = errors.New("download cancelled")
	ErrClosed        = errors.New("download manager closed")
	ErrBatchNotFound = errors.New("batch not found")
	ErrNotReady      = errors.New("download manager not ready")
	ErrEmptyBatch    = errors.New("batch has no requests")
)

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// IsCancelled reports whether err is a user or context cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
