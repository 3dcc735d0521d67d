// Package skerr provides the error helpers used throughout this repo.
//
// Errors created or passed through this package carry a stack trace, so a
// log line at the top of a worker shows where deep inside the store or the
// archive builder the failure actually happened.
package skerr

import (
	"github.com/pkg/errors"
)

// Fmt creates a new error with a stack trace, fmt.Errorf-style.
func Fmt(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Wrap annotates err with a stack trace taken at the call site. Returns nil
// if err is nil. Wrapping an already-wrapped error is harmless.
func Wrap(err error) error {
	return errors.WithStack(err)
}

// Wrapf annotates err with a stack trace and a message. Returns nil if err
// is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Unwrap returns the underlying cause of err, for callers that need to
// compare against sentinel errors directly.
func Unwrap(err error) error {
	return errors.Cause(err)
}
