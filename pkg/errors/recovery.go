// Package errors provides comprehensive error handling utilities.
//
// This file contains panic recovery utilities that keep estimators and pipeline
// stages from crashing the process by converting unexpected panics into
// structured errors with debugging information.

package errors

import (
	"fmt"
	"runtime/debug"
)

// PanicError represents an error that was created from a recovered panic.
// It includes the original panic value and stack trace information.
type PanicError struct {
	// PanicValue is the original value passed to panic()
	PanicValue interface{}

	// StackTrace contains the stack trace at the time of panic
	StackTrace string

	// Operation identifies where the panic was recovered
	Operation string
}

// Error implements the error interface for PanicError.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.PanicValue)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.PanicValue.(error); ok {
		return err
	}
	return nil
}

// String provides detailed information including stack trace.
func (e *PanicError) String() string {
	return fmt.Sprintf("panic in %s: %v\nStack trace:\n%s",
		e.Operation, e.PanicValue, e.StackTrace)
}

// NewPanicError creates a new PanicError with the given operation context and panic value.
func NewPanicError(operation string, panicValue interface{}) *PanicError {
	return &PanicError{
		PanicValue: panicValue,
		StackTrace: string(debug.Stack()),
		Operation:  operation,
	}
}

// Recover is a utility function to be used with defer to recover from panics
// and convert them into errors.
//
// Usage:
//
//	func (f *RandomForestClassifier) Fit(X, y mat.Matrix) (err error) {
//	    defer Recover(&err, "RandomForestClassifier.Fit")
//	    ...
//	}
//
// If the function already has an error, the panic information is wrapped around it.
func Recover(err *error, operation string) {
	if r := recover(); r != nil {
		*err = fromPanic(*err, operation, r)
	}
}

// RecoverAs behaves like Recover but passes the resulting error through wrap,
// so a pipeline stage can surface panics as its own error type.
//
//	defer RecoverAs(&err, "ModelTrainer.Train", func(e error) error {
//	    return NewTrainingError("fit", e)
//	})
func RecoverAs(err *error, operation string, wrap func(error) error) {
	if r := recover(); r != nil {
		*err = wrap(fromPanic(*err, operation, r))
	}
}

func fromPanic(existing error, operation string, r interface{}) error {
	if existing != nil {
		return fmt.Errorf("panic in %s: %v (original error: %w)", operation, r, existing)
	}
	return NewPanicError(operation, r)
}

// SafeExecute executes a function and recovers from any panic, converting it to an error.
//
// Example:
//
//	err := SafeExecute("tree fit", func() error {
//	    return tree.Fit(X, y)
//	})
func SafeExecute(operation string, fn func() error) (err error) {
	defer Recover(&err, operation)
	return fn()
}
