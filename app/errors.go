package app

import "fmt"

// PersistenceError is returned when a store cannot be read or written.
// Quota checks fail closed on it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ProcessingError is returned when the image engine fails. No usage is
// recorded for the request.
type ProcessingError struct {
	Err error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing failed: %v", e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
