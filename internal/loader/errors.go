package loader

import (
	"errors"
	"fmt"
)

// ErrorClass groups row failures for reporting.
type ErrorClass string

const (
	ClassTransform  ErrorClass = "transform"
	ClassConstraint ErrorClass = "constraint"
	ClassDatabase   ErrorClass = "database"
	ClassBatch      ErrorClass = "batch"
)

// RowError is a single failed row.
type RowError struct {
	Sheet  string
	Row    int
	TranID string
	Class  ErrorClass
	Err    error
}

func (e *RowError) Error() string {
	if e.TranID != "" {
		return fmt.Sprintf("%s row %d (%s) %s: %v", e.Sheet, e.Row, e.TranID, e.Class, e.Err)
	}
	return fmt.Sprintf("%s row %d %s: %v", e.Sheet, e.Row, e.Class, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// ConstraintViolation is a database rejection of a single row (SQLSTATE
// classes 22 and 23), other than the natural-key conflict the upsert absorbs.
type ConstraintViolation struct {
	Code       string
	Constraint string
	Message    string
	Err        error
}

func (e *ConstraintViolation) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("constraint %s violated (%s): %s", e.Constraint, e.Code, e.Message)
	}
	return fmt.Sprintf("invalid value (%s): %s", e.Code, e.Message)
}

func (e *ConstraintViolation) Unwrap() error { return e.Err }

func classify(err error) ErrorClass {
	var cv *ConstraintViolation
	if errors.As(err, &cv) {
		return ClassConstraint
	}
	return ClassDatabase
}
