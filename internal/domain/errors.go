// Package domain defines core types, interfaces, and errors for the BigQuery task layer.
package domain

import (
	"fmt"
	"time"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// SubmissionError indicates the warehouse rejected a job before it started:
// malformed SQL, missing permissions, exhausted quota or a transport failure.
// The underlying error is preserved for errors.Is / errors.As.
type SubmissionError struct {
	Task string
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s: submit job: %v", e.Task, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// QueryTimeoutError indicates a submitted job did not complete before its
// deadline. It is only produced when a timeout was configured.
type QueryTimeoutError struct {
	Task    string
	JobID   string
	Timeout time.Duration
}

func (e *QueryTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s (job %s)", e.Task, e.Timeout, e.JobID)
}

// TemplateError indicates a query template could not be found or rendered.
type TemplateError struct {
	Source string
	Err    error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %q: %v", e.Source, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}
