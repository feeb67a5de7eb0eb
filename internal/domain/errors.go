package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that an entity with the same key already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited indicates that the request was rate limited.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that an external service is unavailable.
	// Sources are demoted to this after retries are exhausted.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrCancelled indicates that an operation was cancelled.
	ErrCancelled = errors.New("cancelled")

	// ErrTransient marks failures that may succeed on retry.
	ErrTransient = errors.New("transient source failure")

	// ErrPermanent marks failures that will not succeed on retry.
	ErrPermanent = errors.New("permanent source failure")

	// ErrMalformedReference indicates a reference that cannot be verified in principle.
	ErrMalformedReference = errors.New("malformed reference")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AlreadyExistsError provides details about a duplicate entity.
type AlreadyExistsError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *AlreadyExistsError) Unwrap() error {
	return ErrAlreadyExists
}

// RateLimitError provides details about a rate limit error.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s: retry after %s", e.Source, e.RetryAfter)
}

// Is lets a RateLimitError match both ErrRateLimited and ErrTransient.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited || target == ErrTransient
}

// ExternalAPIError provides details about an external API error.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ExternalAPIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ExternalAPIError) Unwrap() error {
	return e.Cause
}

// IsTransient returns true for status codes that may succeed on retry.
// StatusCode 0 indicates no HTTP response was received.
func (e *ExternalAPIError) IsTransient() bool {
	return e.StatusCode == 0 || e.StatusCode == 408 || e.StatusCode == 429 || e.StatusCode >= 500
}

// TransientSourceError is a retryable failure of a source call
// (network error, timeout, rate limit, 5xx).
type TransientSourceError struct {
	Source string
	Op     string
	Cause  error
}

// Error implements the error interface.
func (e *TransientSourceError) Error() string {
	return fmt.Sprintf("%s %s: transient failure: %v", e.Source, e.Op, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *TransientSourceError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrTransient) match.
func (e *TransientSourceError) Is(target error) bool {
	return target == ErrTransient
}

// PermanentSourceError is a non-retryable failure of a source call
// (malformed query, explicit "no result", unparseable response).
type PermanentSourceError struct {
	Source string
	Op     string
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *PermanentSourceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Source, e.Op, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s %s: %s", e.Source, e.Op, e.Reason)
}

// Unwrap returns the underlying cause error.
func (e *PermanentSourceError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrPermanent) match.
func (e *PermanentSourceError) Is(target error) bool {
	return target == ErrPermanent
}

// MalformedReferenceError reports a reference missing both title and DOI.
type MalformedReferenceError struct {
	RawText string
}

// Error implements the error interface.
func (e *MalformedReferenceError) Error() string {
	return fmt.Sprintf("malformed reference (no title and no DOI): %q", truncate(e.RawText, 80))
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *MalformedReferenceError) Unwrap() error {
	return ErrMalformedReference
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(entity, id string) *AlreadyExistsError {
	return &AlreadyExistsError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(source string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{
		Source:     source,
		RetryAfter: retryAfter,
	}
}

// NewExternalAPIError creates a new ExternalAPIError.
func NewExternalAPIError(source string, statusCode int, message string, cause error) *ExternalAPIError {
	return &ExternalAPIError{
		Source:     source,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

// NewTransientSourceError creates a new TransientSourceError.
func NewTransientSourceError(source, op string, cause error) *TransientSourceError {
	return &TransientSourceError{Source: source, Op: op, Cause: cause}
}

// NewPermanentSourceError creates a new PermanentSourceError.
func NewPermanentSourceError(source, op, reason string, cause error) *PermanentSourceError {
	return &PermanentSourceError{Source: source, Op: op, Reason: reason, Cause: cause}
}

// IsTransient classifies err as retryable.
//
// Classification priority:
//  1. Context cancellation and deadline errors are never transient
//  2. Typed errors (TransientSourceError, RateLimitError, PermanentSourceError)
//  3. ExternalAPIError status codes
//  4. Default: not transient
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServiceUnavailable) {
		return true
	}
	var apiErr *ExternalAPIError
	if errors.As(err, &apiErr) {
		return apiErr.IsTransient()
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
