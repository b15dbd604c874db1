package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeHub represents failures talking to the model hub
	ErrorTypeHub ErrorType = "hub"
	// ErrorTypeAggregation represents a broken fold (always a bug)
	ErrorTypeAggregation ErrorType = "aggregation"
	// ErrorTypeGraph represents graph database errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeExport represents file sink errors
	ErrorTypeExport ErrorType = "export"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Hub Errors

// FetchError is returned when the commit history of a repository cannot be retrieved.
// StatusCode is zero for transport-level failures.
type FetchError struct {
	*BaseError
	Repository string
	StatusCode int
	RetryAfter time.Duration
}

func NewFetchError(repository string, statusCode int, err error) *FetchError {
	msg := fmt.Sprintf("fetch failed for %s", repository)
	if statusCode != 0 {
		msg = fmt.Sprintf("fetch failed for %s (status %d)", repository, statusCode)
	}
	return &FetchError{
		BaseError:  NewBaseError(ErrorTypeHub, msg, err),
		Repository: repository,
		StatusCode: statusCode,
	}
}

// NewRateLimited creates a FetchError for an HTTP 429 response
func NewRateLimited(repository string, retryAfter time.Duration) *FetchError {
	fe := NewFetchError(repository, http.StatusTooManyRequests, nil)
	fe.Message = fmt.Sprintf("rate limited while fetching %s", repository)
	fe.RetryAfter = retryAfter
	return fe
}

// Temporary reports whether retrying the same request can succeed
func (e *FetchError) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// ErrCatalogFailed is returned when the repository listing cannot be retrieved
type ErrCatalogFailed struct {
	*BaseError
	Kind string
}

func NewCatalogFailed(kind string, err error) *ErrCatalogFailed {
	return &ErrCatalogFailed{
		BaseError: NewBaseError(ErrorTypeHub, fmt.Sprintf("failed to list %ss", kind), err),
		Kind:      kind,
	}
}

// Aggregation Errors

// AggregationInvariantViolation signals a broken fold. It is never transient.
type AggregationInvariantViolation struct {
	*BaseError
	Repository string
	Detail     string
}

func NewAggregationInvariantViolation(repository, detail string) *AggregationInvariantViolation {
	return &AggregationInvariantViolation{
		BaseError:  NewBaseError(ErrorTypeAggregation, fmt.Sprintf("invariant violated for %s: %s", repository, detail), nil),
		Repository: repository,
		Detail:     detail,
	}
}

// Graph Errors

// ErrGraphConnectionFailed is returned when Neo4j connection fails
type ErrGraphConnectionFailed struct {
	*BaseError
	URI string
}

func NewGraphConnectionFailed(uri string, err error) *ErrGraphConnectionFailed {
	return &ErrGraphConnectionFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("failed to connect to Neo4j: %s", uri), err),
		URI:       uri,
	}
}

// ErrGraphQueryFailed is returned when a graph query fails
type ErrGraphQueryFailed struct {
	*BaseError
	Query string
}

func NewGraphQueryFailed(query string, err error) *ErrGraphQueryFailed {
	return &ErrGraphQueryFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("query failed: %s", query), err),
		Query:     query,
	}
}

// Export Errors

// ErrExportFailed is returned when writing an output file fails
type ErrExportFailed struct {
	*BaseError
	Path string
}

func NewExportFailed(path string, err error) *ErrExportFailed {
	return &ErrExportFailed{
		BaseError: NewBaseError(ErrorTypeExport, fmt.Sprintf("failed to write %s", path), err),
		Path:      path,
	}
}

// Context Errors

// ErrContextCancelled is returned when context is cancelled
type ErrContextCancelled struct {
	*BaseError
	Operation string
}

func NewContextCancelled(operation string, err error) *ErrContextCancelled {
	return &ErrContextCancelled{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context cancelled: %s", operation), err),
		Operation: operation,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	var typed interface{ errorType() ErrorType }
	if stderrors.As(err, &typed) {
		return typed.errorType() == errType
	}
	return false
}

func (e *BaseError) errorType() ErrorType { return e.Type }

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Context errors are not retryable
	if IsErrorType(err, ErrorTypeContext) || stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var fetchErr *FetchError
	if stderrors.As(err, &fetchErr) {
		return fetchErr.Temporary()
	}
	// Graph connection errors are retryable
	if IsErrorType(err, ErrorTypeGraph) {
		return true
	}
	return false
}

// RetryAfter returns the server-requested wait carried by err, if any
func RetryAfter(err error) time.Duration {
	var fetchErr *FetchError
	if stderrors.As(err, &fetchErr) {
		return fetchErr.RetryAfter
	}
	return 0
}
