package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeFormat   ErrorType = "format"
	ErrorTypeNotFound ErrorType = "not_found"
	ErrorTypeConflict ErrorType = "conflict"
	ErrorTypeStorage  ErrorType = "storage"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is; domain errors match on type and message
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type && (t.Message == "" || e.Message == t.Message)
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// NewFormatError reports malformed import input or an invalid request parameter
func NewFormatError(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeFormat, message, err)
}

// NewNotFoundError reports an unknown participant id
func NewNotFoundError(id string) *DomainError {
	return NewDomainError(ErrorTypeNotFound, "participant not found", nil).WithDetail("id", id)
}

// NewConflictError reports a transition that is not allowed from the current state
func NewConflictError(message string) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, nil)
}

// NewStorageError wraps a store failure
func NewStorageError(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeStorage, message, err)
}

// Domain error variables, usable as errors.Is targets

var (
	ErrEmptyInput          = NewDomainError(ErrorTypeFormat, "empty input", nil)
	ErrInvalidHeader       = NewDomainError(ErrorTypeFormat, "invalid header", nil)
	ErrMissingColumns      = NewDomainError(ErrorTypeFormat, "missing required columns", nil)
	ErrInvalidRow          = NewDomainError(ErrorTypeFormat, "invalid row", nil)
	ErrEmptyID             = NewDomainError(ErrorTypeFormat, "participant id is required", nil)
	ErrParticipantNotFound = NewDomainError(ErrorTypeNotFound, "participant not found", nil)
	ErrAlreadyCheckedIn    = NewDomainError(ErrorTypeConflict, "already checked in", nil)
)

// Error type checking helper functions

// IsFormatError checks if an error is a format error
func IsFormatError(err error) bool {
	return GetErrorType(err) == ErrorTypeFormat
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsStorageError checks if an error is a storage error
func IsStorageError(err error) bool {
	return GetErrorType(err) == ErrorTypeStorage
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// GetErrorMessage returns the client-facing message of a domain error
func GetErrorMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return ""
}
