// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the application error taxonomy shared by all
// authgate services. Every error carries a machine-readable type; conflict
// and validation errors additionally carry the offending key or field.
package errors

import (
	"errors"
	"fmt"
)

// Error types
const (
	// ErrNotFound is returned when a requested object does not exist
	ErrNotFound = "not_found"

	// ErrConflict is returned on duplicate keys or unique index violations
	ErrConflict = "conflict"

	// ErrValidation is returned when input fails validation
	ErrValidation = "validation"

	// ErrForbidden is returned when the caller lacks authorization
	ErrForbidden = "forbidden"

	// ErrUnauthenticated is returned when the caller is not authenticated
	ErrUnauthenticated = "unauthenticated"

	// ErrClientNotFound is returned when an OAuth client does not exist
	ErrClientNotFound = "client_not_found"

	// ErrInvalidClientSecret is returned when client authentication fails
	ErrInvalidClientSecret = "invalid_client_secret"

	// ErrClientPolicyViolation is returned when a client request parameter
	// is outside the client's registered metadata
	ErrClientPolicyViolation = "client_policy_violation"

	// ErrVersionConflict is returned when an optimistic-version write loses a race
	ErrVersionConflict = "version_conflict"

	// ErrUnimplemented is returned for configured but unimplemented features
	ErrUnimplemented = "unimplemented"

	// ErrInternal is returned for unexpected internal failures
	ErrInternal = "internal"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Key is the offending key or field, if the type carries one
	Key string

	// Value is the offending value, if the type carries one
	Value string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *Error {
	return NewError(ErrNotFound, message, cause)
}

// NewConflictError creates a new conflict error carrying the offending key and value
func NewConflictError(key, value string) *Error {
	return &Error{
		Type:    ErrConflict,
		Message: fmt.Sprintf("%s already in use: %s", key, value),
		Key:     key,
		Value:   value,
	}
}

// NewValidationError creates a new validation error for the given field
func NewValidationError(field, message string) *Error {
	return &Error{
		Type:    ErrValidation,
		Message: message,
		Key:     field,
	}
}

// NewForbiddenError creates a new forbidden error
func NewForbiddenError(message string) *Error {
	return NewError(ErrForbidden, message, nil)
}

// NewUnauthenticatedError creates a new unauthenticated error
func NewUnauthenticatedError(message string) *Error {
	return NewError(ErrUnauthenticated, message, nil)
}

// NewClientNotFoundError creates a new client not found error
func NewClientNotFoundError(clientID string) *Error {
	return &Error{
		Type:    ErrClientNotFound,
		Message: fmt.Sprintf("client %q not found", clientID),
		Key:     "client_id",
		Value:   clientID,
	}
}

// NewInvalidClientSecretError creates a new invalid client secret error
func NewInvalidClientSecretError(clientID string) *Error {
	return &Error{
		Type:    ErrInvalidClientSecret,
		Message: fmt.Sprintf("invalid secret for client %q", clientID),
		Key:     "client_id",
		Value:   clientID,
	}
}

// NewClientPolicyViolationError creates a new client policy violation error
// naming the request field that is outside the client's registered metadata
func NewClientPolicyViolationError(clientID, field, value string) *Error {
	return &Error{
		Type:    ErrClientPolicyViolation,
		Message: fmt.Sprintf("client %q is not registered for %s %q", clientID, field, value),
		Key:     field,
		Value:   value,
	}
}

// NewVersionConflictError creates a new version conflict error
func NewVersionConflictError(message string, cause error) *Error {
	return NewError(ErrVersionConflict, message, cause)
}

// NewUnimplementedError creates a new unimplemented error
func NewUnimplementedError(message string) *Error {
	return NewError(ErrUnimplemented, message, nil)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// typeOf extracts the application error type, or "" for foreign errors.
func typeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// As extracts the application error from err's chain, if present.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return typeOf(err) == ErrNotFound
}

// IsConflict checks if the error is a conflict error
func IsConflict(err error) bool {
	return typeOf(err) == ErrConflict
}

// IsValidation checks if the error is a validation error
func IsValidation(err error) bool {
	return typeOf(err) == ErrValidation
}

// IsForbidden checks if the error is a forbidden error
func IsForbidden(err error) bool {
	return typeOf(err) == ErrForbidden
}

// IsUnauthenticated checks if the error is an unauthenticated error
func IsUnauthenticated(err error) bool {
	return typeOf(err) == ErrUnauthenticated
}

// IsClientNotFound checks if the error is a client not found error
func IsClientNotFound(err error) bool {
	return typeOf(err) == ErrClientNotFound
}

// IsInvalidClientSecret checks if the error is an invalid client secret error
func IsInvalidClientSecret(err error) bool {
	return typeOf(err) == ErrInvalidClientSecret
}

// IsClientPolicyViolation checks if the error is a client policy violation error
func IsClientPolicyViolation(err error) bool {
	return typeOf(err) == ErrClientPolicyViolation
}

// IsVersionConflict checks if the error is a version conflict error
func IsVersionConflict(err error) bool {
	return typeOf(err) == ErrVersionConflict
}

// IsUnimplemented checks if the error is an unimplemented error
func IsUnimplemented(err error) bool {
	return typeOf(err) == ErrUnimplemented
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	return typeOf(err) == ErrInternal
}
