package errors

import (
	"errors"
	"fmt"
	"time"
)

// DomainError is the base interface for all structured errors in the portal.
type DomainError interface {
	error

	// Domain returns the domain context (e.g. "auth", "connection", "node").
	Domain() string

	// Code returns a stable error code for API responses.
	Code() string

	// Metadata returns additional error context.
	Metadata() map[string]any

	// WithMetadata returns a copy of the error with extra metadata.
	WithMetadata(key string, value any) DomainError

	// Timestamp returns when the error occurred.
	Timestamp() time.Time
}

// BaseError is the foundational implementation of DomainError.
type BaseError struct {
	domain    string
	code      string
	message   string
	cause     error
	metadata  map[string]any
	timestamp time.Time
}

func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.domain, e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.domain, e.code, e.message)
}

func (e *BaseError) Unwrap() error { return e.cause }

// Message returns the construction-site message without the domain prefix
// or the cause chain; safe for client-facing responses.
func (e *BaseError) Message() string { return e.message }
func (e *BaseError) Domain() string           { return e.domain }
func (e *BaseError) Code() string             { return e.code }
func (e *BaseError) Metadata() map[string]any { return e.metadata }
func (e *BaseError) Timestamp() time.Time     { return e.timestamp }

// WithMetadata returns a copy of the error carrying the extra key/value.
func (e *BaseError) WithMetadata(key string, value any) DomainError {
	newMeta := make(map[string]any, len(e.metadata)+1)
	for k, v := range e.metadata {
		newMeta[k] = v
	}
	newMeta[key] = value

	return &BaseError{
		domain:    e.domain,
		code:      e.code,
		message:   e.message,
		cause:     e.cause,
		metadata:  newMeta,
		timestamp: e.timestamp,
	}
}

// NewBaseError creates a new BaseError with the specified parameters.
func NewBaseError(domain, code, message string, cause error, metadata map[string]any) *BaseError {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &BaseError{
		domain:    domain,
		code:      code,
		message:   message,
		cause:     cause,
		metadata:  metadata,
		timestamp: time.Now(),
	}
}

// Standardized error codes.
const (
	// Auth domain
	ErrCodeAuthFailed   = "auth_failed"
	ErrCodeUserDisabled = "user_disabled"
	ErrCodeTokenInvalid = "token_invalid"
	ErrCodeTokenExpired = "token_expired"

	// Access control domain
	ErrCodeNotMember       = "not_member"
	ErrCodeProfileNotFound = "profile_not_found"

	// Connection domain
	ErrCodeCapacityDisabled    = "capacity_disabled"
	ErrCodeProtocolNegotiation = "protocol_negotiation"
	ErrCodeIPPoolExhausted     = "ip_pool_exhausted"
	ErrCodeConnectionNotFound  = "connection_not_found"

	// Node domain
	ErrCodeNodeUnreachable = "node_unreachable"
	ErrCodeNodeRejected    = "node_rejected"

	// System
	ErrCodeDatabase   = "database_error"
	ErrCodeValidation = "validation_error"
	ErrCodeInternal   = "internal_error"
)

// NewAuthError creates an error in the auth domain. Credential failures
// must never carry backend detail in the message; the cause stays log-only.
func NewAuthError(code, message string, cause error) DomainError {
	return NewBaseError("auth", code, message, cause, nil)
}

// NewAccessError creates an error in the access-control domain.
func NewAccessError(code, message string, cause error) DomainError {
	return NewBaseError("access", code, message, cause, nil)
}

// NewConnectionError creates an error in the connection domain.
func NewConnectionError(code, message string, cause error) DomainError {
	return NewBaseError("connection", code, message, cause, nil)
}

// NewNodeError creates an error in the node-gateway domain.
func NewNodeError(code, message string, cause error) DomainError {
	return NewBaseError("node", code, message, cause, nil)
}

// NewDatabaseError creates a database error.
func NewDatabaseError(message string, cause error) DomainError {
	return NewBaseError("db", ErrCodeDatabase, message, cause, nil)
}

// NewValidationError creates an input validation error for a specific field.
func NewValidationError(field, message string) DomainError {
	return NewBaseError("validation", ErrCodeValidation, message, nil, map[string]any{
		"field": field,
	})
}

// CodeOf extracts the stable error code from an error chain, falling back to
// internal_error for plain errors.
func CodeOf(err error) string {
	var domainErr DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code()
	}
	return ErrCodeInternal
}

// Is reports whether any error in err's chain carries the given code.
func Is(err error, code string) bool {
	var domainErr DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code() == code
	}
	return false
}
