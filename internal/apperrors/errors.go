// Package apperrors defines the error taxonomy shared by repositories, services
// and handlers, and renders it as HTTP responses in exactly one place.
//
// Lower layers return these errors (or wrap them with fmt.Errorf and %w); only
// Respond decides status codes and bodies. Bodies never echo the underlying
// cause, so a 404 for a missing row is indistinguishable from a 404 for a row
// in another tenant.
package apperrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned for absent rows and for rows outside the caller's tenant.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is the generic authorization denial.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials is the single message used for every failed login.
	ErrInvalidCredentials = &AuthenticationError{Message: "invalid credentials"}
	// ErrAuthenticationRequired is returned when no credential was presented.
	ErrAuthenticationRequired = &AuthenticationError{Message: "authentication required"}
	// ErrAccountNotActive is returned when a valid token belongs to a suspended,
	// pending, expired or deleted account.
	ErrAccountNotActive = &AuthorizationError{Message: "account not active"}
)

// AuthenticationError means the caller could not be identified (HTTP 401).
// Reason is for logs only.
type AuthenticationError struct {
	Message string
	Reason  string
}

func (e *AuthenticationError) Error() string {
	if e.Reason != "" {
		return e.Message + ": " + e.Reason
	}
	return e.Message
}

// AuthorizationError means the caller is known but not allowed (HTTP 403).
type AuthorizationError struct {
	Message string
	Reason  string
}

func (e *AuthorizationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "forbidden"
	}
	if e.Reason != "" {
		return msg + ": " + e.Reason
	}
	return msg
}

// Is makes errors.Is(err, ErrForbidden) true for every AuthorizationError.
func (e *AuthorizationError) Is(target error) bool {
	return target == ErrForbidden
}

// Forbidden returns an AuthorizationError with a log-only reason.
func Forbidden(reason string) error {
	return &AuthorizationError{Reason: reason}
}

// NotFoundError names the resource that was not found. It matches ErrNotFound.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found"
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound returns a NotFoundError for resource.
func NotFound(resource string) error {
	return &NotFoundError{Resource: resource}
}

// ConflictError is returned when a uniqueness constraint rejects a write (HTTP 409).
type ConflictError struct {
	Resource string
	// Constraint is the violated database constraint, for logs only
	Constraint string
}

func (e *ConflictError) Error() string {
	return e.Resource + " already exists"
}

// ValidationError carries field-level messages (HTTP 422).
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Invalid returns a ValidationError for a single field.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// Add records another field message and returns e for chaining.
func (e *ValidationError) Add(field, message string) *ValidationError {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = message
	return e
}

// OrNil returns nil when no field messages were recorded.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
