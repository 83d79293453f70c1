// Package errors provides the typed error taxonomy for the ratify engine.
// Every failure the engine reports maps onto one Code so that callers
// (the HTTP layer, the CLI, batch results) can render state-specific
// affordances without parsing error text.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Sentinel errors, one per taxonomy class.
var (
	// ErrNotFound indicates that a requested proposal or entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates an operation on a proposal whose status forbids it.
	ErrInvalidState = errors.New("invalid state")

	// ErrStale indicates a proposal's captured before-state no longer matches canonical state.
	ErrStale = errors.New("stale")

	// ErrConflict indicates a proposal overlaps another pending proposal.
	ErrConflict = errors.New("conflict")

	// ErrStoreUnavailable indicates the knowledge store did not acknowledge a write.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrValidationFailed indicates rejected change or proposal content.
	ErrValidationFailed = errors.New("validation failed")

	// ErrCanceled indicates that an operation was canceled before it started writing.
	ErrCanceled = errors.New("operation canceled")
)

// Code is a machine-readable error class.
type Code string

// Error codes.
const (
	CodeNotFound         Code = "NOT_FOUND"
	CodeInvalidState     Code = "INVALID_STATE"
	CodeStale            Code = "STALE"
	CodeConflict         Code = "CONFLICT"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeCanceled         Code = "CANCELED"
	CodeInternal         Code = "INTERNAL_ERROR"
)

// CodeOf classifies err. A nil error has an empty code.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrStale):
		return CodeStale
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrStoreUnavailable):
		return CodeStoreUnavailable
	case errors.Is(err, ErrValidationFailed):
		return CodeValidationFailed
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	default:
		return CodeInternal
	}
}

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// InvalidStateError is returned when a proposal's status forbids an operation.
type InvalidStateError struct {
	ProposalID string
	Status     string
	Operation  string
}

// Error implements the error interface
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s proposal %s in status %s", e.Operation, e.ProposalID, e.Status)
}

// Is implements errors.Is support
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// NewInvalidStateError creates a new InvalidStateError
func NewInvalidStateError(proposalID, status, operation string) *InvalidStateError {
	return &InvalidStateError{ProposalID: proposalID, Status: status, Operation: operation}
}

// StaleError carries the proposal's stale reason.
type StaleError struct {
	ProposalID string
	Reason     string
}

// Error implements the error interface
func (e *StaleError) Error() string {
	return fmt.Sprintf("proposal %s is stale: %s", e.ProposalID, e.Reason)
}

// Is implements errors.Is support
func (e *StaleError) Is(target error) bool {
	return target == ErrStale
}

// NewStaleError creates a new StaleError
func NewStaleError(proposalID, reason string) *StaleError {
	return &StaleError{ProposalID: proposalID, Reason: reason}
}

// ConflictError names the pending proposals that block an apply.
type ConflictError struct {
	ProposalID     string
	ConflictingIDs []string
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	return fmt.Sprintf("proposal %s conflicts with pending proposals: %s",
		e.ProposalID, strings.Join(e.ConflictingIDs, ", "))
}

// Is implements errors.Is support
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// NewConflictError creates a new ConflictError
func NewConflictError(proposalID string, conflictingIDs []string) *ConflictError {
	return &ConflictError{ProposalID: proposalID, ConflictingIDs: conflictingIDs}
}

// StoreUnavailableError wraps a knowledge store, ledger, or repository failure.
type StoreUnavailableError struct {
	Operation string // "get", "commit", "append", "save"
	Ref       string
	Err       error
}

// Error implements the error interface
func (e *StoreUnavailableError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("store unavailable during %s of %s: %v", e.Operation, e.Ref, e.Err)
	}
	return fmt.Sprintf("store unavailable during %s: %v", e.Operation, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *StoreUnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// NewStoreUnavailableError creates a new StoreUnavailableError
func NewStoreUnavailableError(operation, ref string, err error) *StoreUnavailableError {
	return &StoreUnavailableError{Operation: operation, Ref: ref, Err: err}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{Component: component, Message: message, Err: err}
}

// ParseError represents an error when parsing payload files.
type ParseError struct {
	Format  string // "json" or "yaml"
	File    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("parse error in %s file %s: %s", e.Format, e.File, e.Message)
	}
	return fmt.Sprintf("%s parse error: %s", e.Format, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is treats malformed payloads as validation failures.
func (e *ParseError) Is(target error) bool {
	return target == ErrValidationFailed
}

// IOError represents an error during I/O operations
type IOError struct {
	Operation string // "read", "write", "open", "close"
	Path      string
	Err       error
}

// Error implements the error interface
func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("IO error during %s of %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("IO error during %s: %v", e.Operation, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *IOError) Unwrap() error {
	return e.Err
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidState checks if an error is an invalid state error
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsStale checks if an error is a staleness error
func IsStale(err error) bool {
	return errors.Is(err, ErrStale)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsStoreUnavailable checks if an error is a store availability error
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidationFailed)
}

// IsCanceled checks if an error is a cancellation error
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// Helper wrapping functions for common patterns

// WrapValidation wraps an error as a ValidationError
func WrapValidation(field string, err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Field: field, Message: err.Error()}
}

// WrapIO wraps an error as an IOError
func WrapIO(operation, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Operation: operation, Path: path, Err: err}
}

// WrapParse wraps an error as a ParseError
func WrapParse(format, file string, err error) error {
	if err == nil {
		return nil
	}
	return &ParseError{Format: format, File: file, Message: err.Error(), Err: err}
}

// WrapStore wraps a backend failure as StoreUnavailable unless it already
// carries a taxonomy class.
func WrapStore(operation, ref string, err error) error {
	if err == nil {
		return nil
	}
	switch CodeOf(err) {
	case CodeInternal, CodeCanceled:
		return NewStoreUnavailableError(operation, ref, err)
	default:
		return err
	}
}
