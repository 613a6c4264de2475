/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package errors

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinel errors
var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create an entity that already exists
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrConditionFailed is returned when a conditional write fails
	ErrConditionFailed = errors.New("condition check failed")

	// ErrNoIndexMap is returned when no declared index set is found for a type
	ErrNoIndexMap = errors.New("no index map found for type")

	// ErrResultLimitExceeded is returned when a query would return more items than allowed
	ErrResultLimitExceeded = errors.New("result limit exceeded")

	// ErrLockConflict is returned when an entity lease is held by someone else
	ErrLockConflict = errors.New("entity is locked")

	// ErrInitialization is returned when first-time collection setup fails
	ErrInitialization = errors.New("collection initialization failed")

	// ErrDisconnected is returned by writes on a buffer disconnected from its store
	ErrDisconnected = errors.New("buffer is disconnected from the store")

	// ErrScopeClosed is returned when a lock scope is completed twice
	ErrScopeClosed = errors.New("lock scope already closed")
)

// NotFoundError represents an error when an entity is not found
type NotFoundError struct {
	Type string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with key %q not found", e.Type, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// AlreadyExistsError represents an error when an entity already exists
type AlreadyExistsError struct {
	Type string
	Key  string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s with key %q already exists", e.Type, e.Key)
}

func (e *AlreadyExistsError) Is(target error) bool {
	return target == ErrAlreadyExists
}

// ValidationError represents an input validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// ConditionFailedError represents a failed conditional operation
type ConditionFailedError struct {
	Operation string
	Condition string
}

func (e *ConditionFailedError) Error() string {
	return fmt.Sprintf("condition check failed for %s operation: %s", e.Operation, e.Condition)
}

func (e *ConditionFailedError) Is(target error) bool {
	return target == ErrConditionFailed
}

// ResultLimitExceededError is raised when a read would materialize more than Limit items.
type ResultLimitExceededError struct {
	Collection string
	Limit      int
}

func (e *ResultLimitExceededError) Error() string {
	return fmt.Sprintf("query on %s returned more than the result limit of %d items", e.Collection, e.Limit)
}

func (e *ResultLimitExceededError) Is(target error) bool {
	return target == ErrResultLimitExceeded
}

// LockConflictError is raised when a lease cannot be acquired or was lost.
type LockConflictError struct {
	Collection string
	Key        string
	Holder     string
	ExpiresAt  time.Time
}

func (e *LockConflictError) Error() string {
	if e.Holder == "" {
		return fmt.Sprintf("%s with key %q is locked", e.Collection, e.Key)
	}
	return fmt.Sprintf("%s with key %q is locked by %q until %s",
		e.Collection, e.Key, e.Holder, e.ExpiresAt.Format(time.RFC3339Nano))
}

func (e *LockConflictError) Is(target error) bool {
	return target == ErrLockConflict
}

// InitializationError wraps the failure of a first-time setup step.
type InitializationError struct {
	Collection string
	Step       string
	Err        error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialization of %s failed at %s: %v", e.Collection, e.Step, e.Err)
}

func (e *InitializationError) Is(target error) bool {
	return target == ErrInitialization
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// Helper functions for creating errors

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(entityType, key string) error {
	return &NotFoundError{Type: entityType, Key: key}
}

// NewAlreadyExistsError creates a new AlreadyExistsError
func NewAlreadyExistsError(entityType, key string) error {
	return &AlreadyExistsError{Type: entityType, Key: key}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NewConditionFailedError creates a new ConditionFailedError
func NewConditionFailedError(operation, condition string) error {
	return &ConditionFailedError{Operation: operation, Condition: condition}
}

// NewResultLimitExceededError creates a new ResultLimitExceededError
func NewResultLimitExceededError(collection string, limit int) error {
	return &ResultLimitExceededError{Collection: collection, Limit: limit}
}

// NewLockConflictError creates a new LockConflictError
func NewLockConflictError(collection, key, holder string, expiresAt time.Time) error {
	return &LockConflictError{Collection: collection, Key: key, Holder: holder, ExpiresAt: expiresAt}
}

// NewInitializationError creates a new InitializationError
func NewInitializationError(collection, step string, err error) error {
	return &InitializationError{Collection: collection, Step: step, Err: err}
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsConditionFailed checks if an error is a condition failed error
func IsConditionFailed(err error) bool {
	return errors.Is(err, ErrConditionFailed)
}

// IsResultLimitExceeded checks if an error is a result limit error
func IsResultLimitExceeded(err error) bool {
	return errors.Is(err, ErrResultLimitExceeded)
}

// IsLockConflict checks if an error is a lock conflict
func IsLockConflict(err error) bool {
	return errors.Is(err, ErrLockConflict)
}

// IsInitializationError checks if an error is an initialization failure
func IsInitializationError(err error) bool {
	return errors.Is(err, ErrInitialization)
}
