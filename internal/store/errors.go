package store

import "fmt"

// Error represents a structured error from the store package.
type Error interface {
	error
	Code() ErrorCode
	Unwrap() error
}

type ErrorCode string

const (
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	ErrCodeExists   ErrorCode = "EXISTS"
	ErrCodeBackend  ErrorCode = "BACKEND"
)

var (
	// ErrNotFound is returned when a record, row or waiter does not exist
	ErrNotFound = &StoreError{code: ErrCodeNotFound, message: "not found"}

	// ErrExists is returned by Insert when the key is already taken
	ErrExists = &StoreError{code: ErrCodeExists, message: "already exists"}
)

// StoreError represents a structured error from the store package.
type StoreError struct {
	code    ErrorCode
	message string
	wrapped error
}

func (e *StoreError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *StoreError) Code() ErrorCode { return e.code }
func (e *StoreError) Unwrap() error   { return e.wrapped }

// Is matches on the error code, so a wrapped not found error satisfies errors.Is(err, ErrNotFound)
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	return ok && t.code == e.code
}

// NewNotFoundError creates a not found error naming the missing key
func NewNotFoundError(key string) error {
	return &StoreError{code: ErrCodeNotFound, message: fmt.Sprintf("%s not found", key)}
}

// WrapBackendError wraps a failure of the underlying database
func WrapBackendError(err error, msg string) error {
	return &StoreError{code: ErrCodeBackend, message: msg, wrapped: err}
}
