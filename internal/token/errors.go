package token

import (
	"fmt"
)

// Error represents a structured error from the token package.
type Error interface {
	error
	Code() ErrorCode
	Unwrap() error
}

type ErrorCode string

const (
	// ErrCodeInvalid indicates a malformed token or transaction (missing fields, non-canonical values).
	ErrCodeInvalid ErrorCode = "INVALID"

	// ErrCodeSignature indicates that a vendor or provider signature is missing or does not verify.
	ErrCodeSignature ErrorCode = "BSIG"

	// ErrCodeNotEquivalent indicates that a revised token is not a legal successor of the agreed token.
	ErrCodeNotEquivalent ErrorCode = "NEQV"

	// ErrCodeNonRecurring indicates a refresh of a one-off transaction.
	ErrCodeNonRecurring ErrorCode = "NREC"

	// ErrCodeAlreadySigned indicates a countersign of a token that already carries a provider signature.
	ErrCodeAlreadySigned ErrorCode = "SIGNED"

	// ErrCodeInternal indicates internal processing failures.
	ErrCodeInternal ErrorCode = "INT"
)

var (
	ErrNonRecurring  = &TokenError{code: ErrCodeNonRecurring, message: "transaction is not recurring"}
	ErrAlreadySigned = &TokenError{code: ErrCodeAlreadySigned, message: "token already carries a provider signature"}
)

// TokenError represents a structured error from the token package.
type TokenError struct {
	// code is the error code
	code ErrorCode

	// message is a human-readable error message
	message string

	// wrapped is the optional underlying error
	wrapped error
}

func (e *TokenError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *TokenError) Code() ErrorCode { return e.code }
func (e *TokenError) Unwrap() error   { return e.wrapped }

// Is reports whether target is a TokenError with the same code,
// so errors.Is(err, ErrNonRecurring) matches any non-recurring error.
func (e *TokenError) Is(target error) bool {
	t, ok := target.(*TokenError)
	return ok && t.code == e.code
}

// NewInvalidError creates an error for a malformed token or transaction.
func NewInvalidError(msg string) error {
	return &TokenError{code: ErrCodeInvalid, message: msg}
}

// WrapInvalidError wraps an existing error as an invalid token error.
func WrapInvalidError(err error, msg string) error {
	return &TokenError{code: ErrCodeInvalid, message: msg, wrapped: err}
}

// NewSignatureError creates a signature error.
// Use this when a vendor or provider signature is absent or fails verification.
func NewSignatureError(msg string) error {
	return &TokenError{code: ErrCodeSignature, message: msg}
}

// WrapSignatureError wraps an existing error as a signature error.
func WrapSignatureError(err error, msg string) error {
	return &TokenError{code: ErrCodeSignature, message: msg, wrapped: err}
}

// NewNotEquivalentError is returned by the refresh and modification checks.
func NewNotEquivalentError(msg string) error {
	return &TokenError{code: ErrCodeNotEquivalent, message: msg}
}

// NewInternalError creates an internal error for unexpected failures.
func NewInternalError(msg string) error {
	return &TokenError{code: ErrCodeInternal, message: msg}
}

// WrapInternalError wraps an existing error as an internal error.
func WrapInternalError(err error, msg string) error {
	return &TokenError{code: ErrCodeInternal, message: msg, wrapped: err}
}
