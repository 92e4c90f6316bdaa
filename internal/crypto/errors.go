package crypto

import "fmt"

// Error represents a structured error from the crypto package
type Error interface {
	error
	Code() ErrorCode
	Unwrap() error
}

type ErrorCode string

const (
	// bad input: missing fields, bad encoding, unsupported algorithms
	ErrCodeValidation ErrorCode = "validation"

	// a signature, url_signature or challenge response did not verify
	ErrCodeInvalidSignature ErrorCode = "invalid_signature"

	// keys could not be loaded, parsed, encoded or found
	ErrCodeKeyManagement ErrorCode = "key_management"

	// revision ciphertext did not open with the derived key material
	ErrCodeDecryption ErrorCode = "decryption"

	ErrCodeInternal ErrorCode = "internal"
)

// CryptoError carries an ErrorCode, a message and optionally the underlying error
type CryptoError struct {
	code    ErrorCode
	message string
	wrapped error
}

func (e *CryptoError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *CryptoError) Code() ErrorCode { return e.code }
func (e *CryptoError) Unwrap() error   { return e.wrapped }

func newError(code ErrorCode, err error, msg string) error {
	return &CryptoError{code: code, message: msg, wrapped: err}
}

func NewValidationError(msg string) error { return newError(ErrCodeValidation, nil, msg) }

func WrapValidationError(err error, msg string) error {
	return newError(ErrCodeValidation, err, msg)
}

func NewSignatureError(msg string) error { return newError(ErrCodeInvalidSignature, nil, msg) }

func WrapSignatureError(err error, msg string) error {
	return newError(ErrCodeInvalidSignature, err, msg)
}

func NewKeyManagementError(msg string) error { return newError(ErrCodeKeyManagement, nil, msg) }

func WrapKeyManagementError(err error, msg string) error {
	return newError(ErrCodeKeyManagement, err, msg)
}

// NewDecryptionError reports a revision ciphertext that did not authenticate, which is what
// happens when it was sealed under a different token.
func NewDecryptionError(msg string) error { return newError(ErrCodeDecryption, nil, msg) }

func WrapDecryptionError(err error, msg string) error {
	return newError(ErrCodeDecryption, err, msg)
}

func NewInternalError(msg string) error { return newError(ErrCodeInternal, nil, msg) }

func WrapInternalError(err error, msg string) error {
	return newError(ErrCodeInternal, err, msg)
}
