package stp

// errors.go defines the three error categories surfaced by the protocol:
//   - ProtocolError: an explicit rejection ({success:false, error_code, error_message}), terminal for the exchange
//   - TransportError: the peer could not be reached or answered with a non-2xx status
//   - ValidationError: a malformed inbound message, answered with a generic 400
//
// ServerError covers local failures that are not part of the exchange (internal errors, rate limits, oversize requests).

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine readable code carried in a protocol rejection
type ErrorCode string

const (
	CodeUserDeclined        ErrorCode = "USER_DECLINED"
	CodeIncorrectPIN        ErrorCode = "INCORRECT_PIN"
	CodeIncorrectSignature  ErrorCode = "INCORRECT_SIGNATURE"
	CodeIDNotFound          ErrorCode = "ID_NOT_FOUND"
	CodeIncorrectToken      ErrorCode = "INCORRECT_TOKEN"
	CodeIncorrectTokenSign  ErrorCode = "INCORRECT_TOKEN_SIGN"
	CodeAuthFailed          ErrorCode = "AUTH_FAILED"
	CodeUnknownRevisionVerb ErrorCode = "UNKNOWN_REVISION_VERB"
	CodeNonRecurring        ErrorCode = "NON_RECURRING"
	CodeInvalidSignature    ErrorCode = "INVALID_SIGNATURE"

	// CodeStaleSequence is returned for a revision whose sequence number was already applied with a different challenge
	CodeStaleSequence ErrorCode = "STALE_SEQUENCE"

	// CodeRevisionInProgress is returned when another exchange holds the transaction for longer than the lock wait
	CodeRevisionInProgress ErrorCode = "REVISION_IN_PROGRESS"

	// CodeModificationNotFound is returned when there is no pending modification to resolve
	CodeModificationNotFound ErrorCode = "MODIFICATION_NOT_FOUND"
)

// sentinels for errors.Is - matching is by code
var (
	ErrUserDeclined         = &ProtocolError{code: CodeUserDeclined}
	ErrIncorrectPIN         = &ProtocolError{code: CodeIncorrectPIN}
	ErrIncorrectSignature   = &ProtocolError{code: CodeIncorrectSignature}
	ErrIDNotFound           = &ProtocolError{code: CodeIDNotFound}
	ErrIncorrectToken       = &ProtocolError{code: CodeIncorrectToken}
	ErrIncorrectTokenSign   = &ProtocolError{code: CodeIncorrectTokenSign}
	ErrAuthFailed           = &ProtocolError{code: CodeAuthFailed}
	ErrUnknownRevisionVerb  = &ProtocolError{code: CodeUnknownRevisionVerb}
	ErrNonRecurring         = &ProtocolError{code: CodeNonRecurring}
	ErrInvalidSignature     = &ProtocolError{code: CodeInvalidSignature}
	ErrStaleSequence        = &ProtocolError{code: CodeStaleSequence}
	ErrRevisionInProgress   = &ProtocolError{code: CodeRevisionInProgress}
	ErrModificationNotFound = &ProtocolError{code: CodeModificationNotFound}

	// ErrTimeout matches a TransportError caused by the peer not answering within PEER_TIMEOUT
	ErrTimeout = errors.New("peer request timed out")
)

// ProtocolError is an explicit rejection of a protocol step
type ProtocolError struct {
	code    ErrorCode
	message string
	wrapped error
}

func (e *ProtocolError) Error() string {
	msg := string(e.code)
	if e.message != "" {
		msg = fmt.Sprintf("%s: %s", e.code, e.message)
	}
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", msg, e.wrapped)
	}
	return msg
}

func (e *ProtocolError) Code() ErrorCode { return e.code }
func (e *ProtocolError) Message() string { return e.message }
func (e *ProtocolError) Unwrap() error   { return e.wrapped }

func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	return ok && t.code == e.code
}

// Rejection returns the wire form of the error
func (e *ProtocolError) Rejection() Rejection {
	msg := e.message
	if msg == "" {
		msg = string(e.code)
	}
	return Rejection{Success: false, ErrorCode: e.code, ErrorMessage: msg}
}

func NewProtocolError(code ErrorCode, msg string) error {
	return &ProtocolError{code: code, message: msg}
}

// WrapProtocolError keeps the underlying cause for server-side logs.
// Only msg is sent to the peer.
func WrapProtocolError(err error, code ErrorCode, msg string) error {
	return &ProtocolError{code: code, message: msg, wrapped: err}
}

// TransportError is a failed HTTP exchange with the peer.
// The JSON form is the one reported to admin callers.
type TransportError struct {
	StatusCode int    `json:"HTTP_error_code"`
	Message    string `json:"HTTP_error_msg"`

	timeout bool
	wrapped error
}

func (e *TransportError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("transport error (%d) %s: %v", e.StatusCode, e.Message, e.wrapped)
	}
	return fmt.Sprintf("transport error (%d) %s", e.StatusCode, e.Message)
}

func (e *TransportError) Unwrap() error { return e.wrapped }

func (e *TransportError) Is(target error) bool {
	return target == ErrTimeout && e.timeout
}

// Timeout reports whether the peer did not answer in time
func (e *TransportError) Timeout() bool { return e.timeout }

// lostReply reports whether err is a connection failure or timeout, where the peer may have
// applied the message without us seeing its answer
func lostReply(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr) && transportErr.wrapped != nil
}

// NewStatusError is used when the peer answered with a non-2xx status
func NewStatusError(statusCode int, msg string) error {
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return &TransportError{StatusCode: statusCode, Message: msg}
}

// WrapConnectionError is used when no response was received
func WrapConnectionError(err error, msg string) error {
	return &TransportError{StatusCode: http.StatusBadGateway, Message: msg, wrapped: err}
}

func WrapTimeoutError(err error, msg string) error {
	return &TransportError{StatusCode: http.StatusGatewayTimeout, Message: msg, timeout: true, wrapped: err}
}

// ValidationError is a malformed or incomplete message
type ValidationError struct {
	message string
	wrapped error
}

func (e *ValidationError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *ValidationError) Unwrap() error { return e.wrapped }

func NewValidationError(msg string) error {
	return &ValidationError{message: msg}
}

func WrapValidationError(err error, msg string) error {
	return &ValidationError{message: msg, wrapped: err}
}

// ServerErrorCode classifies local failures
type ServerErrorCode string

const (
	ServerErrCodeInternal        ServerErrorCode = "INTERNAL_ERROR"
	ServerErrCodeRateLimit       ServerErrorCode = "RATE_LIMIT_EXCEEDED"
	ServerErrCodeRequestTooLarge ServerErrorCode = "REQUEST_TOO_LARGE"
	ServerErrCodeNotFound        ServerErrorCode = "NOT_FOUND"
)

// ServerError is a local failure unrelated to the peer
type ServerError struct {
	code    ServerErrorCode
	message string
	wrapped error
}

func (e *ServerError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *ServerError) Code() ServerErrorCode { return e.code }
func (e *ServerError) Unwrap() error         { return e.wrapped }

func NewInternalError(msg string) error {
	return &ServerError{code: ServerErrCodeInternal, message: msg}
}

func WrapInternalError(err error, msg string) error {
	return &ServerError{code: ServerErrCodeInternal, message: msg, wrapped: err}
}

func NewRateLimitError(msg string) error {
	return &ServerError{code: ServerErrCodeRateLimit, message: msg}
}

func NewRequestTooLargeError(msg string) error {
	return &ServerError{code: ServerErrCodeRequestTooLarge, message: msg}
}

func NewNotFoundError(msg string) error {
	return &ServerError{code: ServerErrCodeNotFound, message: msg}
}
